// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"io"
	"net/url"
	"strings"
)

// Operation describes a single Matrix API request: what to send, where,
// and whether it needs credentials. Operations are plain values — they
// carry no transport state and can be constructed, inspected, and
// dispatched independently of any Client.
type Operation struct {
	// Method is the HTTP method (http.MethodGet, http.MethodPut, ...).
	Method string

	// Path is the URL path, with each variable segment already
	// percent-escaped. Use apiPath to build it. Must begin with "/".
	Path string

	// Query holds optional query parameters. Nil means none.
	Query url.Values

	// AuthRequired marks operations that must carry an access token.
	// Dispatching an auth-required operation on an unauthenticated
	// client fails with ErrUnauthenticated before any network call.
	AuthRequired bool

	// Body is an optional value JSON-encoded as the request body.
	// Mutually exclusive with RawBody.
	Body any

	// RawBody streams the request body verbatim (media upload).
	// ContentType must be set when RawBody is.
	RawBody     io.Reader
	ContentType string
}

// apiPath joins path segments under a fixed prefix, percent-escaping
// each variable segment. The prefix is used as-is:
//
//	apiPath("/_matrix/client/v3/rooms", roomID, "invite")
func apiPath(prefix string, segments ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}
