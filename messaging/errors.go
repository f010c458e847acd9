// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// ErrInvalidHomeserver is returned by NewClient when the homeserver URL
// is missing, unparsable, or lacks an http/https scheme and host.
var ErrInvalidHomeserver = errors.New("messaging: invalid homeserver URL")

// ErrUnauthenticated is returned when an operation that requires
// authentication is dispatched on a client with no access token. No
// network call is made.
var ErrUnauthenticated = errors.New("messaging: operation requires authentication")

// TransportError wraps a connection-level failure: the request never
// produced an HTTP response, or the response body could not be read.
// The homeserver may or may not have processed the request.
type TransportError struct {
	// Method and Path identify the attempted operation.
	Method string
	Path   string
	// Err is the underlying transport failure.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messaging: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers can use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_UNKNOWN_TOKEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// MalformedResponseError reports a response body that could not be
// decoded: a non-2xx status whose body is not the Matrix error shape,
// or a 2xx body that fails to unmarshal into the expected type.
type MalformedResponseError struct {
	// Method and Path identify the operation that produced the response.
	Method string
	Path   string
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Body is the raw response body, for diagnostics.
	Body []byte
	// Err is the decode failure, when one exists.
	Err error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("messaging: malformed %d response from %s %s: %v",
			e.StatusCode, e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("messaging: malformed %d response from %s %s: %s",
		e.StatusCode, e.Method, e.Path, string(e.Body))
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeUserInUse     = "M_USER_IN_USE"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeExclusive     = "M_EXCLUSIVE"
	ErrCodeRoomInUse     = "M_ROOM_IN_USE"
	ErrCodeGuestDenied   = "M_GUEST_ACCESS_FORBIDDEN"
)

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}
