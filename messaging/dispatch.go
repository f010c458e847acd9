// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/courierhq/courier/lib/netutil"
)

// Do dispatches an Operation against the homeserver and returns the raw
// response body. Exactly one transport call is made; there are no
// hidden retries, and dispatch never mutates the client's session state.
//
//   - Auth-required operations on an unauthenticated client fail with
//     ErrUnauthenticated before any network activity.
//   - Connection-level failures return a *TransportError.
//   - Non-2xx responses decode the Matrix error shape into a
//     *MatrixError; the raw body is returned alongside the error so
//     flows that need it (UIAA) can inspect it.
//   - A non-2xx body that is not the Matrix error shape returns a
//     *MalformedResponseError.
func (c *Client) Do(ctx context.Context, op Operation) ([]byte, error) {
	body, _, err := c.do(ctx, op)
	return body, err
}

// do is Do plus the HTTP status code, for callers that need to report
// the status of a response they go on to decode. The status is zero
// when no response was received.
func (c *Client) do(ctx context.Context, op Operation) ([]byte, int, error) {
	var authHeader string
	if op.AuthRequired {
		var ok bool
		authHeader, ok = c.bearer()
		if !ok {
			return nil, 0, ErrUnauthenticated
		}
	}

	requestURL := c.baseURL + op.Path
	if len(op.Query) > 0 {
		requestURL += "?" + op.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case op.Body != nil:
		encoded, err := json.Marshal(op.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	case op.RawBody != nil:
		bodyReader = op.RawBody
		contentType = op.ContentType
	}

	request, err := http.NewRequestWithContext(ctx, op.Method, requestURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if authHeader != "" {
		request.Header.Set("Authorization", authHeader)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, &TransportError{Method: op.Method, Path: op.Path, Err: err}
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, response.StatusCode, &TransportError{
			Method: op.Method,
			Path:   op.Path,
			Err:    fmt.Errorf("reading response body: %w", err),
		}
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, response.StatusCode, nil
	}

	// All Matrix error responses use the same JSON shape. UIAA 401
	// responses decode into an empty-code MatrixError; the flow data
	// rides in the returned body.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, response.StatusCode, &MalformedResponseError{
			Method:     op.Method,
			Path:       op.Path,
			StatusCode: response.StatusCode,
			Body:       responseBody,
			Err:        jsonErr,
		}
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, response.StatusCode, &matrixErr
}

// Call dispatches an Operation and decodes the 2xx response body into
// Response. A 2xx body that fails to unmarshal returns a
// *MalformedResponseError.
func Call[Response any](ctx context.Context, c *Client, op Operation) (*Response, error) {
	body, status, err := c.do(ctx, op)
	if err != nil {
		return nil, err
	}

	var response Response
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &MalformedResponseError{
			Method:     op.Method,
			Path:       op.Path,
			StatusCode: status,
			Body:       body,
			Err:        err,
		}
	}
	return &response, nil
}
