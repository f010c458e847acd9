// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/courierhq/courier/lib/ref"
	"github.com/courierhq/courier/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a Matrix client. It holds the homeserver URL, the HTTP
// transport, and the current session state. A freshly constructed
// Client is unauthenticated; Login, Register, or RestoreSession install
// credentials and Logout clears them.
//
// Session state is guarded by a mutex: dispatch takes a consistent
// snapshot of the credentials at the start of each request, so a
// concurrent Logout never tears the token out from under an in-flight
// call. Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	transactionCounter atomic.Int64
}

// Session is a snapshot of the client's authenticated identity.
type Session struct {
	UserID   ref.UserID
	DeviceID string
}

// NewClient creates a new unauthenticated Matrix client. Fails with
// ErrInvalidHomeserver when the URL is missing, unparsable, or not
// an absolute http/https URL.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHomeserver)
	}

	// Validate the URL structure. We store the string form (with trailing
	// slash stripped) and build request URLs by direct concatenation. This
	// avoids double-encoding issues with Go's url.URL.String(), which
	// re-encodes Path even when RawPath is set if it doesn't consider
	// RawPath a valid encoding of Path.
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHomeserver, config.HomeserverURL, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHomeserver, config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Session returns a snapshot of the authenticated identity. The second
// return is false when the client holds no credentials.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == nil {
		return Session{}, false
	}
	return Session{UserID: c.userID, DeviceID: c.deviceID}, true
}

// AccessToken returns a copy of the current access token, or "" when
// unauthenticated. The copy is an ordinary heap string — use it only at
// persistence boundaries (session files).
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == nil {
		return ""
	}
	return c.accessToken.String()
}

// bearer materializes the Authorization header value from the current
// token under the lock. Returns false when unauthenticated. Copying the
// header here, rather than holding the buffer across the HTTP call,
// keeps an in-flight request valid even if Logout closes the buffer
// mid-request.
func (c *Client) bearer() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == nil {
		return "", false
	}
	return "Bearer " + c.accessToken.String(), true
}

// setSession installs new credentials, releasing any previous token buffer.
func (c *Client) setSession(auth *AuthResponse) error {
	tokenBuffer, err := secret.NewFromString(auth.AccessToken)
	if err != nil {
		return fmt.Errorf("messaging: protecting access token: %w", err)
	}

	c.mu.Lock()
	old := c.accessToken
	c.accessToken = tokenBuffer
	c.userID = auth.UserID
	c.deviceID = auth.DeviceID
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// clearSession drops the credentials and zeroes the token buffer.
func (c *Client) clearSession() {
	c.mu.Lock()
	old := c.accessToken
	c.accessToken = nil
	c.userID = ref.UserID{}
	c.deviceID = ""
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Close releases the protected token memory, if any. The client remains
// usable for unauthenticated operations. Idempotent.
func (c *Client) Close() error {
	c.clearSession()
	return nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// ServerVersions returns the Matrix protocol versions and unstable features
// supported by the homeserver. This is an unauthenticated endpoint — useful
// for checking whether the homeserver is reachable and what it supports.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	return Call[ServerVersionsResponse](ctx, c, Operation{
		Method: http.MethodGet,
		Path:   "/_matrix/client/versions",
	})
}

// Login authenticates with username and password and installs the
// resulting credentials on the client. The password Buffer is read but
// not closed — the caller retains ownership.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer) (Session, error) {
	if username == "" {
		return Session{}, fmt.Errorf("messaging: username is required for login")
	}
	if password == nil {
		return Session{}, fmt.Errorf("messaging: password is required for login")
	}

	// Password is converted to string at the JSON serialization boundary.
	// The heap copy is short-lived — it exists only during the HTTP call.
	auth, err := Call[AuthResponse](ctx, c, Operation{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/login",
		Body: LoginRequest{
			Type:                     "m.login.password",
			User:                     username,
			Password:                 password.String(),
			InitialDeviceDisplayName: "courier",
		},
	})
	if err != nil {
		return Session{}, fmt.Errorf("messaging: login failed: %w", err)
	}

	if err := c.setSession(auth); err != nil {
		return Session{}, err
	}

	c.logger.Info("logged in to matrix",
		"user_id", auth.UserID,
		"device_id", auth.DeviceID,
	)

	return Session{UserID: auth.UserID, DeviceID: auth.DeviceID}, nil
}

// RestoreSession installs previously persisted credentials without
// contacting the homeserver. The token is moved into mmap-backed memory
// (locked against swap, excluded from core dumps). This does NOT
// validate the token — the first API call will fail if it is stale.
func (c *Client) RestoreSession(userID ref.UserID, deviceID, accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("messaging: access token is required to restore a session")
	}
	return c.setSession(&AuthResponse{
		UserID:      userID,
		DeviceID:    deviceID,
		AccessToken: accessToken,
	})
}

// Logout invalidates the current access token on the homeserver and,
// on success only, clears the client's credentials. A failed logout
// leaves the session installed so the caller can retry or inspect.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, Operation{
		Method:       http.MethodPost,
		Path:         "/_matrix/client/v3/logout",
		AuthRequired: true,
		Body:         struct{}{},
	})
	if err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	c.clearSession()
	return nil
}

// LogoutAll invalidates all of the account's access tokens on the
// homeserver (every device), then clears the client's credentials.
func (c *Client) LogoutAll(ctx context.Context) error {
	_, err := c.Do(ctx, Operation{
		Method:       http.MethodPost,
		Path:         "/_matrix/client/v3/logout/all",
		AuthRequired: true,
		Body:         struct{}{},
	})
	if err != nil {
		return fmt.Errorf("messaging: logout all failed: %w", err)
	}
	c.clearSession()
	return nil
}
