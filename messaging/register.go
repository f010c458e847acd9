// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Register creates a new account using token-authenticated registration
// (MSC3231) and installs the resulting credentials on the client.
//
// The registration flow uses the User-Interactive Authentication API (UIAA):
//   - First request returns 401 with available flows.
//   - Second request includes the auth stage with the registration token.
func (c *Client) Register(ctx context.Context, request RegisterRequest) (Session, error) {
	if request.Username == "" {
		return Session{}, fmt.Errorf("messaging: username is required for registration")
	}
	if request.Password == nil {
		return Session{}, fmt.Errorf("messaging: password is required for registration")
	}
	if request.RegistrationToken == nil {
		return Session{}, fmt.Errorf("messaging: registration token is required")
	}

	// Matrix registration uses the UIAA flow. First attempt without auth
	// to get the session ID, then complete with the registration token.
	//
	// Password is converted to string at the JSON serialization boundary.
	// The heap copy is short-lived — it exists only during the HTTP call.
	firstAttempt := map[string]any{
		"username": request.Username,
		"password": request.Password.String(),
	}
	body, err := c.Do(ctx, Operation{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/register",
		Body:   firstAttempt,
	})
	if err == nil {
		// Registration succeeded without UIAA (unlikely but possible if
		// the server has no auth requirements).
		return c.installAuthBody(body)
	}

	// Expect 401 with a UIAA session.
	if !isUnauthorizedUIAA(err) {
		return Session{}, fmt.Errorf("messaging: registration failed: %w", err)
	}

	// Extract the session ID from the 401 response.
	// The body is returned alongside the error by Do.
	sessionID, err := extractUIAASession(body)
	if err != nil {
		return Session{}, err
	}

	// Complete registration with the token auth stage.
	completeRequest := map[string]any{
		"username": request.Username,
		"password": request.Password.String(),
		"auth": map[string]any{
			"type":    "m.login.registration_token",
			"token":   request.RegistrationToken.String(),
			"session": sessionID,
		},
	}
	body, err = c.Do(ctx, Operation{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/register",
		Body:   completeRequest,
	})
	if err != nil {
		return Session{}, fmt.Errorf("messaging: registration failed: %w", err)
	}

	session, err := c.installAuthBody(body)
	if err != nil {
		return Session{}, err
	}

	c.logger.Info("registered matrix account",
		"user_id", session.UserID,
		"device_id", session.DeviceID,
	)
	return session, nil
}

// RegisterUser creates a regular account on servers with open
// registration (kind=user, m.login.dummy auth stage) and installs the
// resulting credentials. The password Buffer is read but not closed.
func (c *Client) RegisterUser(ctx context.Context, request RegisterRequest) (Session, error) {
	if request.Password == nil {
		return Session{}, fmt.Errorf("messaging: password is required for registration")
	}
	return c.registerKind(ctx, "user", map[string]any{
		"username": request.Username,
		"password": request.Password.String(),
		"auth":     map[string]any{"type": "m.login.dummy"},
	})
}

// RegisterGuest creates a guest account (kind=guest). Guest accounts
// have no username or password; the homeserver assigns the identity.
func (c *Client) RegisterGuest(ctx context.Context) (Session, error) {
	return c.registerKind(ctx, "guest", map[string]any{})
}

func (c *Client) registerKind(ctx context.Context, kind string, requestBody map[string]any) (Session, error) {
	query := url.Values{}
	query.Set("kind", kind)

	body, err := c.Do(ctx, Operation{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/register",
		Query:  query,
		Body:   requestBody,
	})
	if err != nil {
		return Session{}, fmt.Errorf("messaging: %s registration failed: %w", kind, err)
	}

	session, err := c.installAuthBody(body)
	if err != nil {
		return Session{}, err
	}

	c.logger.Info("registered matrix account",
		"kind", kind,
		"user_id", session.UserID,
	)
	return session, nil
}

// installAuthBody parses an auth response body and installs the session.
func (c *Client) installAuthBody(body []byte) (Session, error) {
	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return Session{}, fmt.Errorf("messaging: failed to parse auth response: %w", err)
	}
	if err := c.setSession(&auth); err != nil {
		return Session{}, err
	}
	return Session{UserID: auth.UserID, DeviceID: auth.DeviceID}, nil
}

// isUnauthorizedUIAA checks if an error is a 401 from the UIAA flow.
// This is the expected response when registration requires authentication stages.
func isUnauthorizedUIAA(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.StatusCode == http.StatusUnauthorized
}

// extractUIAASession extracts the session ID from a UIAA 401 response.
// The 401 response body is returned alongside the error by Do.
func extractUIAASession(body []byte) (string, error) {
	// The UIAA 401 response has a "session" field at the top level.
	var uiaaResponse struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(body, &uiaaResponse); err != nil {
		return "", fmt.Errorf("messaging: failed to parse UIAA response: %w", err)
	}
	if uiaaResponse.Session == "" {
		return "", fmt.Errorf("messaging: UIAA response missing session ID")
	}
	return uiaaResponse.Session, nil
}
