// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/courierhq/courier/lib/ref"
)

func TestDo_Unauthenticated(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writeJSON(writer, map[string]any{})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Do(context.Background(), Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected zero network calls, got %d", calls.Load())
	}
}

func TestDo_MatrixError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"bad token"}`))
	}))

	_, err := client.Do(context.Background(), Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("expected *MatrixError, got %T: %v", err, err)
	}
	if matrixErr.Code != ErrCodeUnknownToken {
		t.Errorf("unexpected code: %s", matrixErr.Code)
	}
	if matrixErr.Message != "bad token" {
		t.Errorf("unexpected message: %s", matrixErr.Message)
	}
	if matrixErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", matrixErr.StatusCode)
	}
	if !IsMatrixError(err, ErrCodeUnknownToken) {
		t.Error("IsMatrixError must match the code")
	}
}

func TestDo_MalformedErrorBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte(`<html>upstream exploded</html>`))
	}))

	_, err := client.Do(context.Background(), Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/sync",
		AuthRequired: true,
	})

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedResponseError, got %T: %v", err, err)
	}
	if malformed.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected status: %d", malformed.StatusCode)
	}
}

func TestDo_TransportError(t *testing.T) {
	// A server that is immediately closed produces connection refused.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serverURL := server.URL
	server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: serverURL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	userID := ref.MustParseUserID("@test:local")
	if err := client.RestoreSession(userID, "DEV1", "test-token"); err != nil {
		t.Fatalf("RestoreSession failed: %v", err)
	}
	defer client.Close()

	_, err = client.Do(context.Background(), Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}

	// Dispatch failures never touch the session.
	session, ok := client.Session()
	if !ok {
		t.Fatal("session must survive a transport failure")
	}
	if session.UserID != userID {
		t.Errorf("unexpected user ID after failure: %s", session.UserID)
	}
	if client.AccessToken() != "test-token" {
		t.Error("token must survive a transport failure")
	}
}

func TestCall_DecodesResponse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, WhoAmIResponse{
			UserID:   ref.MustParseUserID("@amy:example.org"),
			DeviceID: "DEV5",
		})
	}))

	response, err := Call[WhoAmIResponse](context.Background(), client, Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if response.UserID.String() != "@amy:example.org" {
		t.Errorf("unexpected user ID: %s", response.UserID)
	}
	if response.DeviceID != "DEV5" {
		t.Errorf("unexpected device ID: %s", response.DeviceID)
	}
}

func TestCall_MalformedSuccessBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`this is not json`))
	}))

	_, err := Call[WhoAmIResponse](context.Background(), client, Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedResponseError, got %T: %v", err, err)
	}
	if malformed.Err == nil {
		t.Error("expected the decode failure to be preserved")
	}
	if malformed.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, want %d", malformed.StatusCode, http.StatusOK)
	}
}

func TestCall_MalformedBodyReportsActualStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusCreated)
		writer.Write([]byte(`this is not json`))
	}))

	_, err := Call[SendEventResponse](context.Background(), client, Operation{
		Method:       http.MethodPost,
		Path:         "/_matrix/client/v3/createRoom",
		AuthRequired: true,
		Body:         CreateRoomRequest{},
	})

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedResponseError, got %T: %v", err, err)
	}
	if malformed.StatusCode != http.StatusCreated {
		t.Errorf("status code = %d, want %d", malformed.StatusCode, http.StatusCreated)
	}
}

func TestDo_QueryEncoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.URL.Query().Get("since"); got != "s/42?a" {
			t.Errorf("unexpected since parameter: %q", got)
		}
		writeJSON(writer, map[string]any{})
	}))

	query := url.Values{}
	query.Set("since", "s/42?a")
	if _, err := client.Do(context.Background(), Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/sync",
		Query:        query,
		AuthRequired: true,
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
}
