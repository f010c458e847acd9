// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestSyncStream_CursorChaining(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		n := calls.Add(1)
		since := request.URL.Query().Get("since")

		// Poll i must carry the next_batch of poll i-1.
		switch n {
		case 1:
			if since != "" {
				t.Errorf("first poll must be an initial sync, got since=%q", since)
			}
		default:
			expected := fmt.Sprintf("s%d", n-1)
			if since != expected {
				t.Errorf("poll %d: got since=%q, want %q", n, since, expected)
			}
		}
		writeJSON(writer, SyncResponse{NextBatch: fmt.Sprintf("s%d", n)})
	}))

	stream := client.NewStream(StreamOptions{})
	defer stream.Cancel()

	if stream.State() != StreamIdle {
		t.Fatalf("fresh stream must be idle, got %s", stream.State())
	}

	for i := 1; i <= 5; i++ {
		response, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("poll %d failed: %v", i, err)
		}
		expected := fmt.Sprintf("s%d", i)
		if response.NextBatch != expected {
			t.Errorf("poll %d: got next_batch %q, want %q", i, response.NextBatch, expected)
		}
		if stream.Since() != expected {
			t.Errorf("poll %d: cursor is %q, want %q", i, stream.Since(), expected)
		}
		if stream.State() != StreamAdvanced {
			t.Errorf("poll %d: state is %s, want advanced", i, stream.State())
		}
	}
}

func TestSyncStream_InitialCursor(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, SyncResponse{NextBatch: "s1"})
	}))

	stream := client.NewStream(StreamOptions{})
	defer stream.Cancel()

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if stream.Since() != "s1" {
		t.Errorf("cursor after first poll: got %q, want %q", stream.Since(), "s1")
	}
}

func TestSyncStream_ResumesFromOption(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if since := request.URL.Query().Get("since"); since != "s77" {
			t.Errorf("got since=%q, want s77", since)
		}
		writeJSON(writer, SyncResponse{NextBatch: "s78"})
	}))

	stream := client.NewStream(StreamOptions{Since: "s77"})
	defer stream.Cancel()

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
}

func TestSyncStream_FailureHaltsUntilResume(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		if fail.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(writer, map[string]string{"errcode": "M_UNKNOWN", "error": "overloaded"})
			return
		}
		writeJSON(writer, SyncResponse{NextBatch: "s1"})
	}))

	stream := client.NewStream(StreamOptions{})
	defer stream.Cancel()

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}

	fail.Store(true)
	if _, err := stream.Next(context.Background()); err == nil {
		t.Fatal("expected poll failure")
	}
	if stream.State() != StreamFailed {
		t.Fatalf("state after failure: got %s, want failed", stream.State())
	}
	if stream.Since() != "s1" {
		t.Errorf("failed poll must not move the cursor: got %q", stream.Since())
	}

	// Halted: further polls are refused without touching the network.
	before := calls.Load()
	_, err := stream.Next(context.Background())
	if !errors.Is(err, ErrStreamFailed) {
		t.Fatalf("expected ErrStreamFailed, got %v", err)
	}
	if calls.Load() != before {
		t.Error("halted stream must not issue network calls")
	}

	// Resume repositions and re-enables polling.
	fail.Store(false)
	if err := stream.Resume("s1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if stream.State() != StreamIdle {
		t.Errorf("state after resume: got %s, want idle", stream.State())
	}
	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("poll after resume failed: %v", err)
	}
}

func TestSyncStream_CancelDiscardsInFlightResult(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		// Hold the long poll until the test cancels the stream, then
		// answer successfully. The completed response must still be
		// discarded.
		<-release
		writeJSON(writer, SyncResponse{NextBatch: "s99"})
	}))

	stream := client.NewStream(StreamOptions{Since: "s1", Timeout: 30 * time.Second})

	result := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		result <- err
	}()

	// Wait for the poll to reach the server, then cancel mid-flight.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	stream.Cancel()
	close(release)

	err := <-result
	if !errors.Is(err, ErrStreamCancelled) {
		t.Fatalf("expected ErrStreamCancelled, got %v", err)
	}
	if stream.State() != StreamCancelled {
		t.Fatalf("state after cancel: got %s, want cancelled", stream.State())
	}
	if stream.Since() != "s1" {
		t.Errorf("cancelled poll must not advance the cursor: got %q", stream.Since())
	}

	// Cancellation is terminal: no further polls, no network.
	before := calls.Load()
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamCancelled) {
		t.Fatalf("expected ErrStreamCancelled on re-poll, got %v", err)
	}
	if err := stream.Resume("s1"); !errors.Is(err, ErrStreamCancelled) {
		t.Fatalf("expected ErrStreamCancelled on resume, got %v", err)
	}
	if calls.Load() != before {
		t.Error("cancelled stream must not issue network calls")
	}
}

func TestSyncStream_CallerContextCancellation(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		close(started)
		<-request.Context().Done()
	}))

	stream := client.NewStream(StreamOptions{Timeout: 30 * time.Second})
	defer stream.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := stream.Next(ctx)
		result <- err
	}()

	<-started
	cancel()

	err := <-result
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	// Caller cancellation is a poll failure, not stream cancellation.
	if stream.State() != StreamFailed {
		t.Errorf("state: got %s, want failed", stream.State())
	}
}

func TestSyncStream_RetryLimit(t *testing.T) {
	t.Run("absorbs transport failures up to the limit", func(t *testing.T) {
		var calls atomic.Int64
		client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if calls.Add(1) <= 2 {
				// Kill the connection without a response: a transport
				// error on the client side.
				hijacker, ok := writer.(http.Hijacker)
				if !ok {
					t.Fatal("server does not support hijacking")
				}
				conn, _, err := hijacker.Hijack()
				if err != nil {
					t.Fatalf("hijack failed: %v", err)
				}
				conn.Close()
				return
			}
			writeJSON(writer, SyncResponse{NextBatch: "s1"})
		}))

		stream := client.NewStream(StreamOptions{
			RetryLimit:    3,
			RetryInterval: time.Millisecond,
		})
		defer stream.Cancel()

		response, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed despite retry budget: %v", err)
		}
		if response.NextBatch != "s1" {
			t.Errorf("unexpected next_batch: %s", response.NextBatch)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("does not retry protocol errors", func(t *testing.T) {
		var calls atomic.Int64
		client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			calls.Add(1)
			writer.WriteHeader(http.StatusForbidden)
			writeJSON(writer, map[string]string{"errcode": "M_FORBIDDEN", "error": "nope"})
		}))

		stream := client.NewStream(StreamOptions{
			RetryLimit:    3,
			RetryInterval: time.Millisecond,
		})
		defer stream.Cancel()

		_, err := stream.Next(context.Background())
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Fatalf("expected M_FORBIDDEN, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("protocol errors must not be retried: got %d calls", calls.Load())
		}
	})

	t.Run("default is no retries", func(t *testing.T) {
		var calls atomic.Int64
		client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			calls.Add(1)
			hijacker, ok := writer.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hijacker.Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			conn.Close()
		}))

		stream := client.NewStream(StreamOptions{})
		defer stream.Cancel()

		_, err := stream.Next(context.Background())
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected *TransportError, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected a single attempt, got %d", calls.Load())
		}
		if stream.State() != StreamFailed {
			t.Errorf("state: got %s, want failed", stream.State())
		}
	})
}

func TestStreamState_String(t *testing.T) {
	states := map[StreamState]string{
		StreamIdle:      "idle",
		StreamPolling:   "polling",
		StreamAdvanced:  "advanced",
		StreamCancelled: "cancelled",
		StreamFailed:    "failed",
	}
	for state, expected := range states {
		if state.String() != expected {
			t.Errorf("state %d: got %q, want %q", int(state), state.String(), expected)
		}
	}
}
