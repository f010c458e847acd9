// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StreamState is the lifecycle state of a SyncStream.
type StreamState int

const (
	// StreamIdle means no poll has been issued since construction or
	// the last Resume.
	StreamIdle StreamState = iota
	// StreamPolling means a Next call is in flight.
	StreamPolling
	// StreamAdvanced means the last poll succeeded and the cursor
	// moved to its next_batch.
	StreamAdvanced
	// StreamCancelled is terminal: Cancel was called. Any in-flight
	// poll is abandoned and its result discarded.
	StreamCancelled
	// StreamFailed means the last poll failed. The stream refuses
	// further polls until Resume repositions it.
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamPolling:
		return "polling"
	case StreamAdvanced:
		return "advanced"
	case StreamCancelled:
		return "cancelled"
	case StreamFailed:
		return "failed"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

// ErrStreamCancelled is returned by Next and Resume after Cancel.
// Cancellation is terminal.
var ErrStreamCancelled = errors.New("messaging: sync stream cancelled")

// ErrStreamFailed is returned by Next while the stream is halted on a
// failed poll. Call Resume with a cursor to continue.
var ErrStreamFailed = errors.New("messaging: sync stream failed; resume required")

// ErrStreamBusy is returned by Next when another poll is already in
// flight. The stream issues at most one sync request at a time.
var ErrStreamBusy = errors.New("messaging: sync poll already in flight")

// StreamOptions configures a SyncStream.
type StreamOptions struct {
	// Since is the initial cursor. Empty requests an initial sync.
	Since string

	// Timeout is the server-side long-poll hold time. The server
	// returns early when events arrive; the stream imposes no shorter
	// client-side deadline. Zero means immediate return.
	Timeout time.Duration

	// Filter is a filter ID or inline JSON filter applied to each poll.
	Filter string

	// SetPresence, when non-empty, is sent as the set_presence
	// parameter ("online", "unavailable", "offline").
	SetPresence string

	// RetryLimit is the number of consecutive transport failures a
	// single Next call absorbs before surfacing the error. Zero (the
	// default) disables retries: the first failure halts the stream.
	// Only transport errors are retried; protocol errors always halt.
	RetryLimit int

	// RetryInterval is the pause between retry attempts. Defaults to
	// one second when RetryLimit is set.
	RetryInterval time.Duration
}

// SyncStream drives the /sync long-poll endpoint as an explicit state
// machine. Each Next call sends the carried cursor as the since
// parameter; on success the cursor is replaced by the response's
// next_batch, so consecutive polls chain without gaps or overlap.
//
// A failed poll leaves the cursor untouched and halts the stream until
// Resume repositions it — the caller decides whether to re-poll the
// same window or skip ahead. Cancel is terminal: it aborts any
// in-flight poll and discards the poll's eventual result, so a
// response that raced with cancellation never advances the cursor.
//
// SyncStream is safe for concurrent use, but issues at most one poll
// at a time: a Next call while another is in flight fails with
// ErrStreamBusy.
type SyncStream struct {
	client *Client
	opts   StreamOptions

	// lifetime is cancelled by Cancel; an AfterFunc propagates that
	// into any in-flight request context.
	lifetime       context.Context
	cancelLifetime context.CancelFunc

	mu      sync.Mutex
	state   StreamState
	since   string
	lastErr error
}

// NewStream creates a SyncStream positioned at opts.Since.
func (c *Client) NewStream(opts StreamOptions) *SyncStream {
	if opts.RetryLimit > 0 && opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &SyncStream{
		client:         c,
		opts:           opts,
		lifetime:       lifetime,
		cancelLifetime: cancel,
		state:          StreamIdle,
		since:          opts.Since,
	}
}

// State returns the current stream state.
func (s *SyncStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Since returns the current cursor. Empty means the next poll is an
// initial sync.
func (s *SyncStream) Since() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// Err returns the error that halted the stream, or nil.
func (s *SyncStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Next issues one /sync poll and, on success, advances the cursor to
// the response's next_batch. Blocks for up to the long-poll timeout
// (server side) or until ctx is cancelled. On failure the cursor is
// unchanged and the stream enters StreamFailed; Cancel during the poll
// discards the result and returns ErrStreamCancelled.
func (s *SyncStream) Next(ctx context.Context) (*SyncResponse, error) {
	s.mu.Lock()
	switch s.state {
	case StreamCancelled:
		s.mu.Unlock()
		return nil, ErrStreamCancelled
	case StreamFailed:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, s.lastErr)
	case StreamPolling:
		s.mu.Unlock()
		return nil, ErrStreamBusy
	}
	s.state = StreamPolling
	since := s.since
	s.mu.Unlock()

	response, err := s.poll(ctx, since)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel may have fired while the poll was in flight — even if the
	// poll completed. The cancelled state wins and the result is
	// discarded, so the cursor never advances past a Cancel.
	if s.lifetime.Err() != nil {
		s.state = StreamCancelled
		return nil, ErrStreamCancelled
	}

	if err != nil {
		s.state = StreamFailed
		s.lastErr = err
		return nil, err
	}

	s.since = response.NextBatch
	s.state = StreamAdvanced
	return response, nil
}

// poll performs the sync call, retrying transport failures up to the
// configured RetryLimit. The request context is cancelled when either
// the caller's ctx or the stream lifetime ends.
func (s *SyncStream) poll(ctx context.Context, since string) (*SyncResponse, error) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()
	stop := context.AfterFunc(s.lifetime, cancelReq)
	defer stop()

	options := SyncOptions{
		Since:       since,
		SetTimeout:  true,
		Timeout:     int(s.opts.Timeout / time.Millisecond),
		Filter:      s.opts.Filter,
		SetPresence: s.opts.SetPresence,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		response, err := s.client.Sync(reqCtx, options)
		if err == nil {
			return response, nil
		}
		lastErr = err

		var transportErr *TransportError
		if !errors.As(err, &transportErr) || attempt >= s.opts.RetryLimit {
			return nil, lastErr
		}
		if reqCtx.Err() != nil {
			return nil, lastErr
		}

		// Poisoned pooled connections cause repeated failures; force
		// fresh sockets before the retry.
		s.client.CloseIdleConnections()
		s.client.logger.Debug("sync poll error, retrying",
			"attempt", attempt+1,
			"retry_limit", s.opts.RetryLimit,
			"error", err,
		)

		timer := time.NewTimer(s.opts.RetryInterval)
		select {
		case <-reqCtx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
}

// Cancel terminates the stream. Any in-flight poll is aborted; a poll
// that completed while Cancel raced it has its result discarded.
// Subsequent Next and Resume calls return ErrStreamCancelled.
// Idempotent.
func (s *SyncStream) Cancel() {
	s.mu.Lock()
	s.state = StreamCancelled
	s.mu.Unlock()
	s.cancelLifetime()
}

// Resume repositions a halted stream at the given cursor and returns
// it to StreamIdle. An empty cursor restarts from an initial sync.
// Resume on a cancelled stream fails; resume while a poll is in flight
// fails with ErrStreamBusy.
func (s *SyncStream) Resume(cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamCancelled:
		return ErrStreamCancelled
	case StreamPolling:
		return ErrStreamBusy
	}
	s.since = cursor
	s.state = StreamIdle
	s.lastErr = nil
	return nil
}
