// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courierhq/courier/lib/ref"
)

// SyncFilter configures what events a RoomWatcher receives from /sync.
// The watched room is always included automatically — callers never
// need to specify the room ID in the filter.
//
// A nil *SyncFilter means "all events from the watched room" (state,
// timeline, and ephemeral). This is the common case for room watchers
// in tests and production code that need to observe all activity.
type SyncFilter struct {
	// TimelineTypes restricts timeline events to these Matrix event types
	// (e.g., "m.room.message"). An empty slice means all timeline types.
	TimelineTypes []string `json:"timeline_types,omitempty"`

	// TimelineLimit caps the number of timeline events per /sync response.
	// Zero means no explicit limit (server default).
	TimelineLimit int `json:"timeline_limit,omitempty"`

	// ExcludeState suppresses state events from the /sync response.
	// When true, only timeline events matching TimelineTypes are returned.
	ExcludeState bool `json:"exclude_state,omitempty"`
}

// buildInlineFilter constructs the inline JSON filter string for /sync.
// The filter always scopes to the given room. Additional restrictions
// from the SyncFilter (event types, limits, state suppression) are
// merged in.
func buildInlineFilter(roomID ref.RoomID, filter *SyncFilter) string {
	roomFilter := map[string]any{
		"rooms": []string{roomID.String()},
	}

	if filter != nil {
		if len(filter.TimelineTypes) > 0 {
			timeline := map[string]any{"types": filter.TimelineTypes}
			if filter.TimelineLimit > 0 {
				timeline["limit"] = filter.TimelineLimit
			}
			roomFilter["timeline"] = timeline
		} else if filter.TimelineLimit > 0 {
			roomFilter["timeline"] = map[string]any{"limit": filter.TimelineLimit}
		}

		if filter.ExcludeState {
			roomFilter["state"] = map[string]any{"types": []string{}}
		}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}

// watcherRetryLimit is the number of consecutive /sync transport
// failures a watcher's stream absorbs before WaitForEvent fails.
const watcherRetryLimit = 5

// watcherLongPoll is the server-side long-poll hold time for watcher
// streams. The server returns immediately when new events arrive.
// 30 seconds matches the Matrix client-server spec recommendation.
const watcherLongPoll = 30 * time.Second

// RoomWatcher captures a position in the Matrix /sync stream for a
// specific room. Create one with WatchRoom BEFORE triggering the action
// that generates the expected event, then call WaitForEvent to receive
// events arriving after the checkpoint.
//
// All waiting uses /sync long-polling via a SyncStream: the server
// holds the connection until new events arrive, then returns
// immediately. There is no client-side polling interval.
//
// RoomWatcher is not safe for concurrent use by multiple goroutines.
// For fan-out, create multiple independent watchers — each carries its
// own stream and cursor on the same Client. This works because /sync
// is stateless: the since token travels as a query parameter, not
// server-side session state.
type RoomWatcher struct {
	stream  *SyncStream
	roomID  ref.RoomID
	pending []Event // events received but not yet consumed
}

// WatchRoom captures the current position in the Matrix /sync stream.
// The returned RoomWatcher only sees events arriving after this call.
//
// This performs an immediate /sync (timeout=0) to obtain the current
// next_batch token without blocking, then anchors a long-poll stream
// at that cursor. The /sync filter is always scoped to the watched
// room. Pass nil for the filter to receive all event types (state +
// timeline); pass a SyncFilter to restrict event types or suppress
// state events.
func WatchRoom(ctx context.Context, client *Client, roomID ref.RoomID, filter *SyncFilter) (*RoomWatcher, error) {
	if roomID.IsZero() {
		return nil, fmt.Errorf("messaging: WatchRoom requires a non-zero room ID")
	}
	inlineFilter := buildInlineFilter(roomID, filter)
	response, err := client.Sync(ctx, SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     inlineFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: initial sync for room watch: %w", err)
	}
	return &RoomWatcher{
		stream: client.NewStream(StreamOptions{
			Since:      response.NextBatch,
			Timeout:    watcherLongPoll,
			Filter:     inlineFilter,
			RetryLimit: watcherRetryLimit,
		}),
		roomID: roomID,
	}, nil
}

// WaitForEvent blocks until an event matching the predicate arrives in
// the watched room. Events are buffered: when a /sync response
// delivers multiple events, all are stored in pending. The predicate
// scans pending events before issuing a new poll, so events are never
// dropped when multiple matching events arrive in the same batch.
//
// Bounded by ctx. Transient transport failures are absorbed by the
// stream's retry budget; once exhausted the error surfaces here and
// the watcher is dead.
func (w *RoomWatcher) WaitForEvent(ctx context.Context, predicate func(Event) bool) (Event, error) {
	// Scan any events already pending from previous WaitForEvent calls
	// before entering the sync loop. This handles the case where a prior
	// sync delivered multiple matching events — the first WaitForEvent
	// consumed one, and this call must find the other.
	for i, event := range w.pending {
		if predicate(event) {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return event, nil
		}
	}

	for {
		response, err := w.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, fmt.Errorf("context cancelled waiting for event in room %s: %w", w.roomID, ctx.Err())
			}
			return Event{}, fmt.Errorf("sync failed waiting for event in room %s: %w", w.roomID, err)
		}

		joined, ok := response.Rooms.Join[w.roomID]
		if !ok {
			// The server returned events for other rooms but not the
			// watched room. This happens frequently when the user is
			// in many active rooms: /sync returns as soon as ANY room
			// has activity, but the filter only includes this room's
			// data. No new events to scan — continue polling.
			continue
		}

		if len(joined.State.Events) == 0 && len(joined.Timeline.Events) == 0 {
			continue
		}

		// Append new events to pending and scan the entire buffer.
		// State events come before timeline events to match the
		// delivery order from the Matrix server.
		w.pending = append(w.pending, joined.State.Events...)
		w.pending = append(w.pending, joined.Timeline.Events...)

		for i, event := range w.pending {
			if predicate(event) {
				w.pending = append(w.pending[:i], w.pending[i+1:]...)
				return event, nil
			}
		}
	}
}

// Close cancels the watcher's stream. Pending events remain readable
// by the caller through WaitForEvent scans until the next poll.
func (w *RoomWatcher) Close() {
	w.stream.Cancel()
}

// SyncPosition returns the current sync stream position token.
func (w *RoomWatcher) SyncPosition() string {
	return w.stream.Since()
}

// RoomID returns the room being watched.
func (w *RoomWatcher) RoomID() ref.RoomID {
	return w.roomID
}
