// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/courierhq/courier/lib/ref"
)

const roomsPrefix = "/_matrix/client/v3/rooms"

// WhoAmI validates the session and returns the server's view of the
// authenticated user ID.
func (c *Client) WhoAmI(ctx context.Context) (ref.UserID, error) {
	response, err := Call[WhoAmIResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/account/whoami",
		AuthRequired: true,
	})
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	return response.UserID, nil
}

// CreateRoom creates a new Matrix room.
func (c *Client) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	response, err := Call[CreateRoomResponse](ctx, c, Operation{
		Method:       http.MethodPost,
		Path:         "/_matrix/client/v3/createRoom",
		AuthRequired: true,
		Body:         request,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}

	c.logger.Info("created matrix room",
		"room_id", response.RoomID,
		"name", request.Name,
	)
	return response, nil
}

// JoinRoom joins a room by room ID. To join by alias, resolve with
// ResolveAlias first.
func (c *Client) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	response, err := Call[CreateRoomResponse](ctx, c, Operation{
		Method:       http.MethodPost,
		Path:         apiPath("/_matrix/client/v3/join", roomID.String()),
		AuthRequired: true,
		Body:         struct{}{},
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room. The room remains visible in /sync under the
// leave section until the server forgets it.
func (c *Client) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	_, err := c.Do(ctx, Operation{
		Method:       http.MethodPost,
		Path:         apiPath(roomsPrefix, roomID.String(), "leave"),
		AuthRequired: true,
		Body:         struct{}{},
	})
	if err != nil {
		return fmt.Errorf("messaging: leave room %s failed: %w", roomID, err)
	}
	return nil
}

// InviteUser invites a user to a room.
func (c *Client) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	_, err := c.Do(ctx, Operation{
		Method:       http.MethodPost,
		Path:         apiPath(roomsPrefix, roomID.String(), "invite"),
		AuthRequired: true,
		Body:         InviteRequest{UserID: userID},
	})
	if err != nil {
		return fmt.Errorf("messaging: invite %s to %s failed: %w", userID, roomID, err)
	}
	return nil
}

// KickUser removes a user from a room with an optional reason.
func (c *Client) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	_, err := c.Do(ctx, Operation{
		Method:       http.MethodPost,
		Path:         apiPath(roomsPrefix, roomID.String(), "kick"),
		AuthRequired: true,
		Body:         KickRequest{UserID: userID, Reason: reason},
	})
	if err != nil {
		return fmt.Errorf("messaging: kick %s from %s failed: %w", userID, roomID, err)
	}
	return nil
}

// SendMessage sends an m.room.message event to a room. Returns the event ID.
func (c *Client) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	return c.SendEvent(ctx, roomID, ref.EventTypeMessage, content)
}

// SendEvent sends an event of any type to a room via the idempotent
// PUT /send path. A fresh transaction ID is generated per call; the
// homeserver deduplicates retried PUTs carrying the same ID.
func (c *Client) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	transactionID := c.nextTransactionID()
	response, err := Call[SendEventResponse](ctx, c, Operation{
		Method:       http.MethodPut,
		Path:         apiPath(roomsPrefix, roomID.String(), "send", eventType.String(), transactionID),
		AuthRequired: true,
		Body:         content,
	})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send %s to %s failed: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// SendStateEvent sends a state event to a room. Returns the event ID.
func (c *Client) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	response, err := Call[SendEventResponse](ctx, c, Operation{
		Method:       http.MethodPut,
		Path:         apiPath(roomsPrefix, roomID.String(), "state", eventType.String(), stateKey),
		AuthRequired: true,
		Body:         content,
	})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send state %s to %s failed: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// GetStateEvent fetches a specific state event's content from a room.
// Returns the raw JSON content for the caller to unmarshal; see
// GetState for the typed variant.
func (c *Client) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error) {
	body, err := c.Do(ctx, Operation{
		Method:       http.MethodGet,
		Path:         apiPath(roomsPrefix, roomID.String(), "state", eventType.String(), stateKey),
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: get state %s from %s failed: %w", eventType, roomID, err)
	}
	return json.RawMessage(body), nil
}

// GetState fetches a state event's content and decodes it into T.
func GetState[T any](ctx context.Context, c *Client, roomID ref.RoomID, eventType ref.EventType, stateKey string) (*T, error) {
	return Call[T](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath(roomsPrefix, roomID.String(), "state", eventType.String(), stateKey),
		AuthRequired: true,
	})
}

// GetRoomState fetches all current state events from a room.
func (c *Client) GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	body, err := c.Do(ctx, Operation{
		Method:       http.MethodGet,
		Path:         apiPath(roomsPrefix, roomID.String(), "state"),
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %s failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &MalformedResponseError{
			Method:     http.MethodGet,
			Path:       apiPath(roomsPrefix, roomID.String(), "state"),
			StatusCode: http.StatusOK,
			Body:       body,
			Err:        err,
		}
	}
	return events, nil
}

// GetRoomMembers returns the members of a room.
func (c *Client) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	response, err := Call[RoomMembersResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath(roomsPrefix, roomID.String(), "members"),
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: get members of %s failed: %w", roomID, err)
	}

	members := make([]RoomMember, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		userID, err := ref.ParseUserID(event.StateKey)
		if err != nil {
			// Servers occasionally hand back junk state keys on
			// member events; skip rather than fail the whole list.
			continue
		}
		members = append(members, RoomMember{
			UserID:      userID,
			DisplayName: event.Content.DisplayName,
			Membership:  event.Content.Membership,
			AvatarURL:   event.Content.AvatarURL,
		})
	}
	return members, nil
}

// GetDisplayName fetches a user's display name. Returns "" when the
// user has none set.
func (c *Client) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	response, err := Call[DisplayNameResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath("/_matrix/client/v3/profile", userID.String(), "displayname"),
		AuthRequired: true,
	})
	if err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("messaging: get display name for %s failed: %w", userID, err)
	}
	return response.DisplayName, nil
}

// ResolveAlias resolves a room alias to a room ID.
func (c *Client) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	response, err := Call[ResolveAliasResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath("/_matrix/client/v3/directory/room", alias.String()),
		AuthRequired: true,
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %s failed: %w", alias, err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the user has joined.
func (c *Client) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	response, err := Call[JoinedRoomsResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/joined_rooms",
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}
	return response.JoinedRooms, nil
}

// RoomMessages fetches paginated messages from a room.
func (c *Client) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b"
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	response, err := Call[RoomMessagesResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath(roomsPrefix, roomID.String(), "messages"),
		Query:        query,
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %s failed: %w", roomID, err)
	}
	return response, nil
}

// ThreadMessages fetches messages in a thread via the relations endpoint.
func (c *Client) ThreadMessages(ctx context.Context, roomID ref.RoomID, threadRootID ref.EventID, options ThreadMessagesOptions) (*ThreadMessagesResponse, error) {
	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	response, err := Call[ThreadMessagesResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         apiPath("/_matrix/client/v1/rooms", roomID.String(), "relations", threadRootID.String(), "m.thread"),
		Query:        query,
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: thread messages for %s failed: %w", threadRootID, err)
	}
	return response, nil
}

// Sync performs a single /sync call. Use a SyncStream for continuous
// long-polling with cursor management.
func (c *Client) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.SetPresence != "" {
		query.Set("set_presence", options.SetPresence)
	}

	response, err := Call[SyncResponse](ctx, c, Operation{
		Method:       http.MethodGet,
		Path:         "/_matrix/client/v3/sync",
		Query:        query,
		AuthRequired: true,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	return response, nil
}

// UploadMedia uploads raw content to the media repository and returns
// the mxc:// content URI.
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}

	response, err := Call[UploadResponse](ctx, c, Operation{
		Method:       http.MethodPost,
		Path:         "/_matrix/media/v3/upload",
		Query:        query,
		AuthRequired: true,
		RawBody:      content,
		ContentType:  contentType,
	})
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}
	return response.ContentURI, nil
}

// nextTransactionID generates a unique transaction ID for idempotent event sending.
// Format: "courier-<timestamp_ms>-<counter>" to ensure uniqueness across restarts.
func (c *Client) nextTransactionID() string {
	counter := c.transactionCounter.Add(1)
	return fmt.Sprintf("courier-%d-%d", time.Now().UnixMilli(), counter)
}
