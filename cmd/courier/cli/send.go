// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/courierhq/courier/lib/ref"
	"github.com/courierhq/courier/messaging"
)

// SendCommand returns the "send" command: post a text message to a
// room, addressed by room ID or alias.
func SendCommand() *Command {
	return &Command{
		Name:    "send",
		Summary: "Send a text message to a room",
		Description: `Send an m.room.message text event to a room. The room may be given
as a room ID ("!abc:example.org") or an alias ("#ops:example.org");
aliases are resolved through the directory first. The event ID of the
sent message is printed on success.`,
		Usage: "courier send <room> <message...>",
		Examples: []Example{
			{
				Description: "Send to a room by alias",
				Command:     `courier send "#ops:example.org" deploy finished`,
			},
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("room and message are required\n\nUsage: courier send <room> <message...>")
			}
			room := args[0]
			message := strings.Join(args[1:], " ")

			client, err := Connect()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			roomID, err := resolveRoom(ctx, client, room)
			if err != nil {
				return err
			}

			eventID, err := client.SendMessage(ctx, roomID, messaging.NewTextMessage(message))
			if err != nil {
				return err
			}
			fmt.Println(eventID)
			return nil
		},
	}
}

// resolveRoom turns a room ID or alias argument into a RoomID,
// resolving aliases through the directory.
func resolveRoom(ctx context.Context, client *messaging.Client, room string) (ref.RoomID, error) {
	if strings.HasPrefix(room, "#") {
		alias, err := ref.ParseRoomAlias(room)
		if err != nil {
			return ref.RoomID{}, err
		}
		return client.ResolveAlias(ctx, alias)
	}
	return ref.ParseRoomID(room)
}
