// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"time"
)

// WhoAmICommand returns the "whoami" command: validate the stored
// session against the homeserver and print the authenticated user ID.
func WhoAmICommand() *Command {
	return &Command{
		Name:    "whoami",
		Summary: "Show the authenticated user",
		Description: `Ask the homeserver which user the stored session belongs to.
This validates that the saved access token is still live.`,
		Usage: "courier whoami",
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			client, err := Connect()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			userID, err := client.WhoAmI(ctx)
			if err != nil {
				return err
			}
			fmt.Println(userID)
			return nil
		},
	}
}
