// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// LogoutCommand returns the "logout" command: invalidate the stored
// access token on the homeserver and delete the session file.
func LogoutCommand() *Command {
	var allDevices bool

	return &Command{
		Name:    "logout",
		Summary: "Invalidate the stored session",
		Description: `Invalidate the saved access token on the homeserver and delete
the local session file. With --all, every device's token for the
account is invalidated, not just this one.

The session file is only removed after the homeserver confirms the
token is dead — a failed logout leaves the file in place for retry.`,
		Usage: "courier logout [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logout", pflag.ContinueOnError)
			flagSet.BoolVar(&allDevices, "all", false, "invalidate tokens for all of the account's devices")
			return flagSet
		},
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

			if allDevices {
				err = client.LogoutAll(ctx)
			} else {
				err = client.Logout(ctx)
			}
			if err != nil {
				return err
			}

			if err := RemoveSession(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Logged out")
			return nil
		},
	}
}
