// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/courierhq/courier/lib/secret"
	"github.com/courierhq/courier/messaging"
)

// LoginCommand returns the "login" command. It performs a Matrix
// password login, verifies the session via WhoAmI, and saves the
// result to the well-known session file. Subsequent commands (whoami,
// send, tail) load that session transparently.
func LoginCommand() *Command {
	var homeserverURL string
	var passwordFile string

	return &Command{
		Name:    "login",
		Summary: "Authenticate against a Matrix homeserver",
		Description: `Log in to a Matrix homeserver and save the session locally.

After login, commands like "courier send" and "courier tail" use the
saved session transparently — no flags needed. The session file is
stored at ~/.config/courier/session.json (or $COURIER_SESSION_FILE if
set) with mode 0600, since it contains an access token.

The password can be provided via --password-file (a path to a file
containing the password, or "-" for stdin) or prompted interactively
when the flag is omitted.`,
		Usage: "courier login <username> [flags]",
		Examples: []Example{
			{
				Description: "Log in interactively (prompts for password)",
				Command:     "courier login amy --homeserver https://matrix.example.org",
			},
			{
				Description: "Log in with password from file",
				Command:     "courier login amy --homeserver https://matrix.example.org --password-file /path/to/password",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("login", pflag.ContinueOnError)
			flagSet.StringVar(&homeserverURL, "homeserver", "", "Matrix homeserver URL (required)")
			flagSet.StringVar(&passwordFile, "password-file", "", "path to file containing the password, or - for stdin (default: prompt)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("username is required\n\nUsage: courier login <username> [flags]")
			}
			username := args[0]
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			if homeserverURL == "" {
				return fmt.Errorf("--homeserver is required")
			}

			passwordBuffer, err := readLoginPassword(passwordFile)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer passwordBuffer.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, err := messaging.NewClient(messaging.ClientConfig{
				HomeserverURL: homeserverURL,
				Logger:        newLogger(),
			})
			if err != nil {
				return fmt.Errorf("create matrix client: %w", err)
			}
			defer client.Close()

			session, err := client.Login(ctx, username, passwordBuffer)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			// Verify the session works before saving.
			userID, err := client.WhoAmI(ctx)
			if err != nil {
				return fmt.Errorf("session verification failed: %w", err)
			}

			stored := &StoredSession{
				UserID:      userID.String(),
				DeviceID:    session.DeviceID,
				AccessToken: client.AccessToken(),
				Homeserver:  homeserverURL,
			}
			if err := SaveSession(stored); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Logged in as %s\n", userID)
			fmt.Fprintf(os.Stderr, "Session saved to %s\n", SessionFilePath())
			return nil
		},
	}
}

// readLoginPassword reads a password for the login command. An empty
// path prompts interactively on the terminal with echo disabled; "-"
// reads from stdin; anything else is a file path.
func readLoginPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}

	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return nil, fmt.Errorf("no terminal available for interactive password prompt (use --password-file)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}
