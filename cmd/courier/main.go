// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Command courier is a Matrix client for the command line: log in,
// send messages, and follow the sync stream.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/courierhq/courier/cmd/courier/cli"
)

func main() {
	root := &cli.Command{
		Name:    "courier",
		Summary: "Matrix client for the command line",
		Description: `Courier talks to a Matrix homeserver over the client-server API.
Log in once to persist a session, then send messages and follow
the sync stream from any shell.`,
		Subcommands: []*cli.Command{
			cli.LoginCommand(),
			cli.LogoutCommand(),
			cli.WhoAmICommand(),
			cli.SendCommand(),
			cli.TailCommand(),
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}
