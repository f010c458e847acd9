// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/courierhq/courier/lib/config"
	"github.com/courierhq/courier/messaging"
)

// TailCommand returns the "tail" command: follow the sync stream and
// print timeline events as JSON lines on stdout.
func TailCommand() *Command {
	var since string
	var timeout time.Duration
	var retryLimit int
	var retryInterval time.Duration
	var presence string
	var filterFile string
	var configPath string
	var flagSet *pflag.FlagSet

	return &Command{
		Name:    "tail",
		Summary: "Follow the sync stream and print events",
		Description: `Long-poll the homeserver's /sync endpoint and print each timeline
event as a JSON line on stdout. The stream starts from --since when
given, otherwise from an initial sync. Interrupt with Ctrl-C; the
final sync position is printed on stderr so a later run can resume
with --since.

A filter file (--filter-file) holds a /sync filter definition in JSON.
Comments and trailing commas are permitted; the file is normalized
before being sent inline with each poll.

When --config (or COURIER_CONFIG) points at a courier.yaml file, its sync section
supplies defaults for --timeout, --retry-limit, --retry-interval, and
--filter-file. Explicit flags win.`,
		Usage: "courier tail [flags]",
		Examples: []Example{
			{
				Description: "Resume from a saved position with retries",
				Command:     "courier tail --since s72594_4483_1934 --retry-limit 5",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("tail", pflag.ContinueOnError)
			flagSet.StringVar(&since, "since", "", "sync cursor to resume from (default: initial sync)")
			flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "server-side long-poll hold time")
			flagSet.IntVar(&retryLimit, "retry-limit", 0, "consecutive transport failures to absorb per poll (0: halt on first)")
			flagSet.DurationVar(&retryInterval, "retry-interval", time.Second, "pause between retry attempts")
			flagSet.StringVar(&presence, "presence", "", "set_presence value: online, unavailable, or offline")
			flagSet.StringVar(&filterFile, "filter-file", "", "path to a JSON (or JSONC) sync filter definition")
			flagSet.StringVar(&configPath, "config", "", "path to courier.yaml (default: COURIER_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			// A config file supplies sync defaults; explicit flags win.
			if configPath == "" {
				configPath = os.Getenv("COURIER_CONFIG")
			}
			if configPath != "" {
				cfg, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				if !flagSet.Changed("timeout") {
					timeout = cfg.Sync.Timeout
				}
				if !flagSet.Changed("retry-limit") {
					retryLimit = cfg.Sync.RetryLimit
				}
				if !flagSet.Changed("retry-interval") {
					retryInterval = cfg.Sync.RetryInterval
				}
				if !flagSet.Changed("filter-file") {
					filterFile = cfg.Sync.FilterFile
				}
			}

			filter, err := loadFilterFile(filterFile)
			if err != nil {
				return err
			}

			client, err := Connect()
			if err != nil {
				return err
			}
			defer client.Close()

			stream := client.NewStream(messaging.StreamOptions{
				Since:         since,
				Timeout:       timeout,
				Filter:        filter,
				SetPresence:   presence,
				RetryLimit:    retryLimit,
				RetryInterval: retryInterval,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			encoder := json.NewEncoder(os.Stdout)
			for {
				response, err := stream.Next(ctx)
				if err != nil {
					fmt.Fprintf(os.Stderr, "sync position: %s\n", stream.Since())
					if ctx.Err() != nil {
						// Interrupted: a clean stop, not a failure.
						return nil
					}
					if errors.Is(err, messaging.ErrStreamCancelled) {
						return nil
					}
					fmt.Fprintln(os.Stderr, err)
					return &ExitError{Code: 1}
				}

				for roomID, joined := range response.Rooms.Join {
					for _, event := range joined.Timeline.Events {
						event.RoomID = roomID
						if err := encoder.Encode(event); err != nil {
							return fmt.Errorf("writing event: %w", err)
						}
					}
				}
			}
		},
	}
}

// loadFilterFile reads a sync filter definition, accepting JSONC
// (comments, trailing commas) and returning compact JSON suitable for
// the filter query parameter. Empty path means no filter.
func loadFilterFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading filter file: %w", err)
	}

	normalized := jsonc.ToJSON(data)
	if !json.Valid(normalized) {
		return "", fmt.Errorf("filter file %s is not valid JSON", path)
	}

	var compact json.RawMessage
	if err := json.Unmarshal(normalized, &compact); err != nil {
		return "", fmt.Errorf("parsing filter file %s: %w", path, err)
	}
	out, err := json.Marshal(compact)
	if err != nil {
		return "", fmt.Errorf("normalizing filter file %s: %w", path, err)
	}
	return string(out), nil
}
