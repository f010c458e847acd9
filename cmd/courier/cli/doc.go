// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the courier command tree: a small command
// framework over pflag, persistent session files, and the login,
// logout, whoami, send, and tail subcommands.
package cli
