// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: user IDs, room IDs, room aliases, event IDs, event types,
// and server names.
//
// Identifiers arrive from two directions — caller input (CLI flags,
// config files) and homeserver responses — and both are validated at
// the boundary. Once constructed, a ref is immutable; accessor methods
// return the stored string without re-parsing.
//
// All constructors validate their inputs and return errors for
// malformed identifiers. Each type implements encoding.TextMarshaler
// and encoding.TextUnmarshaler, so JSON decoding of API responses
// (including map keys such as the per-room sections of a /sync
// response) validates automatically.
package ref
