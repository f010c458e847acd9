// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a client runtime for the Matrix client-server API.
//
// The central type is [Client]: it holds the homeserver URL, the HTTP
// transport, and the session state (access token, user ID, device ID).
// A Client starts unauthenticated; Login, Register, or RestoreSession
// install credentials, and Logout clears them. Session state is mutated
// only by those calls — request dispatch reads a consistent snapshot of
// it and never writes back.
//
// Every API call is expressed as an [Operation] value (HTTP method,
// escaped path, query parameters, auth requirement, JSON body) and
// executed by [Client.Do], which performs exactly one transport call
// with no hidden retries. [Call] wraps Do with typed JSON decoding.
// Failures map onto a small taxonomy: [ErrUnauthenticated] when an
// auth-required operation runs without credentials (no network call is
// made), [*TransportError] for connection-level failures,
// [*MatrixError] for structured protocol errors from the homeserver,
// and [*MalformedResponseError] when a response body cannot be decoded.
// [IsMatrixError] tests for a specific Matrix error code.
//
// Incremental sync is driven by [SyncStream], an explicit state machine
// over the /sync long-poll endpoint. Each Next call carries the stream's
// cursor as the since parameter and replaces it with the response's
// next_batch on success. A failed poll halts the stream until the caller
// repositions it with Resume; Cancel is terminal and discards the result
// of any in-flight poll. [RoomWatcher] builds a checkpointed single-room
// event waiter on top of the stream.
//
// Access tokens and passwords live in mmap-backed secret.Buffer memory,
// locked against swap and excluded from core dumps. Request URLs are
// built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters
// (such as room aliases with slashes).
package messaging
