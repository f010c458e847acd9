// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive byte strings — passwords and Matrix
// access tokens — in memory that the rest of the process cannot leak
// by accident.
//
// [Buffer] allocates its backing store outside the Go heap with
// mmap(MAP_ANONYMOUS), pins it into physical RAM with mlock so it
// never reaches swap, and excludes it from core dumps with
// madvise(MADV_DONTDUMP). The garbage collector never sees the region,
// so it cannot copy or relocate the secret. Close zeroes the contents
// before unmapping, and any access after Close panics.
//
// Constructors: [New] (zero-filled region of a given size),
// [NewFromBytes] (copies in and zeroes the source slice),
// [NewFromString], and [ReadFromPath] (file or stdin, whitespace
// trimmed). [Zero] wipes a transient heap slice in place.
//
// Buffer.String returns a heap copy — Go strings are immutable heap
// values — so call it only at API boundaries that require a string,
// such as setting an Authorization header.
package secret
