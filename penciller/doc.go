// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package penciller implements the single-writer server of spec.md
// §4.5: the actor that owns the cache, the manifest and the
// compactor, and serializes every mutating operation behind one
// mutex. Grounded on the teacher's pebble.DB (open/close lifecycle,
// mutex-guarded mutable state) generalized from pebble's many
// concurrent writers to the spec's single-writer actor model, with
// the L0 writer and compactor worker kept as independent goroutines
// that talk back to the server only through its methods —
// mirroring spec.md §5's "no locks, only message passing" between
// actors, realized in Go as a mutex-guarded struct plus goroutines
// that call back in rather than reach into state directly.
package penciller
