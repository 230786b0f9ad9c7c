// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package snapshot implements the three snapshot registration modes
// of spec.md §4.6: Full and NoLookup both pin a frozen clone of the
// live manifest and cache; Materialized pre-bakes one exact {start,
// end} range so the penciller can release the underlying clone
// immediately. Grounded on the teacher's pebble.Snapshot (sequence-
// number-pinned read view over a shared version) generalized to the
// spec's explicit three-mode registry, since this system has no MVCC
// read path of its own to piggyback on.
package snapshot
