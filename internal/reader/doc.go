// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package reader implements the merged read path of spec.md §4.3: a
// point-lookup probe across the L0 cache and every level, and a
// k-way range fold across the cache and per-level lazy pointers with
// SQN-dominance resolution. It is shared by the live penciller (over
// its current cache/manifest) and by snapshots (over a frozen clone),
// grounded on the teacher's merging_iter.go k-way heap merge, adapted
// from pebble's heap-of-iterators to the spec's simpler front-element
// scan since a penciller level holds at most a handful of files.
package reader
