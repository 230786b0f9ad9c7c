// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cache implements the L0 cache and its admission state
// machine (spec.md §4.2): the append-only, newest-first staging
// buffer of pushed batches, its merged hash-position index, and the
// idle/flushing/l0_resident transition logic that decides when the
// cache has saturated enough to trigger an asynchronous L0 build.
// Grounded on the teacher's mem_table.go (an immutable, ref-counted,
// sequence-numbered batch of writes) adapted from pebble's
// single-memtable model to the spec's multi-batch, hash-gated one.
package cache
