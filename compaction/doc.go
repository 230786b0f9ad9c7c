// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compaction implements the compactor client of spec.md §4.4:
// a single background worker attached to each penciller that asks
// for work, merges overlapping files down a level, and posts the
// resulting manifest change back. Grounded on the teacher's
// compaction.go (the merge/rewrite mechanics) and compaction_picker.go
// (deciding which level needs attention), adapted from pebble's
// multi-worker, priority-heap scheduler to the spec's single-worker,
// random-victim model.
package compaction
