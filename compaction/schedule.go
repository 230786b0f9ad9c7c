// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compaction

import "github.com/project-fifo/leveled/internal/manifest"

// Decision is the scheduler's verdict on whether, and how urgently,
// the compactor should be given work (spec.md §4.4 step 1).
type Decision struct {
	// HasWork is false when excess_count == 0.
	HasWork bool
	// Level is the first overflowing level, dispatched to the worker.
	Level int
	// Backlog is set when excess_count exceeds
	// WORKQUEUE_BACKLOG_TOLERANCE — the penciller uses this to gate
	// future pushes until the backlog clears.
	Backlog bool
	// ExcessCount is the total excess across every overflowing level,
	// reported for metrics and tests.
	ExcessCount int
}

// Schedule evaluates the manifest's level sizes against their targets
// and decides what to dispatch, mirroring spec.md §4.4:
//
//	excess_count == 0                          -> no work
//	excess_count <= tolerance                  -> dispatch first overflow level
//	excess_count >  tolerance                   -> dispatch AND raise backlog
func Schedule(m *manifest.Manifest, tolerance int) Decision {
	overLevels, excess := m.CheckForWork()
	if excess == 0 {
		return Decision{HasWork: false}
	}
	d := Decision{HasWork: true, Level: overLevels[0], ExcessCount: excess}
	if excess > tolerance {
		d.Backlog = true
	}
	return d
}
