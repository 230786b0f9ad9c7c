// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"time"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/sstable"
)

// Entry is a manifest entry: the {start_key, end_key, filename,
// owner} tuple of spec.md §3. Owner is the live file handle used for
// I/O; Filename is what gets persisted. The key range is inclusive on
// both ends.
type Entry struct {
	Start    base.Key
	End      base.Key
	Filename string
	Owner    *sstable.Handle
}

// contains reports whether key falls within the entry's inclusive
// range, using cmp for comparison.
func (e Entry) contains(cmp *base.Comparer, key base.Key) bool {
	return cmp.Compare(key, e.Start) >= 0 && cmp.Compare(key, e.End) <= 0
}

// overlaps reports whether the entry's range intersects [start, end].
func (e Entry) overlaps(cmp *base.Comparer, start, end base.Key) bool {
	return cmp.Compare(e.Start, end) <= 0 && cmp.Compare(e.End, start) >= 0
}

// SnapshotReg is one row of the snapshots registry (spec.md §3):
// (holder_id, observed_manifest_sqn, deadline).
type SnapshotReg struct {
	Holder      string
	ObservedSQN uint64
	Deadline    time.Time
}
