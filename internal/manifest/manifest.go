// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest implements the leveled manifest: the authoritative
// mapping from level to ordered set of SST files (spec.md §4.1). It
// is grounded on the teacher's internal/manifest (Version, level
// ordering) and version_set.go (generation counter, manifest file
// persistence, snapshot-pinned obsolescence), adapted from pebble's
// mutex-guarded, btree-backed multi-version model to the spec's
// simpler single-writer, slice-backed, generation-stamped model.
package manifest

import (
	"math/rand"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
)

// numLevels is L0..L7.
const numLevels = base.MaxLevels + 1

// Manifest is the per-level ordered index of file descriptors, plus
// the generation counter, snapshot registry and pending-delete set
// described in spec.md §3. All mutating operations are pure
// transformations of the receiver: the penciller server is the sole
// mutator (single-writer ownership, spec.md §5), and workers operate
// on a Clone.
type Manifest struct {
	Levels         [numLevels][]Entry
	ManifestSQN    uint64
	Basement       int
	Snapshots      []SnapshotReg
	PendingDeletes map[string]uint64 // filename -> manifest_sqn at which superseded
	MinSnapshotSQN uint64

	cmp *base.Comparer
}

// New returns an empty manifest at generation 0.
func New(cmp *base.Comparer) *Manifest {
	if cmp == nil {
		cmp = base.DefaultComparer
	}
	return &Manifest{
		PendingDeletes: make(map[string]uint64),
		cmp:            cmp,
	}
}

// Clone returns a deep copy of the level structure and registries.
// File handles are shared (ref-counted), not duplicated.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		ManifestSQN:    m.ManifestSQN,
		Basement:       m.Basement,
		MinSnapshotSQN: m.MinSnapshotSQN,
		cmp:            m.cmp,
	}
	for l := range m.Levels {
		if len(m.Levels[l]) > 0 {
			c.Levels[l] = append([]Entry(nil), m.Levels[l]...)
		}
	}
	c.Snapshots = append([]SnapshotReg(nil), m.Snapshots...)
	c.PendingDeletes = make(map[string]uint64, len(m.PendingDeletes))
	for k, v := range m.PendingDeletes {
		c.PendingDeletes[k] = v
	}
	return c
}

// CloneForSnapshot returns the copy a snapshot receives: identical
// levels and generation, but with Snapshots and PendingDeletes
// blanked out, since a snapshot has no right to mutate those global
// fields (spec.md §4.1, "Copy for snapshot").
func (m *Manifest) CloneForSnapshot() *Manifest {
	c := m.Clone()
	c.Snapshots = nil
	c.PendingDeletes = make(map[string]uint64)
	return c
}

// KeyLookup searches level for the entry containing key. L0 may hold
// at most one entry and is scanned whole; L1+ are disjoint and sorted
// by start_key, so a binary search suffices.
func (m *Manifest) KeyLookup(level int, key base.Key) (Entry, bool) {
	entries := m.Levels[level]
	if level == 0 {
		for _, e := range entries {
			if e.contains(m.cmp, key) {
				return e, true
			}
		}
		return Entry{}, false
	}
	i := sort.Search(len(entries), func(i int) bool {
		return m.cmp.Compare(entries[i].Start, key) > 0
	})
	if i == 0 {
		return Entry{}, false
	}
	e := entries[i-1]
	if e.contains(m.cmp, key) {
		return e, true
	}
	return Entry{}, false
}

// RangeLookup returns every entry in level intersecting [start, end].
// For L1+ the sorted order bounds the scan on both sides; L0 is
// scanned whole (at most one entry).
func (m *Manifest) RangeLookup(level int, start, end base.Key) []Entry {
	entries := m.Levels[level]
	if level == 0 {
		var out []Entry
		for _, e := range entries {
			if e.overlaps(m.cmp, start, end) {
				out = append(out, e)
			}
		}
		return out
	}
	lo := sort.Search(len(entries), func(i int) bool {
		return m.cmp.Compare(entries[i].End, start) >= 0
	})
	var out []Entry
	for i := lo; i < len(entries); i++ {
		if m.cmp.Compare(entries[i].Start, end) > 0 {
			break
		}
		out = append(out, entries[i])
	}
	return out
}

// Insert adds entry to level, re-sorts by start_key, advances
// basement and stamps the new generation. L0 may hold at most one
// entry; callers are expected to have cleared it first (the L0
// admission state machine in the cache package enforces this).
func (m *Manifest) Insert(level int, e Entry, newSQN uint64) error {
	if level == 0 && len(m.Levels[0]) > 0 {
		return errors.AssertionFailedf("manifest: L0 already holds an entry")
	}
	m.Levels[level] = append(m.Levels[level], e)
	if level > 0 {
		sort.Slice(m.Levels[level], func(i, j int) bool {
			return m.cmp.Compare(m.Levels[level][i].Start, m.Levels[level][j].Start) < 0
		})
	}
	if len(m.Levels[level]) > 0 && level > m.Basement {
		m.Basement = level
	}
	m.ManifestSQN = newSQN
	return nil
}

// Remove deletes a contiguous run of runLen entries from level,
// identified by the start_key of the first entry, marks each removed
// filename pending-delete at newSQN, and recomputes basement.
func (m *Manifest) Remove(level int, startKey base.Key, runLen int, newSQN uint64) ([]string, error) {
	entries := m.Levels[level]
	idx := -1
	for i, e := range entries {
		if m.cmp.Compare(e.Start, startKey) == 0 {
			idx = i
			break
		}
	}
	if idx < 0 || idx+runLen > len(entries) {
		return nil, errors.AssertionFailedf("manifest: no contiguous run of %d starting at %s in level %d", runLen, startKey, level)
	}
	removed := entries[idx : idx+runLen]
	filenames := make([]string, len(removed))
	for i, e := range removed {
		filenames[i] = e.Filename
		m.PendingDeletes[e.Filename] = newSQN
	}
	m.Levels[level] = append(append([]Entry(nil), entries[:idx]...), entries[idx+runLen:]...)
	m.ManifestSQN = newSQN
	m.recomputeBasement()
	return filenames, nil
}

// Switch moves entry from srcLevel to srcLevel+1 without marking it
// pending-delete — the same physical file simply now belongs to a
// deeper level. compaction.Run does not call it: Run rewrites the
// victim even when nothing overlaps it at the target level.
func (m *Manifest) Switch(srcLevel int, e Entry, newSQN uint64) error {
	entries := m.Levels[srcLevel]
	idx := -1
	for i, cand := range entries {
		if cand.Filename == e.Filename {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.AssertionFailedf("manifest: entry %s not found in level %d", e.Filename, srcLevel)
	}
	m.Levels[srcLevel] = append(append([]Entry(nil), entries[:idx]...), entries[idx+1:]...)
	return m.Insert(srcLevel+1, e, newSQN)
}

func (m *Manifest) recomputeBasement() {
	b := 0
	for l := numLevels - 1; l >= 0; l-- {
		if len(m.Levels[l]) > 0 {
			b = l
			break
		}
	}
	m.Basement = b
}

// CheckForWork returns the levels whose entry count exceeds their
// target (8^n, n>=1) and the sum of their excesses, for the compactor
// scheduler (spec.md §4.4). Level 0 is special: it has no size
// target at all — spec.md §4.4 says "Level 0 is special: its
// compaction is a merge of the one L0 file into all overlapping L1
// files", i.e. any L0 file present is itself the excess, since L0
// must drain before the cache can flush into it again. Level 0 is
// checked first and, if present, is the only level reported: nothing
// else should be dispatched while L0 is still waiting to drain.
func (m *Manifest) CheckForWork() (overLevels []int, totalExcess int) {
	if n := len(m.Levels[0]); n > 0 {
		return []int{0}, n
	}
	for l := 1; l < numLevels; l++ {
		target := base.LevelTarget(l)
		if n := len(m.Levels[l]); n > target {
			overLevels = append(overLevels, l)
			totalExcess += n - target
		}
	}
	return overLevels, totalExcess
}

// MergefileSelector picks an entry to compact down from level,
// uniformly at random, per spec.md §4.1's deliberate policy of
// avoiding worst-case accumulation under adversarial write patterns.
// The caller supplies the *rand.Rand so the penciller can seed it
// once, per-instance, for reproducible tests (spec.md §9).
func (m *Manifest) MergefileSelector(level int, rng *rand.Rand) (Entry, bool) {
	entries := m.Levels[level]
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[rng.Intn(len(entries))], true
}

// AddSnapshot registers a snapshot holder observing the manifest at
// its current generation, with a deadline of now+timeout.
func (m *Manifest) AddSnapshot(holder string, timeout time.Duration, now time.Time) {
	m.Snapshots = append(m.Snapshots, SnapshotReg{
		Holder:      holder,
		ObservedSQN: m.ManifestSQN,
		Deadline:    now.Add(timeout),
	})
	m.recomputeMinSnapshotSQN()
}

// ReleaseSnapshot removes holder's registration and recomputes
// MinSnapshotSQN.
func (m *Manifest) ReleaseSnapshot(holder string) {
	out := m.Snapshots[:0]
	for _, s := range m.Snapshots {
		if s.Holder != holder {
			out = append(out, s)
		}
	}
	m.Snapshots = out
	m.recomputeMinSnapshotSQN()
}

// ExpireSnapshots silently drops any registration whose deadline has
// passed as of now, returning the holder IDs removed (spec.md §7,
// "Snapshot deadline exceeded").
func (m *Manifest) ExpireSnapshots(now time.Time) []string {
	var expired []string
	out := m.Snapshots[:0]
	for _, s := range m.Snapshots {
		if now.After(s.Deadline) {
			expired = append(expired, s.Holder)
			continue
		}
		out = append(out, s)
	}
	m.Snapshots = out
	if len(expired) > 0 {
		m.recomputeMinSnapshotSQN()
	}
	return expired
}

func (m *Manifest) recomputeMinSnapshotSQN() {
	if len(m.Snapshots) == 0 {
		m.MinSnapshotSQN = 0
		return
	}
	min := m.Snapshots[0].ObservedSQN
	for _, s := range m.Snapshots[1:] {
		if s.ObservedSQN < min {
			min = s.ObservedSQN
		}
	}
	m.MinSnapshotSQN = min
}

// ReadyToDelete reports whether filename's pending-delete generation
// is old enough that no live snapshot can still see it
// (min_snapshot_sqn >= pending_deletes[filename]). On true, the entry
// is removed from PendingDeletes; on false it remains and the caller
// is expected to retry later (spec.md §4.1, §5).
func (m *Manifest) ReadyToDelete(filename string) bool {
	sqn, pending := m.PendingDeletes[filename]
	if !pending {
		return false
	}
	if m.MinSnapshotSQN >= sqn || len(m.Snapshots) == 0 {
		delete(m.PendingDeletes, filename)
		return true
	}
	return false
}

// Comparer returns the comparer the manifest was built with.
func (m *Manifest) Comparer() *base.Comparer { return m.cmp }
