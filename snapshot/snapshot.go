// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snapshot

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/reader"
)

// ErrFetchUnsupported is returned by Fetch against a snapshot
// registered in NoLookup or Materialized mode: both exist only to
// serve a range fold, never a point lookup (spec.md §4.6).
var ErrFetchUnsupported = errors.New("snapshot: fetch not supported in this registration mode")

// Mode names one of the three ways a caller can register a snapshot
// (spec.md §4.6).
type Mode int

const (
	// Full pins a live clone of the manifest and cache and supports
	// both Fetch and FetchKeys.
	Full Mode = iota
	// NoLookup pins the same clone as Full but only supports range
	// folds — intended for callers that only ever iterate.
	NoLookup
	// Materialized pre-bakes the fold for one exact {start, end} range
	// at registration time, so the pinned manifest/cache clone can be
	// released immediately rather than held for the snapshot's whole
	// lifetime.
	Materialized
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case NoLookup:
		return "no_lookup"
	case Materialized:
		return "materialized"
	default:
		return "unknown"
	}
}

// Owner is the narrow callback surface a Snapshot needs from its
// registering penciller: Release must be able to drop the holder's
// registration without the snapshot package importing the penciller
// package (spec.md §5, message passing rather than shared state).
type Owner interface {
	ReleaseSnapshotHolder(holder string)
}

// Snapshot is a caller-held handle produced by one of the New*
// constructors. It is safe for concurrent use; Release is idempotent.
type Snapshot struct {
	mu       sync.Mutex
	owner    Owner
	holder   string
	mode     Mode
	deadline time.Time
	released bool

	source reader.Source // Full, NoLookup

	cmp          *base.Comparer // Materialized
	start, end   base.Key
	materialized []base.Record
}

// NewFull registers a Full-mode snapshot over a frozen manifest/cache
// clone.
func NewFull(owner Owner, holder string, deadline time.Time, source reader.Source) *Snapshot {
	return &Snapshot{owner: owner, holder: holder, mode: Full, deadline: deadline, source: source}
}

// NewNoLookup registers a NoLookup-mode snapshot over the same kind of
// clone as Full, with point lookups disabled.
func NewNoLookup(owner Owner, holder string, deadline time.Time, source reader.Source) *Snapshot {
	return &Snapshot{owner: owner, holder: holder, mode: NoLookup, deadline: deadline, source: source}
}

// NewMaterialized wraps an already-folded record set for the exact
// [start, end] range it was computed over. owner may be nil: by the
// time the fold finished, the registering penciller has typically
// already released the clone this snapshot was computed from.
func NewMaterialized(
	owner Owner, holder string, deadline time.Time, cmp *base.Comparer, start, end base.Key, records []base.Record,
) *Snapshot {
	return &Snapshot{
		owner: owner, holder: holder, mode: Materialized, deadline: deadline,
		cmp: cmp, start: start, end: end, materialized: records,
	}
}

// Mode reports the snapshot's registration mode.
func (s *Snapshot) Mode() Mode { return s.mode }

func (s *Snapshot) checkLive() error {
	if s.released {
		return base.ErrClosed
	}
	if time.Now().After(s.deadline) {
		return base.ErrSnapshotExpired
	}
	return nil
}

// Fetch performs a point lookup. Only valid in Full mode.
func (s *Snapshot) Fetch(key base.Key) (base.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return base.Record{}, false, err
	}
	if s.mode != Full {
		return base.Record{}, false, ErrFetchUnsupported
	}
	return s.source.Fetch(key)
}

// FetchWithHash is Fetch with a precomputed hash.
func (s *Snapshot) FetchWithHash(key base.Key, hash base.Hash) (base.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return base.Record{}, false, err
	}
	if s.mode != Full {
		return base.Record{}, false, ErrFetchUnsupported
	}
	return s.source.FetchWithHash(key, hash)
}

// FetchKeys folds the snapshot's pinned view over [start, end]. In
// Materialized mode, start/end must fall within the range the
// snapshot was baked for.
func (s *Snapshot) FetchKeys(start, end base.Key, max int) ([]base.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	if s.mode != Materialized {
		return s.source.FetchKeys(start, end, max)
	}
	if s.cmp.Compare(start, s.start) < 0 || s.cmp.Compare(end, s.end) > 0 {
		return nil, errors.Newf("snapshot: requested range [%s, %s] exceeds materialized range [%s, %s]", start, end, s.start, s.end)
	}
	var out []base.Record
	for _, r := range s.materialized {
		if s.cmp.Compare(r.Key, start) < 0 {
			continue
		}
		if s.cmp.Compare(r.Key, end) > 0 {
			break
		}
		out = append(out, r)
		if max >= 0 && len(out) == max {
			break
		}
	}
	return out, nil
}

// FetchNextKey returns the first live key at or following start.
func (s *Snapshot) FetchNextKey(start base.Key) (base.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return base.Record{}, false, err
	}
	if s.mode != Materialized {
		return s.source.FetchNextKey(start)
	}
	for _, r := range s.materialized {
		if s.cmp.Compare(r.Key, start) >= 0 {
			return r, true, nil
		}
	}
	return base.Record{}, false, nil
}

// Release drops the snapshot's registration, if any. Safe to call more
// than once.
func (s *Snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.owner != nil {
		s.owner.ReleaseSnapshotHolder(s.holder)
	}
}
