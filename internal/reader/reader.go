// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package reader

import (
	"time"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/codec"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/sstable"
)

// CacheView is the subset of the L0 cache's read API a Source needs.
// *cache.Cache is its only implementation; the snapshot package's
// {start,end} registration mode keeps its pre-materialized records
// itself and does not go through a Source (spec.md §4.6).
type CacheView interface {
	Lookup(key base.Key, hash base.Hash) (base.Record, bool)
	MaterializeRange(start, end base.Key) []base.Record
	MaterializeFrom(start base.Key) []base.Record
}

// Source is the merged view a read operates over: the cache plus the
// manifest that together make up either the live penciller's state or
// a frozen snapshot clone.
type Source struct {
	Cache              CacheView
	Manifest           *manifest.Manifest
	Codec              codec.Codec
	Logger             base.Logger
	SlowFetchThreshold time.Duration
	IteratorScanwidth  int
}

// Fetch returns the highest-SQN live record for key, or ok=false if
// none exists (spec.md §4.3, "Point lookup").
func (s Source) Fetch(key base.Key) (base.Record, bool, error) {
	return s.FetchWithHash(key, s.Codec.MagicHash(key))
}

// FetchWithHash is Fetch with a precomputed hash, for callers (e.g.
// the bookie) that already know it.
func (s Source) FetchWithHash(key base.Key, hash base.Hash) (base.Record, bool, error) {
	if !hash.OK() {
		return base.Record{}, false, base.ErrNoLookup
	}
	if rec, ok := s.Cache.Lookup(key, hash); ok {
		return rec, true, nil
	}

	start := time.Now()
	for level := 0; level <= base.MaxLevels; level++ {
		entry, ok := s.Manifest.KeyLookup(level, key)
		if !ok {
			continue
		}
		rec, found, err := entry.Owner.Get(key, hash)
		if err != nil {
			return base.Record{}, false, err
		}
		if found {
			if d := time.Since(start); d > s.SlowFetchThreshold && s.Logger != nil {
				s.Logger.Infof("penciller: slow fetch for key %q took %s", key, d)
			}
			return rec, true, nil
		}
	}
	return base.Record{}, false, nil
}

// CheckSQN reports whether the live record for key has an SQN <=
// sqn. A missing key returns false — spec.md §4.3 assumes a later
// tombstone existed rather than treating absence as satisfying the
// bound.
func (s Source) CheckSQN(key base.Key, hash base.Hash, sqn base.SQN) (bool, error) {
	rec, ok, err := s.FetchWithHash(key, hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return s.Codec.StripToSeqOnly(rec.Value) <= sqn, nil
}

// FetchKeys folds the merged view over [start, end], emitting at most
// max records (max = -1 for unbounded) in ascending key order, each
// key appearing once at its highest-SQN value (spec.md §4.3, "Range
// fold").
func (s Source) FetchKeys(start, end base.Key, max int) ([]base.Record, error) {
	return s.fold(start, end, false, max)
}

// FetchNextKey returns the first live key at or after start (a fold
// with max=1, per spec.md's fetch_next_key), with no upper bound.
func (s Source) FetchNextKey(start base.Key) (base.Record, bool, error) {
	recs, err := s.fold(start, nil, true, 1)
	if err != nil || len(recs) == 0 {
		return base.Record{}, false, err
	}
	return recs[0], true, nil
}

func (s Source) fold(start, end base.Key, unbounded bool, max int) ([]base.Record, error) {
	cmp := s.Manifest.Comparer()

	var mem []base.Record
	if unbounded {
		mem = s.Cache.MaterializeFrom(start)
	} else {
		mem = s.Cache.MaterializeRange(start, end)
	}
	memIdx := 0

	streams := make([]*levelStream, base.MaxLevels+1)
	for l := 0; l <= base.MaxLevels; l++ {
		entries := s.rangeEntries(l, start, end, unbounded)
		streams[l] = newLevelStream(cmp, entries, start, end, unbounded, s.IteratorScanwidth)
	}

	var out []base.Record
	for max < 0 || len(out) < max {
		bestKey, haveBest := nextCandidateKey(cmp, mem, memIdx, streams)
		if !haveBest {
			break
		}
		if !unbounded && s.Codec.EndKeyPassed(end, bestKey) {
			break
		}

		winner, hasWinner := base.Record{}, false
		if memIdx < len(mem) && cmp.Compare(mem[memIdx].Key, bestKey) == 0 {
			winner, hasWinner = mem[memIdx], true
			memIdx++
		}
		for _, st := range streams {
			rec, ok := st.Peek()
			if !ok || cmp.Compare(rec.Key, bestKey) != 0 {
				continue
			}
			st.Pop()
			if !hasWinner {
				winner, hasWinner = rec, true
				continue
			}
			if s.Codec.KeyDominates(winner.Key, winner.Value, rec.Key, rec.Value) == base.RightDominant {
				winner = rec
			}
		}
		out = append(out, winner)
	}
	return out, nil
}

func (s Source) rangeEntries(level int, start, end base.Key, unbounded bool) []manifest.Entry {
	if unbounded {
		return rangeLookupUnbounded(s.Manifest, level, start)
	}
	return s.Manifest.RangeLookup(level, start, end)
}

// rangeLookupUnbounded returns every entry at level whose range
// reaches at least as far as start, with no upper bound — used by
// fetch_next_key, which has no end key to bound the scan.
func rangeLookupUnbounded(m *manifest.Manifest, level int, start base.Key) []manifest.Entry {
	cmp := m.Comparer()
	var out []manifest.Entry
	for _, e := range m.Levels[level] {
		if cmp.Compare(e.End, start) >= 0 {
			out = append(out, e)
		}
	}
	return out
}

// nextCandidateKey returns the smallest key among the in-memory
// stream's current front and every level stream's front.
func nextCandidateKey(cmp *base.Comparer, mem []base.Record, memIdx int, streams []*levelStream) (base.Key, bool) {
	var best base.Key
	have := false
	if memIdx < len(mem) {
		best, have = mem[memIdx].Key, true
	}
	for _, st := range streams {
		rec, ok := st.Peek()
		if !ok {
			continue
		}
		if !have || cmp.Compare(rec.Key, best) < 0 {
			best, have = rec.Key, true
		}
	}
	return best, have
}

// levelStream is a lazy, forward-only cursor over one level's
// entries within a query range, expanding sstable.Pointer in
// ITERATOR_SCANWIDTH-sized chunks (spec.md §4.3 step 4).
type levelStream struct {
	cmp                  *base.Comparer
	entries              []manifest.Entry
	entryIdx             int
	queryStart, queryEnd base.Key
	unbounded            bool
	scanwidth            int
	buf                  []base.Record
	bufIdx               int
	ptr                  sstable.Pointer
	limit                int // exclusive index bound within the currently open entry
}

func newLevelStream(
	cmp *base.Comparer, entries []manifest.Entry, start, end base.Key, unbounded bool, scanwidth int,
) *levelStream {
	ls := &levelStream{
		cmp: cmp, entries: entries, queryStart: start, queryEnd: end,
		unbounded: unbounded, scanwidth: scanwidth,
	}
	ls.openEntry()
	return ls
}

func (ls *levelStream) openEntry() {
	for ls.entryIdx < len(ls.entries) {
		e := ls.entries[ls.entryIdx]
		from := e.Start
		if ls.cmp.Compare(ls.queryStart, from) > 0 {
			from = ls.queryStart
		}
		lo := e.Owner.LowerBound(from)
		hi := e.Owner.Len()
		if !ls.unbounded {
			hi = e.Owner.UpperBound(ls.queryEnd)
		}
		if lo >= hi {
			ls.entryIdx++
			continue
		}
		ls.limit = hi
		ls.ptr = sstable.Pointer{Handle: e.Owner, Index: lo}
		ls.fillWithinLimit()
		return
	}
	ls.buf = nil
}

// fillWithinLimit expands the pointer by at most scanwidth records,
// clamped so the expansion never crosses the current entry's bound
// (queryEnd, or the entry's own extent when unbounded) — ExpandPointer
// alone only stops at the file's own end.
func (ls *levelStream) fillWithinLimit() {
	width := ls.scanwidth
	if ls.ptr.Index+width > ls.limit {
		width = ls.limit - ls.ptr.Index
	}
	if width <= 0 {
		ls.buf = nil
		return
	}
	ls.buf, ls.ptr = sstable.ExpandPointer(ls.ptr, width)
	ls.bufIdx = 0
}

// Peek returns the stream's current front record without consuming
// it, pulling in more data (another ExpandPointer chunk, or the next
// entry) as needed.
func (ls *levelStream) Peek() (base.Record, bool) {
	for {
		if ls.bufIdx < len(ls.buf) {
			return ls.buf[ls.bufIdx], true
		}
		if !ls.ptr.Done() && ls.ptr.Index < ls.limit {
			ls.fillWithinLimit()
			continue
		}
		ls.entryIdx++
		ls.openEntry()
		if ls.buf == nil {
			return base.Record{}, false
		}
	}
}

// Pop advances the stream past its current front record.
func (ls *levelStream) Pop() { ls.bufIdx++ }
