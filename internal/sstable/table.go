// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
)

// Handle is a live, ref-counted reference to one SST file: the
// owner field of a manifest entry (spec.md §3). The manifest holds
// the only strong reference used for I/O; snapshots hold a
// weak-but-pinning reference that keeps the file out of
// DeleteConfirmed without itself calling into the handle — mirrored
// on the teacher's table_cache.go ref-counted node, simplified
// because block caching is out of scope here.
type Handle struct {
	root     string
	filename string
	level    int
	maxSQN   base.SQN
	records  []base.Record // sorted by key, deduplicated, immutable after build
	refs     int32
}

func path(root, filename string) string {
	return filepath.Join(root, "ledger", "ledger_files", filename)
}

// PathForFile returns the on-disk path an SST filename resolves to,
// per the layout in spec.md §6
// (<root>/ledger/ledger_files/<man_sqn>_<level>_<n>.sst). Exported so
// the manifest package can probe for the L0 file spec.md says is
// never persisted in the manifest itself.
func PathForFile(root, filename string) string { return path(root, filename) }

// New synchronously writes a new SST file from kv (which need not be
// pre-sorted) and returns a handle plus its start/end key bounds.
// Mirrors the sst_new(root, filename, level, kv_list, max_sqn)
// collaborator interface in spec.md §6.
func New(
	root, filename string, level int, kv []base.Record, maxSQN base.SQN,
) (*Handle, base.Key, base.Key, error) {
	if len(kv) == 0 {
		return nil, nil, nil, errors.New("sstable: cannot build an empty file")
	}
	records := dedupeSorted(kv)

	if err := os.MkdirAll(filepath.Dir(path(root, filename)), 0o755); err != nil {
		return nil, nil, nil, err
	}
	f, err := os.Create(path(root, filename))
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()
	if err := encodeFile(f, records, maxSQN); err != nil {
		return nil, nil, nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, nil, nil, err
	}

	h := &Handle{root: root, filename: filename, level: level, maxSQN: maxSQN, records: records, refs: 1}
	return h, records[0].Key, records[len(records)-1].Key, nil
}

// dedupeSorted sorts kv by key and keeps, for each duplicate key, the
// record with the highest SQN — within a single file a key appears
// at most once (spec.md §3).
func dedupeSorted(kv []base.Record) []base.Record {
	sorted := make([]base.Record, len(kv))
	copy(sorted, kv)
	sort.Slice(sorted, func(i, j int) bool {
		c := base.DefaultComparer.Compare(sorted[i].Key, sorted[j].Key)
		if c != 0 {
			return c < 0
		}
		return sorted[i].Value.SQN > sorted[j].Value.SQN
	})
	out := sorted[:0:0]
	for i, rec := range sorted {
		if i > 0 && base.DefaultComparer.Compare(rec.Key, sorted[i-1].Key) == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// LevelZeroNotify is called on completion of an asynchronous
// NewLevelZero build.
type LevelZeroNotify func(filename string, start, end base.Key, maxSQN base.SQN, err error)

// NewLevelZero asynchronously builds an L0 file by pulling nBatches
// slots one at a time via fetchFn, so the caller (the L0 cache) never
// has to materialize every batch into one big transfer at once
// (spec.md §4.2). notify is invoked exactly once, from the writer's
// own goroutine, on completion or failure.
func NewLevelZero(
	root, filename string,
	nBatches int,
	fetchFn func(slot int) ([]base.Record, error),
	notify LevelZeroNotify,
	maxSQN base.SQN,
) {
	go func() {
		var all []base.Record
		for i := 0; i < nBatches; i++ {
			recs, err := fetchFn(i)
			if err != nil {
				notify(filename, nil, nil, 0, err)
				return
			}
			all = append(all, recs...)
		}
		if len(all) == 0 {
			notify(filename, nil, nil, 0, errors.New("sstable: level-zero build produced no records"))
			return
		}
		records := dedupeSorted(all)
		if err := os.MkdirAll(filepath.Dir(path(root, filename)), 0o755); err != nil {
			notify(filename, nil, nil, 0, err)
			return
		}
		f, err := os.Create(path(root, filename))
		if err != nil {
			notify(filename, nil, nil, 0, err)
			return
		}
		if err := encodeFile(f, records, maxSQN); err != nil {
			f.Close()
			notify(filename, nil, nil, 0, err)
			return
		}
		if err := f.Sync(); err != nil {
			f.Close()
			notify(filename, nil, nil, 0, err)
			return
		}
		f.Close()
		notify(filename, records[0].Key, records[len(records)-1].Key, maxSQN, nil)
	}()
}

// Open opens an existing SST file, returning a handle plus its
// start/end key bounds. Mirrors sst_open(root, filename).
func Open(root, filename string, level int) (*Handle, base.Key, base.Key, error) {
	f, err := os.Open(path(root, filename))
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()
	records, maxSQN, err := decodeFile(f)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil, errors.Newf("sstable: %s has no records", filename)
	}
	h := &Handle{root: root, filename: filename, level: level, maxSQN: maxSQN, records: records, refs: 1}
	return h, records[0].Key, records[len(records)-1].Key, nil
}

// Ref increments the handle's reference count. Nothing in this module
// calls it: snapshots pin files through the manifest's pending-delete
// protocol, which is what controls physical deletion, and Close only
// decrements the count.
func (h *Handle) Ref() { atomic.AddInt32(&h.refs, 1) }

// Filename returns the handle's on-disk file name.
func (h *Handle) Filename() string { return h.filename }

// Level returns the level the handle was opened/created for.
func (h *Handle) Level() int { return h.level }

// Get performs a point lookup. Mirrors sst_get(handle, key, hash).
// hash is accepted for interface fidelity with spec.md §6 (a real
// implementation would consult a bloom filter keyed by hash before
// touching the sorted data); the default in-memory table has no
// filter to gate on, so hash is unused beyond validating it is a
// lookupable key upstream.
func (h *Handle) Get(key base.Key, _ base.Hash) (base.Record, bool, error) {
	i := sort.Search(len(h.records), func(i int) bool {
		return base.DefaultComparer.Compare(h.records[i].Key, key) >= 0
	})
	if i < len(h.records) && base.DefaultComparer.Compare(h.records[i].Key, key) == 0 {
		return h.records[i], true, nil
	}
	return base.Record{}, false, nil
}

// MaxSQN mirrors sst_max_sqn(handle).
func (h *Handle) MaxSQN() base.SQN { return h.maxSQN }

// LowerBound returns the index of the first record whose key is >=
// key (len(h.records) if none).
func (h *Handle) LowerBound(key base.Key) int {
	return sort.Search(len(h.records), func(i int) bool {
		return base.DefaultComparer.Compare(h.records[i].Key, key) >= 0
	})
}

// UpperBound returns the index of the first record whose key is >
// key (len(h.records) if none).
func (h *Handle) UpperBound(key base.Key) int {
	return sort.Search(len(h.records), func(i int) bool {
		return base.DefaultComparer.Compare(h.records[i].Key, key) > 0
	})
}

// RangeSlice returns the index range [lo, hi) of records whose keys
// fall within [start, end] inclusive, for use by range_lookup
// pointer construction.
func (h *Handle) RangeSlice(start, end base.Key) (lo, hi int) {
	return h.LowerBound(start), h.UpperBound(end)
}

// At returns the record at index i, for pointer expansion.
func (h *Handle) At(i int) base.Record { return h.records[i] }

// Len returns the number of records in the file.
func (h *Handle) Len() int { return len(h.records) }

// Close releases a reference to the handle. Mirrors sst_close.
func (h *Handle) Close() error {
	atomic.AddInt32(&h.refs, -1)
	return nil
}

// DeleteConfirmed physically removes the backing file. Only called by
// the penciller once the manifest's pending-delete protocol has
// decided the file is no longer visible to any live snapshot
// (spec.md §4.1, §5). Mirrors sst_delete_confirmed(handle).
func (h *Handle) DeleteConfirmed() error {
	return os.Remove(path(h.root, h.filename))
}

// Pointer is a lazy cursor into one file's record slice, used by the
// range-fold merge (spec.md §4.3) so that a level's front element
// need not be materialized until it actually wins a merge step.
type Pointer struct {
	Handle *Handle
	Index  int
}

// Done reports whether the pointer has been exhausted.
func (p Pointer) Done() bool { return p.Handle == nil || p.Index >= p.Handle.Len() }

// Peek returns the record the pointer currently references, without
// advancing it.
func (p Pointer) Peek() base.Record { return p.Handle.At(p.Index) }

// ExpandPointer materializes up to width records starting at p,
// returning the concrete records and the pointer's new position.
// Mirrors sst_expand_pointer(pointer, tail, width); "tail" in the
// original is the remainder of the level's pointer queue, which the
// caller (the keyfolder) manages — this package only needs to expand
// the one pointer handed to it.
func ExpandPointer(p Pointer, width int) ([]base.Record, Pointer) {
	if p.Done() {
		return nil, p
	}
	end := p.Index + width
	if end > p.Handle.Len() {
		end = p.Handle.Len()
	}
	out := make([]base.Record, 0, end-p.Index)
	for i := p.Index; i < end; i++ {
		out = append(out, p.Handle.At(i))
	}
	return out, Pointer{Handle: p.Handle, Index: end}
}
