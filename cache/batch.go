// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"sort"

	"github.com/project-fifo/leveled/internal/base"
)

// Batch is one immutable pushed snapshot held in the L0 cache: the
// (tree_i, index_i, min_sqn_i, max_sqn_i) tuple of spec.md §3. "tree"
// is represented as a sorted, deduplicated slice — the cache never
// holds enough data for the choice of search structure to matter, and
// a sorted slice gives range materialization for free.
type Batch struct {
	records []base.Record // sorted by key, highest SQN wins on duplicates within the batch
	minSQN  base.SQN
	maxSQN  base.SQN
}

// NewBatch builds a Batch from a pushed key/value snapshot. Returns
// an error if kv is empty — an empty push is a caller bug, not a
// valid batch.
func NewBatch(kv []base.Record) (*Batch, error) {
	if len(kv) == 0 {
		return nil, errEmptyPush
	}
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
	minSQN, maxSQN := sorted[0].Value.SQN, sorted[0].Value.SQN
	for i, rec := range sorted {
		if i > 0 && base.DefaultComparer.Compare(rec.Key, sorted[i-1].Key) == 0 {
			continue
		}
		out = append(out, rec)
		if rec.Value.SQN < minSQN {
			minSQN = rec.Value.SQN
		}
		if rec.Value.SQN > maxSQN {
			maxSQN = rec.Value.SQN
		}
	}
	return &Batch{records: out, minSQN: minSQN, maxSQN: maxSQN}, nil
}

// Get looks up key within the batch.
func (b *Batch) Get(key base.Key) (base.Record, bool) {
	i := sort.Search(len(b.records), func(i int) bool {
		return base.DefaultComparer.Compare(b.records[i].Key, key) >= 0
	})
	if i < len(b.records) && base.DefaultComparer.Compare(b.records[i].Key, key) == 0 {
		return b.records[i], true
	}
	return base.Record{}, false
}

// Range returns every record in the batch within [start, end].
func (b *Batch) Range(start, end base.Key) []base.Record {
	lo := sort.Search(len(b.records), func(i int) bool {
		return base.DefaultComparer.Compare(b.records[i].Key, start) >= 0
	})
	var out []base.Record
	for i := lo; i < len(b.records); i++ {
		if base.DefaultComparer.Compare(b.records[i].Key, end) > 0 {
			break
		}
		out = append(out, b.records[i])
	}
	return out
}

// RangeFrom returns every record in the batch at or after start, with
// no upper bound — used by the unbounded fold fetch_next_key drives,
// which has no end key to stop Range at.
func (b *Batch) RangeFrom(start base.Key) []base.Record {
	lo := sort.Search(len(b.records), func(i int) bool {
		return base.DefaultComparer.Compare(b.records[i].Key, start) >= 0
	})
	out := make([]base.Record, len(b.records)-lo)
	copy(out, b.records[lo:])
	return out
}

// Len returns the number of distinct keys in the batch.
func (b *Batch) Len() int { return len(b.records) }

// At returns the i-th record, in sorted order.
func (b *Batch) At(i int) base.Record { return b.records[i] }
