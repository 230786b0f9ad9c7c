// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
)

var errEmptyPush = errors.New("cache: push batch must be non-empty")

// numBuckets is the fixed width of the merged hash-position index
// (spec.md §3: "a merged 256-bucket hash-position index").
const numBuckets = 256

// hashPos is one entry of a hash bucket: which cache slot and which
// key hint it points at, so a probe can skip batches that cannot
// contain the key without re-hashing.
type hashPos struct {
	slot int
	key  base.Key
}

// Cache is the L0 cache: an ordered, newest-first list of immutable
// pushed batches plus their merged hash index, and the ledger SQN
// (the max SQN ever accepted).
type Cache struct {
	batches   []*Batch // index 0 is newest
	buckets   [numBuckets][]hashPos
	hashFn    func(base.Key) base.Hash
	ledgerSQN base.SQN
}

// New returns an empty cache. hashFn computes the magic_hash used to
// gate point lookups; it is the codec's MagicHash, injected so this
// package stays independent of any one key structure.
func New(hashFn func(base.Key) base.Hash) *Cache {
	return &Cache{hashFn: hashFn}
}

// Push prepends a new batch built from kv. The ledger SQN advances to
// the max of its previous value and the batch's max SQN.
func (c *Cache) Push(kv []base.Record) (*Batch, error) {
	b, err := NewBatch(kv)
	if err != nil {
		return nil, err
	}
	slot := len(c.batches)
	c.batches = append([]*Batch{b}, c.batches...)
	// Slots shift by one for every existing batch; reindex from
	// scratch since the cache is small (a few batches) and this keeps
	// the bucket contents always consistent with current slot numbers.
	c.reindex()
	_ = slot
	if b.maxSQN > c.ledgerSQN {
		c.ledgerSQN = b.maxSQN
	}
	return b, nil
}

func (c *Cache) reindex() {
	for i := range c.buckets {
		c.buckets[i] = c.buckets[i][:0]
	}
	for slot, b := range c.batches {
		for i := 0; i < b.Len(); i++ {
			rec := b.At(i)
			h := c.hashFn(rec.Key)
			if !h.OK() {
				continue
			}
			bucket := h.Bucket(numBuckets)
			c.buckets[bucket] = append(c.buckets[bucket], hashPos{slot: slot, key: rec.Key})
		}
	}
}

// Size returns the total number of records held across every batch,
// the quantity the admission state machine compares against
// MaxTableSize/HardCeiling.
func (c *Cache) Size() int {
	n := 0
	for _, b := range c.batches {
		n += b.Len()
	}
	return n
}

// NumBatches returns the number of pushed batches currently staged.
func (c *Cache) NumBatches() int { return len(c.batches) }

// BatchAt returns the i-th newest batch, for the L0 writer's
// fetch_fn(i) callback.
func (c *Cache) BatchAt(i int) *Batch { return c.batches[i] }

// LedgerSQN returns the max SQN ever accepted into the cache.
func (c *Cache) LedgerSQN() base.SQN { return c.ledgerSQN }

// Lookup probes the hash index for key. Because the cache is
// newest-first and the first matching batch encountered in bucket
// order need not itself be the newest, Lookup scans every candidate
// slot and keeps the lowest (=newest) one, which also carries the
// highest SQN by construction (a later push can only raise SQNs).
func (c *Cache) Lookup(key base.Key, hash base.Hash) (base.Record, bool) {
	if !hash.OK() {
		return base.Record{}, false
	}
	bucket := hash.Bucket(numBuckets)
	bestSlot := -1
	var best base.Record
	for _, pos := range c.buckets[bucket] {
		if base.DefaultComparer.Compare(pos.key, key) != 0 {
			continue
		}
		if bestSlot != -1 && pos.slot >= bestSlot {
			continue
		}
		rec, ok := c.batches[pos.slot].Get(key)
		if !ok {
			continue
		}
		bestSlot = pos.slot
		best = rec
	}
	return best, bestSlot != -1
}

// MaterializeRange folds every batch into one sorted sequence
// restricted to [start, end], keeping only the highest-SQN record for
// each key across batches (newest batch wins ties, since it was
// pushed later at an equal-or-higher SQN). This is what a snapshot
// registered with {start, end} precomputes eagerly (spec.md §4.6).
func (c *Cache) MaterializeRange(start, end base.Key) []base.Record {
	return c.materialize(func(b *Batch) []base.Record { return b.Range(start, end) })
}

// MaterializeFrom folds every batch into one sorted sequence of every
// key at or after start, with no upper bound — the unbounded
// counterpart MaterializeRange's [start, end] form can't serve,
// needed by fetch_next_key (spec.md §4.3 step 1, §8 "Find-next-key").
func (c *Cache) MaterializeFrom(start base.Key) []base.Record {
	return c.materialize(func(b *Batch) []base.Record { return b.RangeFrom(start) })
}

func (c *Cache) materialize(rangeFn func(*Batch) []base.Record) []base.Record {
	byKey := make(map[string]base.Record)
	var order []string
	// Iterate oldest-first so a newer batch's record for the same key
	// overwrites the map entry last.
	for i := len(c.batches) - 1; i >= 0; i-- {
		for _, rec := range rangeFn(c.batches[i]) {
			k := string(rec.Key)
			if existing, ok := byKey[k]; !ok || rec.Value.SQN >= existing.Value.SQN {
				if _, seen := byKey[k]; !seen {
					order = append(order, k)
				}
				byKey[k] = rec
			}
		}
	}
	out := make([]base.Record, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []base.Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && base.DefaultComparer.Compare(recs[j].Key, recs[j-1].Key) < 0; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// Clear empties the cache and its hash index, called once an L0 file
// build that consumed every batch completes (spec.md §4.2).
func (c *Cache) Clear() {
	c.batches = nil
	for i := range c.buckets {
		c.buckets[i] = nil
	}
}

// Clone returns a deep-ish copy of the cache suitable for seeding a
// full-clone snapshot (spec.md §4.6): batches are shared (immutable),
// but the bucket index and batch list are independent so a later push
// to the parent cache does not perturb the clone.
func (c *Cache) Clone() *Cache {
	clone := &Cache{
		hashFn:    c.hashFn,
		ledgerSQN: c.ledgerSQN,
		batches:   append([]*Batch(nil), c.batches...),
	}
	for i := range c.buckets {
		clone.buckets[i] = append([]hashPos(nil), c.buckets[i]...)
	}
	return clone
}
