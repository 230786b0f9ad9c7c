// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "bytes"

// Key is an opaque, totally-ordered byte string. The penciller never
// interprets a key's structure; it only compares, hashes and bounds
// them via the Comparer and the key codec (internal/codec).
type Key []byte

// Clone returns a copy of the key that does not alias the caller's
// backing array.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

func (k Key) String() string { return string(k) }

// SQN is a sequence number: a monotonic logical timestamp assigned by
// the upstream journal. Higher SQNs shadow lower ones for the same
// key.
type SQN uint64

// NoSQN is never a valid sequence number; it is used as a sentinel
// for "no record".
const NoSQN SQN = 0

// Hash is the result of the key codec's magic_hash function: either a
// concrete 32-bit hash suitable for point-lookup gating, or the
// sentinel NoLookup meaning the key's codec declined to hash it (e.g.
// an index entry). Representing this as a sum type, per the design
// note in spec.md §9, means fetch can refuse NoLookup with a typed
// error instead of silently treating zero as a valid hash.
type Hash struct {
	value     uint32
	lookupOK  bool
}

// LookupHash constructs a Hash that is usable for point lookups.
func LookupHash(v uint32) Hash { return Hash{value: v, lookupOK: true} }

// NoLookup is the sentinel hash for keys that cannot be point-looked-up.
var NoLookup = Hash{}

// OK reports whether the hash is usable for a point lookup.
func (h Hash) OK() bool { return h.lookupOK }

// Value returns the underlying 32-bit hash. Only meaningful when OK()
// is true.
func (h Hash) Value() uint32 { return h.value }

// Bucket maps the hash into the L0 cache's fixed-width bucket index.
func (h Hash) Bucket(numBuckets int) int {
	return int(h.value) % numBuckets
}

// Comparer defines the total order over keys plus the end-of-range
// comparison the reader needs for half-open upper bounds. A
// Comparer is supplied by the caller; the penciller core never
// assumes byte-lexicographic order, though DefaultComparer provides
// one for callers who have no bespoke key structure.
type Comparer struct {
	// Compare returns <0, 0, >0 as a<b, a==b, a>b.
	Compare func(a, b Key) int
	// Name identifies the comparer. It is not persisted in the
	// manifest, so a comparer change between runs is not detected at
	// open time.
	Name string
}

// DefaultComparer orders keys by byte-lexicographic order.
var DefaultComparer = &Comparer{
	Compare: func(a, b Key) int { return bytes.Compare(a, b) },
	Name:    "leveled.BytewiseComparer",
}
