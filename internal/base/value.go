// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// Status describes what kind of record a Value represents.
type Status uint8

const (
	// StatusActive marks a live record. TTL of zero means no expiry.
	StatusActive Status = iota
	// StatusTombstone marks a deletion. A tombstone dominates absence
	// at equal or lower SQN (see GLOSSARY).
	StatusTombstone
)

// Value is the opaque payload half of a Record. The core only reads
// the SQN, either directly or via StripToSeqOnly in the key codec;
// everything else is passed through to the SST collaborators
// untouched.
type Value struct {
	SQN     SQN
	Status  Status
	TTL     int64 // unix seconds; zero means no expiry
	Hash    Hash  // cached magic_hash(key), if already computed
	Payload []byte
}

// IsTombstone reports whether the value marks a deletion.
func (v Value) IsTombstone() bool { return v.Status == StatusTombstone }

// Record is a single (Key, Value) pair. Within one SST file a key
// appears at most once; across levels the same key may appear at
// several SQNs, and the reader always surfaces the highest.
type Record struct {
	Key   Key
	Value Value
}

// Dominance is the result of comparing two records that share a key:
// which one should survive a fold step.
type Dominance int

const (
	// LeftFirst means the two records are for different keys and the
	// left key sorts first.
	LeftFirst Dominance = iota
	// RightFirst means the two records are for different keys and the
	// right key sorts first.
	RightFirst
	// LeftDominant means both records share a key and the left one
	// shadows the right (equal key, left has the higher, or
	// tie-breaking, SQN).
	LeftDominant
	// RightDominant means both records share a key and the right one
	// shadows the left.
	RightDominant
)
