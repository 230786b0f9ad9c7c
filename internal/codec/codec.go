// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package codec

import (
	"github.com/cespare/xxhash/v2"

	"github.com/project-fifo/leveled/internal/base"
)

// Codec is the external key-codec collaborator consumed by the core
// (spec.md §6). The penciller never constructs one of these directly;
// it is injected via config.Config so that a deployment's key
// structure (bucket/key tuples, secondary index entries, TTL framing)
// stays entirely outside the penciller.
type Codec interface {
	// MagicHash returns the key's point-lookup hash, or the NoLookup
	// sentinel for keys the codec declines to hash (e.g. index
	// entries).
	MagicHash(key base.Key) base.Hash
	// EndKeyPassed reports whether key lies strictly beyond endKey,
	// i.e. whether a range scan bounded above by endKey should stop.
	EndKeyPassed(endKey, key base.Key) bool
	// StripToSeqOnly extracts the sequence number the core uses for
	// dominance resolution.
	StripToSeqOnly(v base.Value) base.SQN
	// KeyDominates orders two records during a range fold: different
	// keys resolve to LeftFirst/RightFirst by key order; a shared key
	// resolves to LeftDominant/RightDominant by the higher SQN winning.
	KeyDominates(k1 base.Key, v1 base.Value, k2 base.Key, v2 base.Value) base.Dominance
}

// Default returns the codec used when no deployment-specific codec is
// supplied: key order from cmp (byte-lexicographic when cmp is nil),
// xxhash-based magic_hash (truncated to 32 bits, the teacher's own
// dependency github.com/cespare/xxhash/v2), and SQN dominance that
// compares SQNs only (a tombstone's status is not consulted).
// isNoLookup classifies which keys decline point lookup (nil means
// every key is lookupable).
func Default(cmp *base.Comparer, isNoLookup func(base.Key) bool) Codec {
	if cmp == nil {
		cmp = base.DefaultComparer
	}
	return &defaultCodec{cmp: cmp, isNoLookup: isNoLookup}
}

type defaultCodec struct {
	cmp        *base.Comparer
	isNoLookup func(base.Key) bool
}

func (c *defaultCodec) MagicHash(key base.Key) base.Hash {
	if c.isNoLookup != nil && c.isNoLookup(key) {
		return base.NoLookup
	}
	sum := xxhash.Sum64(key)
	return base.LookupHash(uint32(sum))
}

func (c *defaultCodec) EndKeyPassed(endKey, key base.Key) bool {
	return c.cmp.Compare(key, endKey) > 0
}

func (c *defaultCodec) StripToSeqOnly(v base.Value) base.SQN {
	return v.SQN
}

func (c *defaultCodec) KeyDominates(
	k1 base.Key, v1 base.Value, k2 base.Key, v2 base.Value,
) base.Dominance {
	switch cmp := c.cmp.Compare(k1, k2); {
	case cmp < 0:
		return base.LeftFirst
	case cmp > 0:
		return base.RightFirst
	default:
		if v1.SQN >= v2.SQN {
			return base.LeftDominant
		}
		return base.RightDominant
	}
}
