// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package config carries every tunable named in spec.md plus the
// collaborators the core is injected with (comparer, codec, logger).
// Modeled on the teacher's own Options struct (options.go): a plain,
// directly-populated struct with an EnsureDefaults pass, rather than
// a functional-options API.
package config

import (
	"time"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/codec"
	"github.com/project-fifo/leveled/metrics"
)

// Config holds every tunable the penciller needs. Zero-value fields
// are filled in by EnsureDefaults with the values spec.md states.
type Config struct {
	// Root is the ledger's root directory (spec.md §6 on-disk layout).
	Root string

	// MaxTableSize (M) is the cache size above which a flush to L0 may
	// be triggered (spec.md §4.2).
	MaxTableSize int
	// HardCeiling (SM) forces a flush regardless of the coin toss once
	// the cache exceeds it (spec.md §4.2).
	HardCeiling int
	// CoinTossFlush enables the 1-in-5 coin toss that de-synchronizes
	// sibling nodes in a cluster once the cache is between
	// MaxTableSize and HardCeiling (spec.md §4.2, §9 "Coin-toss L0
	// flush").
	CoinTossFlush bool

	// WorkqueueBacklogTolerance (WORKQUEUE_BACKLOG_TOLERANCE) is the
	// excess-file count above which the scheduler additionally raises
	// a work backlog that gates pushes (spec.md §4.4).
	WorkqueueBacklogTolerance int
	// MaxWorkWait (MAX_WORK_WAIT) bounds how long an idle compactor
	// worker sleeps before re-asking for work (spec.md §4.4).
	MaxWorkWait time.Duration

	// SlowFetchThreshold (SLOW_FETCH) is the point-lookup latency above
	// which a fetch is logged, though not otherwise treated specially
	// (spec.md §4.3).
	SlowFetchThreshold time.Duration
	// IteratorScanwidth (ITERATOR_SCANWIDTH) bounds how many records a
	// single lazy-pointer expansion materializes during a range fold
	// (spec.md §4.3).
	IteratorScanwidth int

	// SnapshotDefaultTimeout and SnapshotLongTimeout are the two
	// snapshot deadlines spec.md §4.6 names.
	SnapshotDefaultTimeout time.Duration
	SnapshotLongTimeout    time.Duration

	// RNGSeed seeds the compactor's victim-selection RNG, for
	// reproducible tests (spec.md §9).
	RNGSeed int64

	// StrictSQNOrdering resolves the Open Question in spec.md §9 about
	// out-of-order pushed SQNs: when true (the default), a push whose
	// max SQN regresses against the ledger SQN is treated as a
	// contract violation and rejected with an error; when false it is
	// accepted idempotently (the ledger SQN is simply left unmoved).
	StrictSQNOrdering bool

	// Comparer orders keys. Defaults to byte-lexicographic order.
	Comparer *base.Comparer
	// Codec is the external key-codec collaborator (magic_hash,
	// endkey_passed, strip_to_seqonly, key_dominates). Defaults to
	// codec.Default with every key treated as lookupable.
	Codec codec.Codec
	// Logger receives diagnostic output. Defaults to base.DefaultLogger.
	Logger base.Logger
	// Metrics receives counters and latency observations. Nil means no
	// metrics are recorded; every call site tolerates a nil *Metrics.
	Metrics *metrics.Metrics
}

// Default returns the Config spec.md's tunables describe.
func Default(root string) Config {
	c := Config{Root: root, CoinTossFlush: true, StrictSQNOrdering: true}
	c.EnsureDefaults()
	return c
}

// EnsureDefaults fills in zero-valued fields with spec.md's stated
// defaults, the way the teacher's Options.EnsureDefaults does.
func (c *Config) EnsureDefaults() *Config {
	if c.MaxTableSize == 0 {
		c.MaxTableSize = 28000
	}
	if c.HardCeiling == 0 {
		c.HardCeiling = 40000
	}
	if c.WorkqueueBacklogTolerance == 0 {
		c.WorkqueueBacklogTolerance = 4
	}
	if c.MaxWorkWait == 0 {
		c.MaxWorkWait = 300 * time.Second
	}
	if c.SlowFetchThreshold == 0 {
		c.SlowFetchThreshold = 20 * time.Millisecond
	}
	if c.IteratorScanwidth == 0 {
		c.IteratorScanwidth = 4
	}
	if c.SnapshotDefaultTimeout == 0 {
		c.SnapshotDefaultTimeout = 600 * time.Second
	}
	if c.SnapshotLongTimeout == 0 {
		c.SnapshotLongTimeout = 3600 * time.Second
	}
	if c.Comparer == nil {
		c.Comparer = base.DefaultComparer
	}
	if c.Codec == nil {
		c.Codec = codec.Default(c.Comparer, nil)
	}
	if c.Logger == nil {
		c.Logger = base.DefaultLogger{}
	}
	return c
}
