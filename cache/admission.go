// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import "math/rand"

// State names the penciller's position in the L0 admission state
// machine (spec.md §4.2).
type State int

const (
	// Idle: no L0 file exists; pushes append to cache.
	Idle State = iota
	// Flushing: the cache has been frozen and an asynchronous L0 file
	// build is in progress. Pushes are rejected in this state.
	Flushing
	// L0Resident: an L0 file exists in the manifest (and the cache is
	// empty, or has started accumulating a fresh round of pushes).
	L0Resident
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Flushing:
		return "flushing"
	case L0Resident:
		return "l0_resident"
	default:
		return "unknown"
	}
}

// Admission decides when a saturated cache should transition to
// Flushing, implementing the transition rule of spec.md §4.2:
//
//	S > M ∧ free ∧ jitter ∧ quiet => flushing
//
// where jitter is either "past the hard ceiling" or a 1-in-5 coin
// toss once past the soft limit, a cluster-desynchronization
// heuristic (spec.md §9) kept behind a config flag.
type Admission struct {
	maxTableSize  int
	hardCeiling   int
	coinTossFlush bool
	rng           *rand.Rand
}

// NewAdmission returns an Admission controller. rngSeed is taken from
// config so the coin toss is reproducible across runs of the same
// test (spec.md §9).
func NewAdmission(maxTableSize, hardCeiling int, coinTossFlush bool, rngSeed int64) *Admission {
	return &Admission{
		maxTableSize:  maxTableSize,
		hardCeiling:   hardCeiling,
		coinTossFlush: coinTossFlush,
		rng:           rand.New(rand.NewSource(rngSeed)),
	}
}

// ShouldFlush evaluates the transition rule against the current cache
// size and the server's view of whether L0 is already occupied
// (free) and whether a compaction is currently running (quiet).
func (a *Admission) ShouldFlush(cacheSize int, level0Present, workOngoing bool) bool {
	if cacheSize <= a.maxTableSize {
		return false
	}
	free := !level0Present
	quiet := !workOngoing
	jitter := cacheSize > a.hardCeiling
	if !jitter && a.coinTossFlush {
		jitter = a.rng.Intn(5) == 0
	}
	return free && jitter && quiet
}
