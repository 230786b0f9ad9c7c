// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/internal/base"
)

func entry(start, end string) Entry {
	return Entry{Start: base.Key(start), End: base.Key(end), Filename: start + "-" + end + ".sst"}
}

func TestInsertKeepsSortedAndDisjoint(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("m", "p"), 1))
	require.NoError(t, m.Insert(1, entry("a", "c"), 2))
	require.NoError(t, m.Insert(1, entry("e", "k"), 3))

	require.Len(t, m.Levels[1], 3)
	require.Equal(t, base.Key("a"), m.Levels[1][0].Start)
	require.Equal(t, base.Key("e"), m.Levels[1][1].Start)
	require.Equal(t, base.Key("m"), m.Levels[1][2].Start)
	require.EqualValues(t, 3, m.ManifestSQN)
	require.Equal(t, 1, m.Basement)
}

func TestL0AtMostOneEntry(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(0, entry("a", "z"), 1))
	require.Error(t, m.Insert(0, entry("b", "c"), 2))
}

func TestKeyLookup(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	require.NoError(t, m.Insert(1, entry("e", "k"), 2))

	e, ok := m.KeyLookup(1, base.Key("f"))
	require.True(t, ok)
	require.Equal(t, base.Key("e"), e.Start)

	_, ok = m.KeyLookup(1, base.Key("d"))
	require.False(t, ok)
}

func TestRangeLookup(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	require.NoError(t, m.Insert(1, entry("e", "k"), 2))
	require.NoError(t, m.Insert(1, entry("m", "p"), 3))

	got := m.RangeLookup(1, base.Key("b"), base.Key("n"))
	require.Len(t, got, 3)
}

func TestRemoveMarksPendingDelete(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	require.NoError(t, m.Insert(1, entry("e", "k"), 2))

	removed, err := m.Remove(1, base.Key("a"), 1, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"a-c.sst"}, removed)
	require.Len(t, m.Levels[1], 1)
	require.EqualValues(t, 3, m.PendingDeletes["a-c.sst"])
	require.EqualValues(t, 3, m.ManifestSQN)
}

func TestBasementRecomputedOnEmptyLevel(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	require.NoError(t, m.Insert(3, entry("x", "z"), 2))
	require.Equal(t, 3, m.Basement)

	_, err := m.Remove(3, base.Key("x"), 1, 3)
	require.NoError(t, err)
	require.Equal(t, 1, m.Basement)
}

func TestSwitchMovesWithoutPendingDelete(t *testing.T) {
	m := New(nil)
	e := entry("a", "c")
	require.NoError(t, m.Insert(1, e, 1))
	require.NoError(t, m.Switch(1, e, 2))

	require.Len(t, m.Levels[1], 0)
	require.Len(t, m.Levels[2], 1)
	require.Empty(t, m.PendingDeletes)
}

func TestCheckForWork(t *testing.T) {
	m := New(nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Insert(1, entry(string(rune('a'+i)), string(rune('a'+i))), uint64(i+1)))
	}
	overLevels, excess := m.CheckForWork()
	require.Equal(t, []int(nil), overLevels) // target for L1 is 8
	require.Equal(t, 0, excess)

	for i := 2; i < 10; i++ {
		require.NoError(t, m.Insert(1, entry(string(rune('a'+i)), string(rune('a'+i))), uint64(i+1)))
	}
	overLevels, excess = m.CheckForWork()
	require.Equal(t, []int{1}, overLevels)
	require.Equal(t, 2, excess)
}

func TestCheckForWorkDispatchesLevelZeroAheadOfEverythingElse(t *testing.T) {
	m := New(nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Insert(1, entry(string(rune('a'+i)), string(rune('a'+i))), uint64(i+1)))
	}
	require.NoError(t, m.Insert(0, entry("q", "q"), 100))

	// Level 1 is well past its target of 8, but level 0 holding any
	// file at all takes priority: it must drain before the cache can
	// flush into it again.
	overLevels, excess := m.CheckForWork()
	require.Equal(t, []int{0}, overLevels)
	require.Equal(t, 1, excess)
}

func TestMergefileSelectorDeterministicWithSeed(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "a"), 1))
	require.NoError(t, m.Insert(1, entry("b", "b"), 2))
	require.NoError(t, m.Insert(1, entry("c", "c"), 3))

	rng1 := rand.New(rand.NewSource(42))
	rng2 := rand.New(rand.NewSource(42))
	e1, ok := m.MergefileSelector(1, rng1)
	require.True(t, ok)
	e2, ok := m.MergefileSelector(1, rng2)
	require.True(t, ok)
	require.Equal(t, e1.Filename, e2.Filename)
}

func TestSnapshotRegistryAndReadyToDelete(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	now := time.Now()

	m.AddSnapshot("holder-1", time.Hour, now)
	require.EqualValues(t, 1, m.MinSnapshotSQN)

	removed, err := m.Remove(1, base.Key("a"), 1, 2)
	require.NoError(t, err)
	require.False(t, m.ReadyToDelete(removed[0]))

	m.ReleaseSnapshot("holder-1")
	require.EqualValues(t, 0, m.MinSnapshotSQN)
	require.True(t, m.ReadyToDelete(removed[0]))
	require.NotContains(t, m.PendingDeletes, removed[0])
}

func TestExpireSnapshots(t *testing.T) {
	m := New(nil)
	now := time.Now()
	m.AddSnapshot("stale", time.Millisecond, now.Add(-time.Hour))
	m.AddSnapshot("fresh", time.Hour, now)

	expired := m.ExpireSnapshots(now)
	require.Equal(t, []string{"stale"}, expired)
	require.Len(t, m.Snapshots, 1)
}

func TestCloneForSnapshotBlanksVolatileFields(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Insert(1, entry("a", "c"), 1))
	m.AddSnapshot("holder", time.Hour, time.Now())

	c := m.CloneForSnapshot()
	require.Empty(t, c.Snapshots)
	require.Empty(t, c.PendingDeletes)
	require.Len(t, c.Levels[1], 1)
}
