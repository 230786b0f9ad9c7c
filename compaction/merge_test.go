// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compaction

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/sstable"
)

func buildEntry(t *testing.T, root, filename string, level int, kv ...struct {
	key string
	sqn int
}) manifest.Entry {
	t.Helper()
	var recs []base.Record
	var maxSQN base.SQN
	for _, e := range kv {
		recs = append(recs, base.Record{Key: base.Key(e.key), Value: base.Value{SQN: base.SQN(e.sqn)}})
		if base.SQN(e.sqn) > maxSQN {
			maxSQN = base.SQN(e.sqn)
		}
	}
	h, start, end, err := sstable.New(root, filename, level, recs, maxSQN)
	require.NoError(t, err)
	return manifest.Entry{Start: start, End: end, Filename: filename, Owner: h}
}

func kv(key string, sqn int) struct {
	key string
	sqn int
} {
	return struct {
		key string
		sqn int
	}{key, sqn}
}

func TestScheduleNoWork(t *testing.T) {
	m := manifest.New(nil)
	d := Schedule(m, 4)
	require.False(t, d.HasWork)
}

func TestScheduleDispatchesWithoutBacklog(t *testing.T) {
	m := manifest.New(nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Insert(1, manifest.Entry{Start: base.Key{byte(i)}, End: base.Key{byte(i)}, Filename: "f"}, uint64(i+1)))
	}
	d := Schedule(m, 4)
	require.True(t, d.HasWork)
	require.Equal(t, 1, d.Level)
	require.False(t, d.Backlog)
	require.Equal(t, 2, d.ExcessCount)
}

func TestScheduleRaisesBacklog(t *testing.T) {
	m := manifest.New(nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Insert(1, manifest.Entry{Start: base.Key{byte(i)}, End: base.Key{byte(i)}, Filename: "f"}, uint64(i+1)))
	}
	d := Schedule(m, 4)
	require.True(t, d.HasWork)
	require.True(t, d.Backlog)
}

func TestRunMergesOverlapAndAdvancesGeneration(t *testing.T) {
	root := t.TempDir()
	m := manifest.New(nil)

	victim := buildEntry(t, root, "l0.sst", 0, kv("b", 5), kv("d", 1))
	require.NoError(t, m.Insert(0, victim, 1))

	overlap := buildEntry(t, root, "l1a.sst", 1, kv("a", 1), kv("b", 2), kv("c", 1))
	require.NoError(t, m.Insert(1, overlap, 2))

	rng := rand.New(rand.NewSource(1))
	result, err := Run(root, m, 0, rng)
	require.NoError(t, err)
	require.Equal(t, 0, result.Level)
	require.EqualValues(t, 3, result.Manifest.ManifestSQN)
	require.Empty(t, result.Manifest.Levels[0])
	require.Len(t, result.Manifest.Levels[1], 1)

	out := result.Manifest.Levels[1][0]
	rec, ok, err := out.Owner.Get(base.Key("b"), base.NoLookup)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, rec.Value.SQN) // L0's b@5 shadows L1's b@2

	_, ok, _ = out.Owner.Get(base.Key("a"), base.NoLookup)
	require.True(t, ok)
	_, ok, _ = out.Owner.Get(base.Key("d"), base.NoLookup)
	require.True(t, ok)
}
