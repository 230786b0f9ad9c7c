// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package reader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/cache"
	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/codec"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/sstable"
)

func newSource(t *testing.T, root string) (Source, *cache.Cache, *manifest.Manifest) {
	t.Helper()
	cdc := codec.Default(base.DefaultComparer, nil)
	c := cache.New(cdc.MagicHash)
	m := manifest.New(base.DefaultComparer)
	s := Source{
		Cache: c, Manifest: m, Codec: cdc, Logger: base.DefaultLogger{},
		IteratorScanwidth: 2,
	}
	return s, c, m
}

func putFile(t *testing.T, root, filename string, level int, m *manifest.Manifest, gen uint64, kv ...base.Record) {
	t.Helper()
	var maxSQN base.SQN
	for _, r := range kv {
		if r.Value.SQN > maxSQN {
			maxSQN = r.Value.SQN
		}
	}
	h, start, end, err := sstable.New(root, filename, level, kv, maxSQN)
	require.NoError(t, err)
	require.NoError(t, m.Insert(level, manifest.Entry{Start: start, End: end, Filename: filename, Owner: h}, gen))
}

func rec(key string, sqn int) base.Record {
	return base.Record{Key: base.Key(key), Value: base.Value{SQN: base.SQN(sqn)}}
}

func TestFetchCacheHitWinsOverLevels(t *testing.T) {
	root := t.TempDir()
	s, c, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("a", 1))
	_, err := c.Push([]base.Record{rec("a", 5)})
	require.NoError(t, err)

	got, ok, err := s.Fetch(base.Key("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, got.Value.SQN)
}

func TestFetchFallsThroughLevels(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("b", 2))

	got, ok, err := s.Fetch(base.Key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, got.Value.SQN)

	_, ok, err = s.Fetch(base.Key("zzz"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetchRejectsNoLookup(t *testing.T) {
	root := t.TempDir()
	s, _, _ := newSource(t, root)
	_, _, err := s.FetchWithHash(base.Key("a"), base.NoLookup)
	require.ErrorIs(t, err, base.ErrNoLookup)
}

func TestCheckSQN(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("a", 5))
	cdc := s.Codec

	ok, err := s.CheckSQN(base.Key("a"), cdc.MagicHash(base.Key("a")), 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CheckSQN(base.Key("a"), cdc.MagicHash(base.Key("a")), 2)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CheckSQN(base.Key("missing"), cdc.MagicHash(base.Key("missing")), 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetchKeysMergesAcrossLevelsWithDominance(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	// level 2 holds K1@5, K5@4; level 3 holds K3@3; level 5 holds K5@2.
	putFile(t, root, "l2.sst", 2, m, 1, rec("K1", 5), rec("K5", 4))
	putFile(t, root, "l3.sst", 3, m, 2, rec("K3", 3))
	putFile(t, root, "l5.sst", 5, m, 3, rec("K5", 2))

	out, err := s.FetchKeys(base.Key("K0"), base.Key("K9"), -1)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, base.Key("K1"), out[0].Key)
	require.Equal(t, base.Key("K3"), out[1].Key)
	require.Equal(t, base.Key("K5"), out[2].Key)
	require.EqualValues(t, 4, out[2].Value.SQN) // higher of the two K5 sqns wins
}

func TestFetchKeysInMemoryShadowsLevels(t *testing.T) {
	root := t.TempDir()
	s, c, m := newSource(t, root)
	putFile(t, root, "l4.sst", 4, m, 1, rec("K1", 5), rec("K3", 3), rec("K5", 2))
	_, err := c.Push([]base.Record{rec("K1", 8), rec("K6", 7), rec("K8", 9)})
	require.NoError(t, err)

	out, err := s.FetchKeys(base.Key("K1"), base.Key("K6"), -1)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, []base.Record{rec("K1", 8), rec("K3", 3), rec("K5", 2), rec("K6", 7)}, out)
}

func TestFetchKeysMax(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("a", 1), rec("b", 1), rec("c", 1))

	out, err := s.FetchKeys(base.Key("a"), base.Key("z"), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, base.Key("a"), out[0].Key)
	require.Equal(t, base.Key("b"), out[1].Key)
}

func TestFetchNextKey(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("a", 1), rec("b", 1), rec("c", 1))

	got, ok, err := s.FetchNextKey(base.Key("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Key("a"), got.Key)

	got, ok, err = s.FetchNextKey(base.Key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Key("b"), got.Key)
}

func TestFetchNextKeyConsultsCache(t *testing.T) {
	root := t.TempDir()
	s, c, m := newSource(t, root)
	putFile(t, root, "l1.sst", 1, m, 1, rec("c", 1))
	_, err := c.Push([]base.Record{rec("a", 1)})
	require.NoError(t, err)

	// "a" is pushed but not yet flushed — it lives only in the cache.
	// The unbounded fold must still find it ahead of the level-1 file.
	got, ok, err := s.FetchNextKey(base.Key("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Key("a"), got.Key)

	got, ok, err = s.FetchNextKey(base.Key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Key("c"), got.Key)
}

func TestFetchKeysScanwidthSpillsAcrossMultipleExpansions(t *testing.T) {
	root := t.TempDir()
	s, _, m := newSource(t, root)
	var kv []base.Record
	for i := 0; i < 10; i++ {
		kv = append(kv, rec(string(rune('a'+i)), i+1))
	}
	putFile(t, root, "l1.sst", 1, m, 1, kv...)

	out, err := s.FetchKeys(base.Key("a"), base.Key("z"), -1)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, r := range out {
		require.Equal(t, kv[i].Key, r.Key)
	}
}
