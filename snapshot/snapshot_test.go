// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/cache"
	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/codec"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/reader"
	"github.com/project-fifo/leveled/internal/sstable"
)

type fakeOwner struct {
	released []string
}

func (f *fakeOwner) ReleaseSnapshotHolder(holder string) {
	f.released = append(f.released, holder)
}

func rec(key string, sqn int) base.Record {
	return base.Record{Key: base.Key(key), Value: base.Value{SQN: base.SQN(sqn)}}
}

func buildSource(t *testing.T, root string) reader.Source {
	t.Helper()
	cdc := codec.Default(base.DefaultComparer, nil)
	m := manifest.New(base.DefaultComparer)
	h, start, end, err := sstable.New(root, "l1.sst", 1, []base.Record{rec("a", 1), rec("b", 2), rec("c", 3)}, 3)
	require.NoError(t, err)
	require.NoError(t, m.Insert(1, manifest.Entry{Start: start, End: end, Filename: "l1.sst", Owner: h}, 1))
	c := cache.New(cdc.MagicHash)
	return reader.Source{Cache: c, Manifest: m, Codec: cdc, Logger: base.DefaultLogger{}, IteratorScanwidth: 2}
}

func TestFullSnapshotFetchAndFold(t *testing.T) {
	root := t.TempDir()
	owner := &fakeOwner{}
	s := NewFull(owner, "h1", time.Now().Add(time.Minute), buildSource(t, root))

	got, ok, err := s.Fetch(base.Key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, got.Value.SQN)

	out, err := s.FetchKeys(base.Key("a"), base.Key("c"), -1)
	require.NoError(t, err)
	require.Len(t, out, 3)

	s.Release()
	require.Equal(t, []string{"h1"}, owner.released)
	s.Release()
	require.Equal(t, []string{"h1"}, owner.released) // idempotent

	_, _, err = s.Fetch(base.Key("a"))
	require.ErrorIs(t, err, base.ErrClosed)
}

func TestNoLookupSnapshotRejectsFetch(t *testing.T) {
	root := t.TempDir()
	owner := &fakeOwner{}
	s := NewNoLookup(owner, "h2", time.Now().Add(time.Minute), buildSource(t, root))
	defer s.Release()

	_, _, err := s.Fetch(base.Key("a"))
	require.ErrorIs(t, err, ErrFetchUnsupported)

	out, err := s.FetchKeys(base.Key("a"), base.Key("c"), -1)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestMaterializedSnapshotServesBakedRangeOnly(t *testing.T) {
	records := []base.Record{rec("a", 1), rec("b", 2), rec("c", 3)}
	s := NewMaterialized(nil, "h3", time.Now().Add(time.Minute), base.DefaultComparer, base.Key("a"), base.Key("c"), records)
	defer s.Release()

	_, _, err := s.Fetch(base.Key("a"))
	require.ErrorIs(t, err, ErrFetchUnsupported)

	out, err := s.FetchKeys(base.Key("a"), base.Key("b"), -1)
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, err = s.FetchKeys(base.Key("a"), base.Key("z"), -1)
	require.Error(t, err)

	next, ok, err := s.FetchNextKey(base.Key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.Key("b"), next.Key)
}

func TestSnapshotExpiresByDeadline(t *testing.T) {
	root := t.TempDir()
	owner := &fakeOwner{}
	s := NewFull(owner, "h4", time.Now().Add(-time.Second), buildSource(t, root))
	_, _, err := s.Fetch(base.Key("a"))
	require.ErrorIs(t, err, base.ErrSnapshotExpired)
}
