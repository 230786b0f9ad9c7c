// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/internal/base"
)

func records(pairs ...interface{}) []base.Record {
	var out []base.Record
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, base.Record{
			Key:   base.Key(pairs[i].(string)),
			Value: base.Value{SQN: base.SQN(pairs[i+1].(int))},
		})
	}
	return out
}

func TestNewOpenGet(t *testing.T) {
	dir := t.TempDir()
	h, start, end, err := New(dir, "1_1_0.sst", 1, records("b", 2, "a", 1, "c", 3), 3)
	require.NoError(t, err)
	require.Equal(t, base.Key("a"), start)
	require.Equal(t, base.Key("c"), end)

	rec, ok, err := h.Get(base.Key("b"), base.NoLookup)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, rec.Value.SQN)

	_, ok, err = h.Get(base.Key("z"), base.NoLookup)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, h.Close())

	h2, start2, end2, err := Open(dir, "1_1_0.sst", 1)
	require.NoError(t, err)
	require.Equal(t, start, start2)
	require.Equal(t, end, end2)
	require.EqualValues(t, 3, h2.MaxSQN())
}

func TestDedupeKeepsHighestSQN(t *testing.T) {
	dir := t.TempDir()
	h, _, _, err := New(dir, "dup.sst", 1, records("a", 1, "a", 5, "a", 3), 5)
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())
	rec, _, _ := h.Get(base.Key("a"), base.NoLookup)
	require.EqualValues(t, 5, rec.Value.SQN)
}

func TestExpandPointer(t *testing.T) {
	dir := t.TempDir()
	h, _, _, err := New(dir, "wide.sst", 1, records("a", 1, "b", 2, "c", 3, "d", 4, "e", 5), 5)
	require.NoError(t, err)

	p := Pointer{Handle: h, Index: 0}
	recs, next := ExpandPointer(p, 4)
	require.Len(t, recs, 4)
	require.False(t, next.Done())

	recs, next = ExpandPointer(next, 4)
	require.Len(t, recs, 1)
	require.True(t, next.Done())
}

func TestDeleteConfirmed(t *testing.T) {
	dir := t.TempDir()
	h, _, _, err := New(dir, "gone.sst", 1, records("a", 1), 1)
	require.NoError(t, err)
	require.NoError(t, h.DeleteConfirmed())
	_, _, _, err = Open(dir, "gone.sst", 1)
	require.Error(t, err)
}
