// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/sstable"
)

func buildFile(t *testing.T, root, filename string, level int) Entry {
	t.Helper()
	h, start, end, err := sstable.New(root, filename, level, []base.Record{
		{Key: base.Key("a"), Value: base.Value{SQN: 1}},
		{Key: base.Key("b"), Value: base.Value{SQN: 2}},
	}, 2)
	require.NoError(t, err)
	return Entry{Start: start, End: end, Filename: filename, Owner: h}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := New(nil)
	e := buildFile(t, root, "1_1_0.sst", 1)
	require.NoError(t, m.Insert(1, e, 7))

	require.NoError(t, Save(root, m))

	loaded, err := Load(root, nil, func(filename string, level int) (*sstable.Handle, error) {
		h, _, _, err := sstable.Open(root, filename, level)
		return h, err
	}, func(string, ...interface{}) {})
	require.NoError(t, err)
	require.EqualValues(t, 7, loaded.ManifestSQN)
	require.Len(t, loaded.Levels[1], 1)
	require.Equal(t, "1_1_0.sst", loaded.Levels[1][0].Filename)
}

func TestLoadFallsBackOnCRCMismatch(t *testing.T) {
	root := t.TempDir()
	m := New(nil)
	e := buildFile(t, root, "1_1_0.sst", 1)
	require.NoError(t, m.Insert(1, e, 1))
	require.NoError(t, Save(root, m))

	require.NoError(t, m.Insert(1, buildFile(t, root, "2_1_0.sst", 1), 2))
	require.NoError(t, Save(root, m))

	// Corrupt the newest generation.
	newest := filepath.Join(manifestDir(root), committedName(2))
	data, err := os.ReadFile(newest)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(newest, data, 0o644))

	var logged []string
	loaded, err := Load(root, nil, func(filename string, level int) (*sstable.Handle, error) {
		h, _, _, err := sstable.Open(root, filename, level)
		return h, err
	}, func(f string, a ...interface{}) { logged = append(logged, f) })
	require.NoError(t, err)
	require.EqualValues(t, 1, loaded.ManifestSQN)
	require.NotEmpty(t, logged)
}

func TestLoadEmptyWhenNoGenerationsValid(t *testing.T) {
	root := t.TempDir()
	loaded, err := Load(root, nil, nil, func(string, ...interface{}) {})
	require.NoError(t, err)
	require.EqualValues(t, 0, loaded.ManifestSQN)
}

func TestProbeLevelZero(t *testing.T) {
	root := t.TempDir()
	_, found := ProbeLevelZero(root, 5)
	require.False(t, found)

	_ = buildFile(t, root, "6_0_0.sst", 0)
	name, found := ProbeLevelZero(root, 5)
	require.True(t, found)
	require.Equal(t, "6_0_0.sst", name)
}

func TestGCOldGenerationsKeepsNewestThree(t *testing.T) {
	root := t.TempDir()
	m := New(nil)
	for i := uint64(1); i <= 5; i++ {
		m.ManifestSQN = i
		require.NoError(t, Save(root, m))
	}
	entries, err := os.ReadDir(manifestDir(root))
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
