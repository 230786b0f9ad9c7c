// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/sstable"
)

const manifestDirName = "ledger_manifest"

func manifestDir(root string) string {
	return filepath.Join(root, "ledger", manifestDirName)
}

func pendingName(sqn uint64) string  { return fmt.Sprintf("nonzero_%d.pnd", sqn) }
func committedName(sqn uint64) string { return fmt.Sprintf("nonzero_%d.crr", sqn) }

// level0Filename is the filename the L0 admission state machine uses
// when it builds an L0 file. Save persists L0 entries alongside every
// other level, and Load restores them from the body; probing for this
// file only finds an L0 file that has no committed manifest entry, and
// such a file is not added to the loaded manifest.
func level0Filename(manifestSQN uint64) string {
	return fmt.Sprintf("%d_0_0.sst", manifestSQN+1)
}

// ProbeLevelZero reports whether an L0 file for the given (pre-flush)
// manifest generation exists on disk.
func ProbeLevelZero(root string, manifestSQN uint64) (string, bool) {
	name := level0Filename(manifestSQN)
	if _, err := os.Stat(sstable.PathForFile(root, name)); err == nil {
		return name, true
	}
	return "", false
}

// persistedEntry is the on-wire shape of an Entry: only what survives
// a restart. Owner (the live handle) is reconstructed by Open.
type persistedEntry struct {
	Start, End base.Key
	Filename   string
}

// body is the serialized manifest record, per spec.md §6: "body is a
// serialized manifest record containing only {levels, manifest_sqn,
// basement}". Snapshots and pending_deletes are volatile/observer
// state and are never persisted.
type body struct {
	Levels      [numLevels][]persistedEntry
	ManifestSQN uint64
	Basement    int
}

func encodeBody(b body) []byte {
	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)
	binary.Write(bw, binary.LittleEndian, uint64(b.ManifestSQN))
	binary.Write(bw, binary.LittleEndian, uint32(b.Basement))
	for l := 0; l < numLevels; l++ {
		binary.Write(bw, binary.LittleEndian, uint32(len(b.Levels[l])))
		for _, e := range b.Levels[l] {
			writeBytes(bw, e.Start)
			writeBytes(bw, e.End)
			writeBytes(bw, []byte(e.Filename))
		}
	}
	bw.Flush()
	return buf.Bytes()
}

func decodeBody(data []byte) (body, error) {
	var b body
	r := bytes.NewReader(data)
	var sqn uint64
	if err := binary.Read(r, binary.LittleEndian, &sqn); err != nil {
		return b, err
	}
	b.ManifestSQN = sqn
	var basement uint32
	if err := binary.Read(r, binary.LittleEndian, &basement); err != nil {
		return b, err
	}
	b.Basement = int(basement)
	for l := 0; l < numLevels; l++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return b, err
		}
		entries := make([]persistedEntry, n)
		for i := uint32(0); i < n; i++ {
			start, err := readBytes(r)
			if err != nil {
				return b, err
			}
			end, err := readBytes(r)
			if err != nil {
				return b, err
			}
			filename, err := readBytes(r)
			if err != nil {
				return b, err
			}
			entries[i] = persistedEntry{Start: base.Key(start), End: base.Key(end), Filename: string(filename)}
		}
		b.Levels[l] = entries
	}
	return b, nil
}

func writeBytes(w io.Writer, b []byte) {
	binary.Write(w, binary.LittleEndian, uint32(len(b)))
	w.Write(b)
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	return b, err
}

// Save persists the manifest as the next committed generation: a
// "nonzero_<sqn>.pnd" file is written first, then atomically renamed
// to "nonzero_<sqn>.crr" — the rename is the commit point (spec.md
// §4.1, §6). The body is framed as CRC32 ‖ serialized body.
func Save(root string, m *Manifest) error {
	dir := manifestDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b := body{ManifestSQN: m.ManifestSQN, Basement: m.Basement}
	for l := 0; l < numLevels; l++ {
		for _, e := range m.Levels[l] {
			b.Levels[l] = append(b.Levels[l], persistedEntry{Start: e.Start, End: e.End, Filename: e.Filename})
		}
	}
	encoded := encodeBody(b)
	crc := crc32.ChecksumIEEE(encoded)

	pending := filepath.Join(dir, pendingName(m.ManifestSQN))
	f, err := os.Create(pending)
	if err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, crc); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	committed := filepath.Join(dir, committedName(m.ManifestSQN))
	if err := os.Rename(pending, committed); err != nil {
		return err
	}
	gcOldGenerations(dir, m.ManifestSQN)
	return nil
}

// gcOldGenerations opportunistically unlinks committed manifest files
// strictly older than the three newest generations. spec.md §3 notes
// this is never required for correctness — the newest intact .crr
// always suffices — so failures here are ignored.
func gcOldGenerations(dir string, newest uint64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var sqns []uint64
	for _, e := range entries {
		if sqn, ok := parseCrr(e.Name()); ok {
			sqns = append(sqns, sqn)
		}
	}
	sort.Slice(sqns, func(i, j int) bool { return sqns[i] > sqns[j] })
	const keep = 3
	if len(sqns) <= keep {
		return
	}
	for _, sqn := range sqns[keep:] {
		os.Remove(filepath.Join(dir, committedName(sqn)))
	}
}

func parseCrr(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "nonzero_") || !strings.HasSuffix(name, ".crr") {
		return 0, false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, "nonzero_"), ".crr")
	sqn, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return sqn, true
}

// OpenFunc reopens an SST file by filename, reconstructing its owning
// handle. Supplied by the caller (the penciller server) so this
// package never imports a concrete storage backend beyond
// internal/sstable's path helpers.
type OpenFunc func(filename string, level int) (*sstable.Handle, error)

// Load opens the manifest directory, tries the highest-numbered .crr
// file first, and falls back to the next-highest on CRC mismatch; if
// none pass, it returns a fresh empty manifest (spec.md §4.1, §7).
// This makes the "accept data loss on universal CRC failure" Open
// Question from spec.md §9 explicit: Load never errors on corruption,
// it degrades to empty and logs through logf.
func Load(root string, cmp *base.Comparer, open OpenFunc, logf func(format string, args ...interface{})) (*Manifest, error) {
	dir := manifestDir(root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return New(cmp), nil
		}
		return nil, err
	}
	var sqns []uint64
	for _, e := range entries {
		if sqn, ok := parseCrr(e.Name()); ok {
			sqns = append(sqns, sqn)
		}
	}
	sort.Slice(sqns, func(i, j int) bool { return sqns[i] > sqns[j] })

	for _, sqn := range sqns {
		m, err := loadGeneration(root, dir, sqn, cmp, open)
		if err == nil {
			return m, nil
		}
		logf("manifest: generation %d failed to load (%v), trying next", sqn, err)
	}
	return New(cmp), nil
}

func loadGeneration(
	root, dir string, sqn uint64, cmp *base.Comparer, open OpenFunc,
) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, committedName(sqn)))
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, errors.Newf("manifest: generation %d truncated", sqn)
	}
	crc := binary.LittleEndian.Uint32(data[:4])
	encoded := data[4:]
	if got := crc32.ChecksumIEEE(encoded); got != crc {
		return nil, errors.Newf("manifest: generation %d CRC mismatch (file=%08x computed=%08x)", sqn, crc, got)
	}
	b, err := decodeBody(encoded)
	if err != nil {
		return nil, err
	}

	m := New(cmp)
	m.ManifestSQN = b.ManifestSQN
	m.Basement = b.Basement
	for l, pentries := range b.Levels {
		for _, pe := range pentries {
			h, err := open(pe.Filename, l)
			if err != nil {
				return nil, errors.Wrapf(err, "manifest: reopening %s", pe.Filename)
			}
			m.Levels[l] = append(m.Levels[l], Entry{Start: pe.Start, End: pe.End, Filename: pe.Filename, Owner: h})
		}
	}
	_ = root
	return m, nil
}
