// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compaction

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/sstable"
)

// maxRecordsPerFile bounds how many records one output SST holds
// before the merge rolls over to a new file, loosely mirroring the
// teacher's practice of splitting compaction output by target file
// size (compaction.go) without needing to reason about byte sizes —
// out of scope here since the SST implementation itself is (§1).
const maxRecordsPerFile = 2048

// Result is what a single compaction round produces: a new manifest
// generation and the level it targeted. Level 0 is special — its one
// entry always compacts into L1 (spec.md §4.4, "Level 0 is special").
// Obsoleted lists the source entries the round superseded, so the
// coordinator can drive their confirm_delete polling loop (spec.md
// §4.4 step 4) once the new manifest has committed.
type Result struct {
	Manifest  *manifest.Manifest
	Level     int
	Obsoleted []manifest.Entry
}

// Run performs one compaction round against a private snapshot of
// the manifest: pick a victim file at level (randomly, via
// MergefileSelector), find every overlapping file at level+1, merge
// them, write new SSTs, and return a new manifest with the source
// entries removed and the merged entries inserted at level+1. The
// caller (the penciller server) is responsible for merging this
// result's volatile fields (snapshots, pending_deletes) back into its
// own live manifest before committing — the worker's snapshot lacks
// them by construction (spec.md §4.4 step 3).
func Run(
	root string, snapshot *manifest.Manifest, level int, rng *rand.Rand,
) (Result, error) {
	targetLevel := level + 1
	if level == 0 {
		targetLevel = 1
	}

	victim, ok := snapshot.MergefileSelector(level, rng)
	if !ok {
		return Result{}, errors.Newf("compaction: level %d has no entries to select", level)
	}

	overlapping := snapshot.RangeLookup(targetLevel, victim.Start, victim.End)

	merged := mergeRecords(snapshot.Comparer(), victim, overlapping)
	if len(merged) == 0 {
		return Result{}, errors.Newf("compaction: merge of %s produced no records", victim.Filename)
	}

	newGen := snapshot.ManifestSQN + 1
	newEntries, maxSQN, err := writeOutputFiles(root, newGen, targetLevel, merged)
	if err != nil {
		return Result{}, err
	}
	_ = maxSQN

	next := snapshot.Clone()
	if level == 0 {
		if _, err := next.Remove(0, victim.Start, 1, newGen); err != nil {
			return Result{}, err
		}
	} else {
		if _, err := next.Remove(level, victim.Start, 1, newGen); err != nil {
			return Result{}, err
		}
	}
	if len(overlapping) > 0 {
		if _, err := next.Remove(targetLevel, overlapping[0].Start, len(overlapping), newGen); err != nil {
			return Result{}, err
		}
	}
	for _, e := range newEntries {
		if err := next.Insert(targetLevel, e, newGen); err != nil {
			return Result{}, err
		}
	}
	obsoleted := append([]manifest.Entry{victim}, overlapping...)
	return Result{Manifest: next, Level: level, Obsoleted: obsoleted}, nil
}

// mergeRecords merges a victim's records with every overlapping
// entry's records, keeping the highest-SQN record for each key —
// the same dominance rule the range fold uses (spec.md §4.3, §8
// "Range dominance"). Output order follows cmp, the same comparer the
// manifest and cache use, not raw byte order — a custom Comparer must
// be honored here too.
func mergeRecords(cmp *base.Comparer, victim manifest.Entry, overlapping []manifest.Entry) []base.Record {
	byKey := make(map[string]base.Record)
	var order []base.Key
	add := func(recs []base.Record) {
		for _, r := range recs {
			k := string(r.Key)
			if existing, ok := byKey[k]; !ok || r.Value.SQN > existing.Value.SQN {
				if _, seen := byKey[k]; !seen {
					order = append(order, r.Key)
				}
				byKey[k] = r
			}
		}
	}
	add(allRecords(victim.Owner))
	for _, e := range overlapping {
		add(allRecords(e.Owner))
	}
	sort.Slice(order, func(i, j int) bool { return cmp.Compare(order[i], order[j]) < 0 })
	out := make([]base.Record, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[string(k)])
	}
	return out
}

func allRecords(h *sstable.Handle) []base.Record {
	out := make([]base.Record, h.Len())
	for i := 0; i < h.Len(); i++ {
		out[i] = h.At(i)
	}
	return out
}

func writeOutputFiles(
	root string, manifestSQN uint64, level int, merged []base.Record,
) ([]manifest.Entry, base.SQN, error) {
	var entries []manifest.Entry
	var overallMax base.SQN
	for start, n := 0, 0; start < len(merged); start += maxRecordsPerFile {
		end := start + maxRecordsPerFile
		if end > len(merged) {
			end = len(merged)
		}
		chunk := merged[start:end]
		var maxSQN base.SQN
		for _, r := range chunk {
			if r.Value.SQN > maxSQN {
				maxSQN = r.Value.SQN
			}
		}
		filename := fmt.Sprintf("%d_%d_%d.sst", manifestSQN, level, n)
		h, s, e, err := sstable.New(root, filename, level, chunk, maxSQN)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, manifest.Entry{Start: s, End: e, Filename: filename, Owner: h})
		if maxSQN > overallMax {
			overallMax = maxSQN
		}
		n++
	}
	return entries, overallMax, nil
}
