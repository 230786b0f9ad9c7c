// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package penciller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/project-fifo/leveled/cache"
	"github.com/project-fifo/leveled/compaction"
	"github.com/project-fifo/leveled/config"
	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/internal/manifest"
	"github.com/project-fifo/leveled/internal/reader"
	"github.com/project-fifo/leveled/internal/sstable"
	"github.com/project-fifo/leveled/snapshot"
)

// Penciller is the single-writer server of spec.md §4.5. Every
// exported method that mutates state takes p.mu, mirroring the
// actor's serialized message handling; handlers are straight-line
// over in-memory state, matching spec.md §5's "no suspension points
// within a single message handler" save for the explicitly-tolerated
// blocking point-lookup SST call.
type Penciller struct {
	mu sync.Mutex

	cfg       config.Config
	cache     *cache.Cache
	admission *cache.Admission
	manifest  *manifest.Manifest
	compactor *compaction.Client

	state       cache.State
	workOngoing bool
	workBacklog bool
	ledgerSQN   base.SQN
	closed      bool
	doomed      bool

	nextSnapshotID uint64
}

// Open loads (or creates) the ledger at cfg.Root and starts the
// penciller's attached compactor worker, mirroring the `start`
// operation of spec.md §6.
func Open(cfg config.Config) (*Penciller, error) {
	cfg.EnsureDefaults()

	open := func(filename string, level int) (*sstable.Handle, error) {
		h, _, _, err := sstable.Open(cfg.Root, filename, level)
		return h, err
	}
	m, err := manifest.Load(cfg.Root, cfg.Comparer, open, cfg.Logger.Infof)
	if err != nil {
		return nil, err
	}

	if name, ok := manifest.ProbeLevelZero(cfg.Root, m.ManifestSQN); ok && len(m.Levels[0]) == 0 {
		cfg.Logger.Infof("penciller: found orphaned level-zero file %s with no matching manifest entry (crash between flush and commit)", name)
	}

	p := &Penciller{
		cfg:       cfg,
		cache:     cache.New(cfg.Codec.MagicHash),
		admission: cache.NewAdmission(cfg.MaxTableSize, cfg.HardCeiling, cfg.CoinTossFlush, cfg.RNGSeed),
		manifest:  m,
		state:     startupState(m),
		ledgerSQN: maxPersistedSQN(m),
	}
	p.compactor = compaction.New(cfg.Root, p, cfg.RNGSeed, cfg.MaxWorkWait, cfg.Logger)
	p.compactor.Start(context.Background())
	return p, nil
}

func startupState(m *manifest.Manifest) cache.State {
	if len(m.Levels[0]) > 0 {
		return cache.L0Resident
	}
	return cache.Idle
}

// maxPersistedSQN implements get_startup_sqn's invariant: the max SQN
// written into any persisted file, across every level (spec.md §8,
// "Restart recovery").
func maxPersistedSQN(m *manifest.Manifest) base.SQN {
	var max base.SQN
	for _, level := range m.Levels {
		for _, e := range level {
			if s := e.Owner.MaxSQN(); s > max {
				max = s
			}
		}
	}
	return max
}

// GetStartupSqn returns the ledger SQN: the max SQN persisted at open,
// raised by every push accepted since.
func (p *Penciller) GetStartupSqn() base.SQN {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledgerSQN
}

// LevelFileCount returns the number of files currently resident at
// level, for introspection tools (pencli's manifest command).
func (p *Penciller) LevelFileCount(level int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.manifest.Levels[level])
}

// Push accepts a batch of records from the bookie (push_mem, spec.md
// §4.2). It either appends the batch to the L0 cache and returns nil,
// or refuses admission with ErrReturned as a flow-control signal when
// the cache is flushing or the compactor has raised a work backlog.
func (p *Penciller) Push(kv []base.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return base.ErrClosed
	}
	if p.state == cache.Flushing || p.workBacklog {
		p.cfg.Metrics.RecordPushRejected()
		return base.ErrReturned
	}

	var maxSQN base.SQN
	for _, r := range kv {
		if r.Value.SQN > maxSQN {
			maxSQN = r.Value.SQN
		}
	}
	if p.cfg.StrictSQNOrdering && maxSQN < p.ledgerSQN {
		return errors.Newf("penciller: push max SQN %d regresses ledger SQN %d", maxSQN, p.ledgerSQN)
	}

	if _, err := p.cache.Push(kv); err != nil {
		return err
	}
	p.cfg.Metrics.RecordPush()
	if maxSQN > p.ledgerSQN {
		p.ledgerSQN = maxSQN
	}

	level0Present := len(p.manifest.Levels[0]) > 0
	if p.admission.ShouldFlush(p.cache.Size(), level0Present, p.workOngoing) {
		p.startFlush()
	}
	return nil
}

// startFlush freezes the current cache behind the Flushing state and
// spawns the asynchronous L0 writer (spec.md §4.2). Called with p.mu
// held; the writer calls back into onL0Complete on its own goroutine.
func (p *Penciller) startFlush() {
	p.state = cache.Flushing
	nBatches := p.cache.NumBatches()
	batches := make([]*cache.Batch, nBatches)
	for i := 0; i < nBatches; i++ {
		batches[i] = p.cache.BatchAt(i)
	}
	filename := fmt.Sprintf("%d_0_0.sst", p.manifest.ManifestSQN+1)
	maxSQN := p.ledgerSQN

	fetchFn := func(slot int) ([]base.Record, error) {
		b := batches[slot]
		recs := make([]base.Record, b.Len())
		for i := 0; i < b.Len(); i++ {
			recs[i] = b.At(i)
		}
		return recs, nil
	}
	sstable.NewLevelZero(p.cfg.Root, filename, nBatches, fetchFn, p.onL0Complete, maxSQN)
}

// onL0Complete is the L0 writer's notify callback (spec.md §4.2, "On
// writer completion"); it runs on the writer's own goroutine and
// re-enters the actor under its own lock, the same way any other
// message would.
func (p *Penciller) onL0Complete(filename string, start, end base.Key, maxSQN base.SQN, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.cfg.Logger.Errorf("penciller: level-zero build %s failed: %v", filename, err)
		p.state = startupState(p.manifest)
		return
	}

	h, _, _, openErr := sstable.Open(p.cfg.Root, filename, 0)
	if openErr != nil {
		p.cfg.Logger.Errorf("penciller: reopening level-zero file %s: %v", filename, openErr)
		p.state = startupState(p.manifest)
		return
	}

	newGen := p.manifest.ManifestSQN + 1
	if err := p.manifest.Insert(0, manifest.Entry{Start: start, End: end, Filename: filename, Owner: h}, newGen); err != nil {
		p.cfg.Logger.Errorf("penciller: inserting level-zero entry: %v", err)
		return
	}
	if err := manifest.Save(p.cfg.Root, p.manifest); err != nil {
		p.cfg.Logger.Errorf("penciller: persisting manifest after level-zero flush: %v", err)
	}
	p.cache.Clear()
	p.state = cache.L0Resident
	p.cfg.Metrics.RecordFlush()
}

// source builds a reader.Source over the live cache and manifest,
// used only for the bounded-latency point-lookup path — never handed
// out for a range fold, which must go through a snapshot (spec.md
// §5).
func (p *Penciller) source() reader.Source {
	return reader.Source{
		Cache: p.cache, Manifest: p.manifest, Codec: p.cfg.Codec, Logger: p.cfg.Logger,
		SlowFetchThreshold: p.cfg.SlowFetchThreshold, IteratorScanwidth: p.cfg.IteratorScanwidth,
	}
}

// Fetch performs a point lookup for key (spec.md §4.3).
func (p *Penciller) Fetch(key base.Key) (base.Record, bool, error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.cfg.Metrics.RecordFetchLatency(time.Since(start)) }()
	if p.closed {
		return base.Record{}, false, base.ErrClosed
	}
	return p.source().Fetch(key)
}

// FetchWithHash is Fetch with a precomputed hash.
func (p *Penciller) FetchWithHash(key base.Key, hash base.Hash) (base.Record, bool, error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.cfg.Metrics.RecordFetchLatency(time.Since(start)) }()
	if p.closed {
		return base.Record{}, false, base.ErrClosed
	}
	return p.source().FetchWithHash(key, hash)
}

// CheckSQN reports whether the live record for key has SQN <= sqn.
func (p *Penciller) CheckSQN(key base.Key, hash base.Hash, sqn base.SQN) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, base.ErrClosed
	}
	return p.source().CheckSQN(key, hash, sqn)
}

// FetchKeys folds the merged view over [start, end]. Per spec.md §5,
// a range query must never run against the live penciller's mutable
// state directly; this takes an internal, momentary snapshot and
// folds over the frozen clone instead, releasing p.mu before doing
// any SST I/O.
func (p *Penciller) FetchKeys(start, end base.Key, max int) ([]base.Record, error) {
	snap, err := p.registerInternalSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.release()
	return snap.source.FetchKeys(start, end, max)
}

// FetchNextKey implements fetch_next_key as fetch_keys with max=1 and
// no upper bound.
func (p *Penciller) FetchNextKey(start base.Key) (base.Record, bool, error) {
	snap, err := p.registerInternalSnapshot()
	if err != nil {
		return base.Record{}, false, err
	}
	defer snap.release()
	return snap.source.FetchNextKey(start)
}

// internalSnapshot is the momentary clone FetchKeys/FetchNextKey use
// internally; it is distinct from the registered, caller-visible
// snapshots of package snapshot, which pin files for an
// externally-controlled lifetime.
type internalSnapshot struct {
	source  reader.Source
	release func()
}

func (p *Penciller) registerInternalSnapshot() (internalSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return internalSnapshot{}, base.ErrClosed
	}
	holder := fmt.Sprintf("internal-fold-%d", p.nextSnapshotID)
	p.nextSnapshotID++
	p.manifest.AddSnapshot(holder, p.cfg.SnapshotDefaultTimeout, time.Now())
	m := p.manifest.CloneForSnapshot()
	c := p.cache.Clone()
	return internalSnapshot{
		source: reader.Source{
			Cache: c, Manifest: m, Codec: p.cfg.Codec, Logger: p.cfg.Logger,
			SlowFetchThreshold: p.cfg.SlowFetchThreshold, IteratorScanwidth: p.cfg.IteratorScanwidth,
		},
		release: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.manifest.ReleaseSnapshot(holder)
		},
	}, nil
}

// WorkForClerk implements compaction.Coordinator (spec.md §4.4 step
// 1). It withholds work while an L0 flush is in flight: the flush's
// own commit (onL0Complete) recomputes its manifest generation fresh
// against live state under p.mu, but a dispatched compaction round
// carries a generation computed from the stale clone it was handed at
// dispatch time, so the two must never be in flight together or
// whichever commits second can reuse a generation number the other
// just took, dropping an entry (spec.md §8, strict manifest-generation
// monotonicity).
func (p *Penciller) WorkForClerk() (int, *manifest.Manifest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, nil, false
	}
	if p.state == cache.Flushing {
		return 0, nil, false
	}
	decision := compaction.Schedule(p.manifest, p.cfg.WorkqueueBacklogTolerance)
	if !decision.HasWork {
		p.workOngoing = false
		p.workBacklog = false
		return 0, nil, false
	}
	p.workOngoing = true
	p.workBacklog = decision.Backlog
	return decision.Level, p.manifest.CloneForSnapshot(), true
}

// ManifestChange implements compaction.Coordinator (spec.md §4.4 step
// 3): it merges the worker's result back over the live manifest's
// snapshots/pending_deletes (which the worker's clone lacked),
// commits, and kicks off the confirm_delete polling loop for every
// entry this round obsoleted.
func (p *Penciller) ManifestChange(result compaction.Result) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return base.ErrClosed
	}

	merged := result.Manifest
	ownPending := p.manifest.PendingDeletes
	workerPending := merged.PendingDeletes
	next := make(map[string]uint64, len(ownPending)+len(workerPending))
	for k, v := range ownPending {
		next[k] = v
	}
	for k, v := range workerPending {
		next[k] = v
	}
	merged.PendingDeletes = next
	merged.Snapshots = append([]manifest.SnapshotReg(nil), p.manifest.Snapshots...)
	merged.MinSnapshotSQN = p.manifest.MinSnapshotSQN

	if err := manifest.Save(p.cfg.Root, merged); err != nil {
		p.mu.Unlock()
		return err
	}
	p.manifest = merged
	p.workOngoing = false
	obsoleted := result.Obsoleted
	p.cfg.Metrics.RecordCompaction()
	p.cfg.Metrics.SetPendingDeletes(len(merged.PendingDeletes))
	p.cfg.Metrics.SetSnapshots(len(merged.Snapshots))
	p.mu.Unlock()

	for _, e := range obsoleted {
		go p.pollDelete(e)
	}
	return nil
}

// pollDelete implements the file-actor side of confirm_delete (spec.md
// §4.4 step 4): it polls the penciller until ready_to_delete fires,
// then physically removes the file.
func (p *Penciller) pollDelete(e manifest.Entry) {
	for {
		if p.ConfirmDelete(e.Filename) {
			if err := e.Owner.DeleteConfirmed(); err != nil {
				p.cfg.Logger.Errorf("penciller: deleting %s: %v", e.Filename, err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
	}
}

// ConfirmDelete answers a retiring file's poll: true only once no
// compaction is in flight and the manifest's pending-delete protocol
// says every pinning snapshot has moved past the file's removal
// generation (spec.md §4.4 step 4).
func (p *Penciller) ConfirmDelete(filename string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workOngoing {
		return false
	}
	return p.manifest.ReadyToDelete(filename)
}

// RegisterSnapshotHolder records holder in the snapshot registry at
// the current manifest generation, returning the manifest/cache
// clones a package snapshot.Snapshot needs. timeout
// selects between spec.md §4.6's default and long-running deadlines.
func (p *Penciller) RegisterSnapshotHolder(holder string, timeout time.Duration) (*manifest.Manifest, *cache.Cache, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, base.ErrClosed
	}
	p.manifest.AddSnapshot(holder, timeout, time.Now())
	p.cfg.Metrics.SetSnapshots(len(p.manifest.Snapshots))
	return p.manifest.CloneForSnapshot(), p.cache.Clone(), nil
}

// ReleaseSnapshotHolder removes holder from the snapshot registry.
func (p *Penciller) ReleaseSnapshotHolder(holder string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.manifest.ReleaseSnapshot(holder)
	p.cfg.Metrics.SetSnapshots(len(p.manifest.Snapshots))
}

// RegisterFullSnapshot registers a Full-mode snapshot: both point
// lookups and range folds run against the pinned clone for the
// snapshot's whole lifetime (spec.md §4.6).
func (p *Penciller) RegisterFullSnapshot(holder string, long bool) (*snapshot.Snapshot, error) {
	return p.registerClonedSnapshot(holder, long, snapshot.NewFull)
}

// RegisterNoLookupSnapshot registers a NoLookup-mode snapshot: the
// same pinned clone as Full, but Fetch is refused — for callers that
// only ever iterate.
func (p *Penciller) RegisterNoLookupSnapshot(holder string, long bool) (*snapshot.Snapshot, error) {
	return p.registerClonedSnapshot(holder, long, snapshot.NewNoLookup)
}

type cloneConstructor func(owner snapshot.Owner, holder string, deadline time.Time, source reader.Source) *snapshot.Snapshot

func (p *Penciller) registerClonedSnapshot(holder string, long bool, build cloneConstructor) (*snapshot.Snapshot, error) {
	timeout := p.cfg.SnapshotDefaultTimeout
	if long {
		timeout = p.cfg.SnapshotLongTimeout
	}
	m, c, err := p.RegisterSnapshotHolder(holder, timeout)
	if err != nil {
		return nil, err
	}
	source := reader.Source{
		Cache: c, Manifest: m, Codec: p.cfg.Codec, Logger: p.cfg.Logger,
		SlowFetchThreshold: p.cfg.SlowFetchThreshold, IteratorScanwidth: p.cfg.IteratorScanwidth,
	}
	return build(p, holder, time.Now().Add(timeout), source), nil
}

// RegisterMaterializedSnapshot folds [start, end] once against a
// momentarily-pinned clone, then releases the pin immediately and
// hands back a snapshot baked from the result — spec.md §4.6's mode
// for callers that know their exact query range up front and would
// rather not hold a manifest clone open for the whole iteration.
func (p *Penciller) RegisterMaterializedSnapshot(holder string, start, end base.Key, long bool) (*snapshot.Snapshot, error) {
	timeout := p.cfg.SnapshotDefaultTimeout
	if long {
		timeout = p.cfg.SnapshotLongTimeout
	}
	m, c, err := p.RegisterSnapshotHolder(holder, timeout)
	if err != nil {
		return nil, err
	}
	source := reader.Source{
		Cache: c, Manifest: m, Codec: p.cfg.Codec, Logger: p.cfg.Logger,
		SlowFetchThreshold: p.cfg.SlowFetchThreshold, IteratorScanwidth: p.cfg.IteratorScanwidth,
	}
	records, err := source.FetchKeys(start, end, -1)
	p.ReleaseSnapshotHolder(holder)
	if err != nil {
		return nil, err
	}
	return snapshot.NewMaterialized(nil, holder, time.Now().Add(timeout), p.cfg.Comparer, start, end, records), nil
}

// ExpireSnapshots silently drops registrations whose deadline has
// passed (spec.md §7, "Snapshot deadline exceeded"). The bookie or a
// background ticker is expected to call this periodically; the
// penciller itself runs no expiry timer (spec.md §1 excludes scheduling
// primitives as an external collaborator concern).
func (p *Penciller) ExpireSnapshots(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest.ExpireSnapshots(now)
}

// Config returns the effective configuration, for collaborators (the
// snapshot package, metrics) that need the codec/comparer/timeouts
// without reaching into server internals.
func (p *Penciller) Config() config.Config { return p.cfg }

// Close performs best-effort shutdown (spec.md §5, "Cancellation"):
// if no flush is pending and the cache is non-empty, it is written
// synchronously; the compactor and every live manifest file are
// closed.
func (p *Penciller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	flushNeeded := p.state != cache.Flushing && p.cache.Size() > 0
	p.mu.Unlock()

	if flushNeeded {
		if err := p.synchronousFlush(); err != nil {
			p.cfg.Logger.Errorf("penciller: synchronous close flush failed, discarding cache: %v", err)
		}
	}

	if err := p.compactor.Stop(); err != nil {
		p.cfg.Logger.Errorf("penciller: stopping compactor: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, level := range p.manifest.Levels {
		for _, e := range level {
			e.Owner.Close()
		}
	}
	return nil
}

// synchronousFlush is Close's best-effort final write: the same
// sst_newlevelzero path as a normal flush, but awaited synchronously
// via a channel rather than left to the writer's own goroutine timing
// (spec.md §9, "close uses a synchronous sst_close after the final
// flush to avoid a deadlock window").
func (p *Penciller) synchronousFlush() error {
	p.mu.Lock()
	nBatches := p.cache.NumBatches()
	batches := make([]*cache.Batch, nBatches)
	for i := 0; i < nBatches; i++ {
		batches[i] = p.cache.BatchAt(i)
	}
	filename := fmt.Sprintf("%d_0_0.sst", p.manifest.ManifestSQN+1)
	maxSQN := p.ledgerSQN
	p.mu.Unlock()

	fetchFn := func(slot int) ([]base.Record, error) {
		b := batches[slot]
		recs := make([]base.Record, b.Len())
		for i := 0; i < b.Len(); i++ {
			recs[i] = b.At(i)
		}
		return recs, nil
	}

	done := make(chan error, 1)
	sstable.NewLevelZero(p.cfg.Root, filename, nBatches, fetchFn, func(filename string, start, end base.Key, maxSQN base.SQN, err error) {
		if err != nil {
			done <- err
			return
		}
		h, _, _, openErr := sstable.Open(p.cfg.Root, filename, 0)
		if openErr != nil {
			done <- openErr
			return
		}
		p.mu.Lock()
		newGen := p.manifest.ManifestSQN + 1
		insErr := p.manifest.Insert(0, manifest.Entry{Start: start, End: end, Filename: filename, Owner: h}, newGen)
		if insErr == nil {
			insErr = manifest.Save(p.cfg.Root, p.manifest)
		}
		p.cache.Clear()
		p.mu.Unlock()
		done <- insErr
	}, maxSQN)

	select {
	case err := <-done:
		return err
	case <-time.After(60 * time.Second):
		return errors.New("penciller: close timed out waiting for final level-zero flush")
	}
}

// Doom closes the penciller and deletes its entire on-disk ledger
// directory tree, per the teardown path spec.md §6 lists without
// defining further.
func (p *Penciller) Doom() error {
	if err := p.Close(); err != nil {
		return err
	}
	p.mu.Lock()
	p.doomed = true
	root := p.cfg.Root
	p.mu.Unlock()
	return os.RemoveAll(fmt.Sprintf("%s/ledger", root))
}
