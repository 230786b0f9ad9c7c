// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package metrics wires the penciller's counters and latency
// distributions into Prometheus collectors the way the teacher's own
// wal package does (wal.Options.FsyncLatency: a plain
// prometheus.Histogram field the caller registers with its own
// registry), plus an HdrHistogram.Histogram for percentile reporting
// the way the teacher's tool/manifest.go command tracks file
// lifetimes. Metrics is entirely optional: every penciller method that
// touches it tolerates a nil *Metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// maxFetchLatencyMicros bounds the HdrHistogram's tracked range at one
// second; a fetch slower than that is clamped rather than dropped.
const maxFetchLatencyMicros = int64(time.Second / time.Microsecond)

// Metrics holds every collector the penciller, the compactor and the
// snapshot registry report into. The exported prometheus.* fields are
// plain collectors, unregistered by this package — callers register
// them with whatever prometheus.Registerer they already use, the same
// division of responsibility the teacher's wal package uses for
// FsyncLatency.
type Metrics struct {
	Pushes         prometheus.Counter
	PushesRejected prometheus.Counter
	Flushes        prometheus.Counter
	Compactions    prometheus.Counter
	PendingDeletes prometheus.Gauge
	Snapshots      prometheus.Gauge
	FetchLatency   prometheus.Histogram

	mu       sync.Mutex
	fetchHdr *hdrhistogram.Histogram
}

// New returns a Metrics with every collector constructed fresh
// (namespace "leveled"), ready to be registered by the caller.
func New() *Metrics {
	return &Metrics{
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leveled", Name: "pushes_total", Help: "Total number of push_mem calls accepted.",
		}),
		PushesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leveled", Name: "pushes_rejected_total", Help: "Total number of push_mem calls refused with returned.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leveled", Name: "l0_flushes_total", Help: "Total number of completed level-zero flushes.",
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leveled", Name: "compactions_total", Help: "Total number of completed compaction rounds.",
		}),
		PendingDeletes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leveled", Name: "pending_deletes", Help: "Current number of files awaiting confirm_delete.",
		}),
		Snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leveled", Name: "snapshots_active", Help: "Current number of registered snapshot holders.",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leveled", Name: "fetch_latency_seconds", Help: "Point lookup latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		fetchHdr: hdrhistogram.New(0, maxFetchLatencyMicros, 3),
	}
}

// Collectors returns every collector in registration order, for a
// single prometheus.Registerer.MustRegister(m.Collectors()...) call.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Pushes, m.PushesRejected, m.Flushes, m.Compactions, m.PendingDeletes, m.Snapshots, m.FetchLatency}
}

// RecordPush increments the accepted-push counter. Nil-receiver safe.
func (m *Metrics) RecordPush() {
	if m == nil {
		return
	}
	m.Pushes.Inc()
}

// RecordPushRejected increments the rejected-push counter.
func (m *Metrics) RecordPushRejected() {
	if m == nil {
		return
	}
	m.PushesRejected.Inc()
}

// RecordFlush increments the level-zero flush counter.
func (m *Metrics) RecordFlush() {
	if m == nil {
		return
	}
	m.Flushes.Inc()
}

// RecordCompaction increments the compaction counter.
func (m *Metrics) RecordCompaction() {
	if m == nil {
		return
	}
	m.Compactions.Inc()
}

// SetPendingDeletes reports the current pending-delete set size.
func (m *Metrics) SetPendingDeletes(n int) {
	if m == nil {
		return
	}
	m.PendingDeletes.Set(float64(n))
}

// SetSnapshots reports the current number of registered snapshot
// holders.
func (m *Metrics) SetSnapshots(n int) {
	if m == nil {
		return
	}
	m.Snapshots.Set(float64(n))
}

// RecordFetchLatency observes d into both the Prometheus histogram and
// the HdrHistogram backing FetchLatencyPercentile.
func (m *Metrics) RecordFetchLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchLatency.Observe(d.Seconds())
	micros := d.Microseconds()
	if micros > maxFetchLatencyMicros {
		micros = maxFetchLatencyMicros
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.fetchHdr.RecordValue(micros)
}

// FetchLatencyPercentile returns the p-th percentile (0-100) of
// observed fetch latency since process start, for ad hoc reporting
// without scraping Prometheus.
func (m *Metrics) FetchLatencyPercentile(p float64) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.fetchHdr.ValueAtPercentile(p)) * time.Microsecond
}
