// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordPushAndRejected(t *testing.T) {
	m := New()
	m.RecordPush()
	m.RecordPush()
	m.RecordPushRejected()

	require.InDelta(t, 2, testutil.ToFloat64(m.Pushes), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.PushesRejected), 0)
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetPendingDeletes(3)
	m.SetSnapshots(2)
	require.InDelta(t, 3, testutil.ToFloat64(m.PendingDeletes), 0)
	require.InDelta(t, 2, testutil.ToFloat64(m.Snapshots), 0)
}

func TestFetchLatencyPercentile(t *testing.T) {
	m := New()
	for _, d := range []time.Duration{1 * time.Millisecond, 10 * time.Millisecond, 100 * time.Millisecond} {
		m.RecordFetchLatency(d)
	}
	p50 := m.FetchLatencyPercentile(50)
	require.Greater(t, p50, time.Duration(0))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordPush()
	m.RecordPushRejected()
	m.RecordFlush()
	m.RecordCompaction()
	m.SetPendingDeletes(1)
	m.SetSnapshots(1)
	m.RecordFetchLatency(time.Millisecond)
	require.Equal(t, time.Duration(0), m.FetchLatencyPercentile(50))
}
