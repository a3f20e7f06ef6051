// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestMetrics_ObserveSend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSend("buffered", "ok", 2*time.Second)
	m.ObserveSend("buffered", "ok", time.Second)
	m.ObserveSend("streaming", "rate_limited", time.Second)
	m.ObserveFailure("rate_limited")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("buffered", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("streaming", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("rate_limited")))

	n, err := testutil.GatherAndCount(reg, "domainchat_send_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_PromptAndDeltas(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObservePrompt(120, []string{"inlined", "binary", "inlined"})
	m.ObserveDelta()
	m.ObserveDelta()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttachmentsSeen.WithLabelValues("inlined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsSeen.WithLabelValues("binary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamDeltas))
}

func TestMetrics_InFlight(t *testing.T) {
	m := NewMetrics(nil)
	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SendsInFlight))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSend("buffered", "ok", time.Second)
	m.ObserveFailure("x")
	m.ObservePrompt(1, nil)
	m.ObserveDelta()
	m.TrackInFlight()()
}

func TestMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveFailure("network_failure")

	expected := `
# HELP domainchat_failures_total Classified send failures by kind
# TYPE domainchat_failures_total counter
domainchat_failures_total{kind="network_failure"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "domainchat_failures_total"))
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndRecent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, l.Record(ctx, Usage{MessageID: "m1", Mode: "buffered", Outcome: "ok", PromptTokens: 10, Duration: 1500 * time.Millisecond, CreatedAt: base}))
	require.NoError(t, l.Record(ctx, Usage{MessageID: "m2", Mode: "streaming", Outcome: "ok", Deltas: 4, Incomplete: true, CreatedAt: base.Add(time.Second)}))

	rows, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m2", rows[0].MessageID)
	assert.True(t, rows[0].Incomplete)
	assert.Equal(t, 4, rows[0].Deltas)
	assert.Equal(t, "m1", rows[1].MessageID)
	assert.Equal(t, 1500*time.Millisecond, rows[1].Duration)
}

func TestLedger_Summary(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Record(ctx, Usage{MessageID: "old", Mode: "buffered", Outcome: "ok", PromptTokens: 1000, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, l.Record(ctx, Usage{MessageID: "a", Mode: "buffered", Outcome: "ok", PromptTokens: 10, CompletionTokens: 5, Duration: time.Second}))
	require.NoError(t, l.Record(ctx, Usage{MessageID: "b", Mode: "streaming", Outcome: "rate_limited", PromptTokens: 20, Duration: 3 * time.Second}))
	require.NoError(t, l.Record(ctx, Usage{MessageID: "c", Mode: "streaming", Outcome: "ok", Incomplete: true, Duration: 2 * time.Second}))

	s, err := l.Summary(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Sends)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Incomplete)
	assert.Equal(t, 30, s.PromptTokens)
	assert.Equal(t, 5, s.CompletionTokens)
	assert.Equal(t, 2*time.Second, s.AvgDuration)
}

func TestLedger_SummaryEmpty(t *testing.T) {
	s, err := openTestLedger(t).Summary(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}

func TestLedger_DeleteBefore(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Record(ctx, Usage{MessageID: "old", Mode: "buffered", Outcome: "ok", CreatedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, l.Record(ctx, Usage{MessageID: "new", Mode: "buffered", Outcome: "ok"}))

	n, err := l.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].MessageID)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), Usage{MessageID: "x", Mode: "buffered", Outcome: "ok"}))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	rows, err := l.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, path, l.Path())
}
