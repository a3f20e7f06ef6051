// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records what the dispatch pipeline does.
//
// Two sinks are provided:
//
//   - Metrics: Prometheus counters and histograms, scraped from /metrics
//   - Ledger: a local SQLite table of per-send usage rows
//
// The ledger stores request metadata only (mode, outcome, token counts,
// durations). Prompt and response text are never written to disk.
//
// # Usage
//
//	ledger, err := telemetry.OpenLedger("")
//	defer ledger.Close()
//	ledger.Record(ctx, telemetry.Usage{MessageID: msg.ID, Mode: "streaming", Outcome: "ok"})
//	summary, _ := ledger.Summary(ctx, time.Now().Add(-24*time.Hour))
package telemetry
