// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ledgerSchema creates the usage table.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS usage (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id        TEXT NOT NULL,
	mode              TEXT NOT NULL,
	outcome           TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	attachments       INTEGER NOT NULL DEFAULT 0,
	response_chars    INTEGER NOT NULL DEFAULT 0,
	deltas            INTEGER NOT NULL DEFAULT 0,
	incomplete        INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_created ON usage(created_at);
`

// =============================================================================
// USAGE LEDGER
// =============================================================================

// Usage is one recorded send.
type Usage struct {
	MessageID        string
	Mode             string
	Outcome          string // "ok" or a failure kind
	Model            string
	PromptTokens     int
	CompletionTokens int
	Attachments      int
	ResponseChars    int
	Deltas           int
	Incomplete       bool
	Duration         time.Duration
	CreatedAt        time.Time
}

// Summary aggregates usage over a window.
type Summary struct {
	Sends            int
	Failures         int
	Incomplete       int
	PromptTokens     int
	CompletionTokens int
	AvgDuration      time.Duration
}

// Ledger persists usage rows in SQLite.
type Ledger struct {
	db   *sql.DB
	path string
}

// DefaultLedgerPath returns ~/.domainchat/usage.db.
func DefaultLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".domainchat", "usage.db"), nil
}

// OpenLedger opens or creates the ledger at path. An empty path uses
// DefaultLedgerPath; ":memory:" opens an in-memory database.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		p, err := DefaultLedgerPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database location.
func (l *Ledger) Path() string {
	return l.path
}

// Record appends a usage row.
func (l *Ledger) Record(ctx context.Context, u Usage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage (message_id, mode, outcome, model, prompt_tokens, completion_tokens,
			attachments, response_chars, deltas, incomplete, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.MessageID, u.Mode, u.Outcome, u.Model, u.PromptTokens, u.CompletionTokens,
		u.Attachments, u.ResponseChars, u.Deltas, boolToInt(u.Incomplete),
		u.Duration.Milliseconds(), u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Recent returns the newest rows, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Usage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT message_id, mode, outcome, model, prompt_tokens, completion_tokens,
			attachments, response_chars, deltas, incomplete, duration_ms, created_at
		FROM usage ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var (
			u          Usage
			incomplete int
			durMS      int64
			createdMS  int64
		)
		if err := rows.Scan(&u.MessageID, &u.Mode, &u.Outcome, &u.Model, &u.PromptTokens,
			&u.CompletionTokens, &u.Attachments, &u.ResponseChars, &u.Deltas,
			&incomplete, &durMS, &createdMS); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.Incomplete = incomplete != 0
		u.Duration = time.Duration(durMS) * time.Millisecond
		u.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Summary aggregates rows created at or after since.
func (l *Ledger) Summary(ctx context.Context, since time.Time) (Summary, error) {
	var (
		s     Summary
		avgMS sql.NullFloat64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(incomplete), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			AVG(duration_ms)
		FROM usage WHERE created_at >= ?`, since.UnixMilli(),
	).Scan(&s.Sends, &s.Failures, &s.Incomplete, &s.PromptTokens, &s.CompletionTokens, &avgMS)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize usage: %w", err)
	}
	if avgMS.Valid {
		s.AvgDuration = time.Duration(avgMS.Float64 * float64(time.Millisecond))
	}
	return s, nil
}

// DeleteBefore removes rows older than before and returns how many.
func (l *Ledger) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM usage WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
