// Package journal keeps a sqlite history of state transitions and wake attempts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/gaming-server/internal/orchestrator"
)

// Entry kinds.
const (
	KindTransition = "transition"
	KindWake       = "wake"
)

// Entry is one row of history.
type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Success *bool     `json:"success,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Journal is a sqlite-backed history store. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at_unix_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	success INTEGER,
	detail TEXT NOT NULL DEFAULT ''
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordTransition stores a state transition.
func (j *Journal) RecordTransition(ctx context.Context, t orchestrator.Transition) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO history (at_unix_ms, kind, from_state, to_state) VALUES (?, ?, ?, ?)`,
		t.At.UnixMilli(), KindTransition, t.From.String(), t.To.String())
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordWake stores the outcome of a wake attempt. detail is typically the error text.
func (j *Journal) RecordWake(ctx context.Context, at time.Time, success bool, detail string) error {
	ok := 0
	if success {
		ok = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO history (at_unix_ms, kind, success, detail) VALUES (?, ?, ?, ?)`,
		at.UnixMilli(), KindWake, ok, detail)
	if err != nil {
		return fmt.Errorf("record wake: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, at_unix_ms, kind, from_state, to_state, success, detail
FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			atMs    int64
			success sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &atMs, &e.Kind, &e.From, &e.To, &success, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		if success.Valid {
			ok := success.Int64 == 1
			e.Success = &ok
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
