// Package store keeps the relay's journal in SQLite: finished agent
// processes, classified errors, and small pieces of bot state that must
// survive a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal is the SQLite-backed journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal at path. Parent directories are created
// if needed. The path ":memory:" gives a private in-memory journal.
func Open(path string) (*Journal, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One connection keeps ":memory:" a single database and serialises
	// writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("journal opened", "path", path)
	return j, nil
}

func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS processes (
			process_id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			origin TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			command TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			cause TEXT NOT NULL DEFAULT '',
			terminal_status TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			events INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_processes_started ON processes(started_at);

		CREATE TABLE IF NOT EXISTS errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// PruneBefore deletes journal rows older than cutoff and reports how many
// were removed.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)
	var total int64
	for _, q := range []string{
		`DELETE FROM processes WHERE started_at < ?`,
		`DELETE FROM errors WHERE at < ?`,
	} {
		res, err := j.db.ExecContext(ctx, q, ts)
		if err != nil {
			return total, fmt.Errorf("pruning journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
