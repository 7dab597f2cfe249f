package store

import (
	"context"
	"fmt"
	"time"
)

// ErrorEntry is one classified failure shown to a requester.
type ErrorEntry struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
}

// RecordError appends e. A zero At is stamped with the current time.
func (j *Journal) RecordError(ctx context.Context, e ErrorEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO errors (at, request_id, origin, kind, message, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.At), e.RequestID, e.Origin, e.Kind, e.Message, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording error: %w", err)
	}
	return nil
}

// Errors returns up to limit entries, newest first.
func (j *Journal) Errors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at, request_id, origin, kind, message, detail
		FROM errors
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var e ErrorEntry
		var at string
		if err := rows.Scan(&e.ID, &at, &e.RequestID, &e.Origin, &e.Kind, &e.Message, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning error: %w", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ErrorCounts returns the number of journaled errors per kind.
func (j *Journal) ErrorCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM errors GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting errors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning error count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}
