package store

import (
	"context"
	"fmt"
	"time"
)

// ProcessEntry is one finished agent invocation.
type ProcessEntry struct {
	ProcessID      string    `json:"process_id"`
	RequestID      string    `json:"request_id"`
	Origin         string    `json:"origin"`
	Source         string    `json:"source"`
	PID            int       `json:"pid"`
	Command        string    `json:"command"`
	Status         string    `json:"status"`
	Cause          string    `json:"cause,omitempty"`
	TerminalStatus string    `json:"terminal_status"`
	SessionID      string    `json:"session_id,omitempty"`
	Cost           float64   `json:"cost"`
	Events         int       `json:"events"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// RecordProcess inserts or replaces the entry for e.ProcessID.
func (j *Journal) RecordProcess(ctx context.Context, e ProcessEntry) error {
	if e.ProcessID == "" {
		return fmt.Errorf("recording process: empty process id")
	}
	query := `
		INSERT OR REPLACE INTO processes
			(process_id, request_id, origin, source, pid, command, status, cause,
			 terminal_status, session_id, cost, events, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		e.ProcessID, e.RequestID, e.Origin, e.Source, e.PID, e.Command, e.Status, e.Cause,
		e.TerminalStatus, e.SessionID, e.Cost, e.Events,
		formatTime(e.StartedAt), formatTime(e.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("recording process: %w", err)
	}
	return nil
}

// Processes returns up to limit entries, newest first.
func (j *Journal) Processes(ctx context.Context, limit int) ([]ProcessEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT process_id, request_id, origin, source, pid, command, status, cause,
		       terminal_status, session_id, cost, events, started_at, ended_at
		FROM processes
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	defer rows.Close()

	var out []ProcessEntry
	for rows.Next() {
		var e ProcessEntry
		var started, ended string
		if err := rows.Scan(&e.ProcessID, &e.RequestID, &e.Origin, &e.Source, &e.PID, &e.Command,
			&e.Status, &e.Cause, &e.TerminalStatus, &e.SessionID, &e.Cost, &e.Events,
			&started, &ended); err != nil {
			return nil, fmt.Errorf("scanning process: %w", err)
		}
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if e.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Totals summarises the journaled invocations.
type Totals struct {
	Count  int
	Failed int
	Cost   float64
}

// ProcessTotals aggregates every journaled invocation.
func (j *Journal) ProcessTotals(ctx context.Context) (Totals, error) {
	var t Totals
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN terminal_status != 'ok' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(cost), 0)
		FROM processes
	`).Scan(&t.Count, &t.Failed, &t.Cost)
	if err != nil {
		return Totals{}, fmt.Errorf("totalling processes: %w", err)
	}
	return t, nil
}
