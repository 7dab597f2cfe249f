package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known bot_state keys.
const (
	KeyPaused = "paused"
)

// SetState stores value under key.
func (j *Journal) SetState(ctx context.Context, key, value string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("setting state %s: %w", key, err)
	}
	return nil
}

// State returns the value under key and whether it was set.
func (j *Journal) State(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := j.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading state %s: %w", key, err)
	}
	return value, true, nil
}

// BoolState reads key as a boolean; unset or unparsable values are false.
func (j *Journal) BoolState(ctx context.Context, key string) (bool, error) {
	v, ok, err := j.State(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}
