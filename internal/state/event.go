// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

// EventStore is a JSONL-backed append-only transcript of stream events,
// stored at <root>/events.jsonl.
type EventStore struct {
	root string

	mu      sync.Mutex
	counted bool
	seq     int64
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{root: root}
}

// Path returns the transcript file path.
func (e *EventStore) Path() string {
	return filepath.Join(e.root, "events.jsonl")
}

// count reads the event file and counts lines. Caller must hold the lock.
func (e *EventStore) count() (int64, error) {
	f, err := os.Open(e.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event with the next sequence number. Missing ids and
// timestamps are filled in.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.counted {
		n, err := e.count()
		if err != nil {
			return err
		}
		e.seq = n
		e.counted = true
	}

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	event.Seq = e.seq + 1

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.seq++
	return nil
}

// Tail returns the last limit events.
func (e *EventStore) Tail(_ context.Context, limit int) ([]*types.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// Count returns the number of events in the transcript.
func (e *EventStore) Count(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counted {
		return e.seq, nil
	}
	return e.count()
}
