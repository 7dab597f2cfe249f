// Package process tracks agent invocations so they can be listed and
// interrupted from outside the scheduler.
package process

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

// DefaultRetention is how long terminal records stay listable.
const DefaultRetention = 60 * time.Second

type entry struct {
	rec  Record
	stop Stopper
}

// Registry is the shared table of invocations. All mutations happen under a
// single mutex; stoppers run outside it.
type Registry struct {
	mu        sync.Mutex
	entries   map[types.ProcessID]*entry
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[types.ProcessID]*entry),
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default().With("component", "registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a running record. stop is invoked at most once, by the first
// Interrupt that reaches the record.
func (r *Registry) Register(rec Record, stop Stopper) error {
	if rec.ID == "" {
		return fmt.Errorf("register: empty process id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	if _, ok := r.entries[rec.ID]; ok {
		return fmt.Errorf("register %s: duplicate process id", rec.ID)
	}
	for _, e := range r.entries {
		if e.rec.Status == StatusRunning {
			return fmt.Errorf("register %s: %w (%s)", rec.ID, ErrAlreadyRunning, types.Short(e.rec.ID))
		}
	}
	rec.Status = StatusRunning
	rec.Cause = CauseNone
	rec.EndedAt = time.Time{}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = r.now()
	}
	r.entries[rec.ID] = &entry{rec: rec, stop: stop}
	return nil
}

// Lookup resolves ref to a record: an exact id first, then a unique prefix
// among all retained records.
func (r *Registry) Lookup(ref string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	e, err := r.resolveLocked(ref, false)
	if err != nil {
		return Record{}, err
	}
	return e.rec, nil
}

// Get returns the record with exactly id.
func (r *Registry) Get(id types.ProcessID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// List returns every retained record, oldest first.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

// Running returns the record currently running, if any.
func (r *Registry) Running() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.rec.Status == StatusRunning {
			return e.rec, true
		}
	}
	return Record{}, false
}

// MarkTerminal moves a running record to status. It reports false, and
// changes nothing, when the record is unknown or already terminal, which is
// the case after an Interrupt won the race.
func (r *Registry) MarkTerminal(id types.ProcessID, status Status) bool {
	if !status.Terminal() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.rec.Status.Terminal() {
		return false
	}
	e.rec.Status = status
	e.rec.EndedAt = r.now()
	return true
}

// Interrupt resolves ref among running records, marks the match killed with
// cause, and stops it. Only the first caller for a record performs the kill;
// later callers get ErrNotFound.
func (r *Registry) Interrupt(ref string, cause Cause) (Record, error) {
	r.mu.Lock()
	e, err := r.resolveLocked(ref, true)
	if err != nil {
		r.mu.Unlock()
		return Record{}, err
	}
	r.killLocked(e, cause)
	rec, stop := e.rec, e.stop
	r.mu.Unlock()

	r.logger.Info("interrupting process", "process_id", rec.ID, "pid", rec.PID, "cause", string(cause))
	if stop != nil {
		stop.Stop()
	}
	return rec, nil
}

// InterruptAll stops every running record and returns how many it stopped.
func (r *Registry) InterruptAll(cause Cause) int {
	r.mu.Lock()
	var stops []Stopper
	n := 0
	for _, e := range r.entries {
		if e.rec.Status != StatusRunning {
			continue
		}
		r.killLocked(e, cause)
		n++
		if e.stop != nil {
			stops = append(stops, e.stop)
		}
		r.logger.Info("interrupting process", "process_id", e.rec.ID, "pid", e.rec.PID, "cause", string(cause))
	}
	r.mu.Unlock()

	for _, s := range stops {
		s.Stop()
	}
	return n
}

func (r *Registry) killLocked(e *entry, cause Cause) {
	e.rec.Status = StatusKilled
	e.rec.Cause = cause
	e.rec.EndedAt = r.now()
}

func (r *Registry) resolveLocked(ref string, runningOnly bool) (*entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	usable := func(e *entry) bool {
		return !runningOnly || e.rec.Status == StatusRunning
	}
	if e, ok := r.entries[types.ProcessID(ref)]; ok {
		if usable(e) {
			return e, nil
		}
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	var match *entry
	count := 0
	for id, e := range r.entries {
		if !usable(e) || !strings.HasPrefix(string(id), ref) {
			continue
		}
		match = e
		count++
	}
	switch count {
	case 0:
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case 1:
		return match, nil
	}
	return nil, fmt.Errorf("%s matches %d processes: %w", ref, count, ErrAmbiguous)
}

func (r *Registry) pruneLocked() {
	if r.retention < 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	for id, e := range r.entries {
		if e.rec.Status.Terminal() && e.rec.EndedAt.Before(cutoff) {
			delete(r.entries, id)
		}
	}
}
