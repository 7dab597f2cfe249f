// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/agentrelay/internal/state"
	"github.com/user/agentrelay/internal/types"
)

// Submitter receives the requests fired tasks produce.
// *gateway.Scheduler implements it.
type Submitter interface {
	Submit(prompt string, origin types.Origin, source types.Source) (*types.Request, error)
}

// Scheduler evaluates cron expressions from the task store and enqueues a
// scheduled request each time a task fires.
type Scheduler struct {
	store  *state.TaskStore
	submit Submitter
	paused func() bool
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule Start would accept.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a Scheduler backed by store. paused may be nil; when it
// reports true, firings are skipped.
func New(store *state.TaskStore, submit Submitter, paused func() bool) *Scheduler {
	return &Scheduler{
		store:   store,
		submit:  submit,
		paused:  paused,
		logger:  slog.Default().With("component", "cron"),
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}
		name, prompt, origin := task.Name, task.Prompt, task.Origin
		id, err := s.cron.AddFunc(task.Schedule, func() { s.fire(name, prompt, origin) })
		if err != nil {
			s.logger.Error("invalid cron schedule", "name", name, "schedule", task.Schedule, "error", err)
			continue
		}
		s.entries[name] = id
		s.logger.Info("scheduled task", "name", name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(name, prompt string, origin types.Origin) {
	if s.paused != nil && s.paused() {
		s.logger.Info("skipping task while paused", "name", name)
		return
	}
	req, err := s.submit.Submit(prompt, origin, types.SourceScheduled)
	if err != nil {
		s.logger.Error("could not enqueue task", "name", name, "error", err)
		return
	}
	s.logger.Info("cron fired task", "name", name, "request_id", req.ID, "origin", string(origin))
	if err := s.store.MarkRun(name, time.Now()); err != nil {
		s.logger.Warn("could not record task run", "name", name, "error", err)
	}
}

// Next returns when the named task fires next, if it is scheduled.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker. Jobs already running are not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
