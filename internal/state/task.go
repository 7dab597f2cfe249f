// internal/state/task.go
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

// ErrTaskNotFound is returned when no task has the requested name.
var ErrTaskNotFound = errors.New("task not found")

// Task is a named prompt enqueued on a cron schedule or by webhook. Its
// answer is delivered to Origin.
type Task struct {
	Name      string       `json:"name"`
	Prompt    string       `json:"prompt"`
	Schedule  string       `json:"schedule,omitempty"`
	Origin    types.Origin `json:"origin"`
	Enabled   bool         `json:"enabled"`
	LastRunAt time.Time    `json:"last_run_at,omitzero"`
}

// Validate checks the fields every task needs.
func (t *Task) Validate() error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return errors.New("task name is required")
	case strings.ContainsAny(t.Name, " \t\n/"):
		return fmt.Errorf("task name %q must not contain spaces or slashes", t.Name)
	case strings.TrimSpace(t.Prompt) == "":
		return fmt.Errorf("task %s: prompt is required", t.Name)
	case t.Origin == "":
		return fmt.Errorf("task %s: origin is required", t.Name)
	}
	return nil
}

// TaskStore is a JSON-file-backed store for tasks.
type TaskStore struct {
	path string
	mu   sync.RWMutex
}

// NewTaskStore creates a new file-backed TaskStore at the given file path.
func NewTaskStore(path string) *TaskStore {
	return &TaskStore{path: path}
}

// Path returns the file path used by this store.
func (s *TaskStore) Path() string {
	return s.path
}

// List returns all tasks. Returns an empty slice if the file doesn't exist.
func (s *TaskStore) List() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		return []*Task{}, nil
	}
	return tasks, nil
}

// Get finds a task by name.
func (s *TaskStore) Get(name string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if i := index(tasks, name); i >= 0 {
		return tasks[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
}

// Add validates and appends a task. Names are unique.
func (s *TaskStore) Add(task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	if index(tasks, task.Name) >= 0 {
		return fmt.Errorf("task already exists: %s", task.Name)
	}
	return s.save(append(tasks, task))
}

// Remove deletes a task by name.
func (s *TaskStore) Remove(name string) error {
	return s.modify(name, func(tasks []*Task, i int) []*Task {
		return slices.Delete(tasks, i, i+1)
	})
}

// SetEnabled toggles the enabled flag for a task.
func (s *TaskStore) SetEnabled(name string, enabled bool) error {
	return s.modify(name, func(tasks []*Task, i int) []*Task {
		tasks[i].Enabled = enabled
		return tasks
	})
}

// MarkRun records when a task was last enqueued.
func (s *TaskStore) MarkRun(name string, at time.Time) error {
	return s.modify(name, func(tasks []*Task, i int) []*Task {
		tasks[i].LastRunAt = at
		return tasks
	})
}

func (s *TaskStore) modify(name string, fn func([]*Task, int) []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	i := index(tasks, name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.save(fn(tasks, i))
}

func index(tasks []*Task, name string) int {
	return slices.IndexFunc(tasks, func(t *Task) bool { return t.Name == name })
}

// load reads the JSON file and returns the task list. Returns nil if the file doesn't exist.
func (s *TaskStore) load() ([]*Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) save(tasks []*Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}
