// internal/scheduler/scheduler_test.go
package scheduler

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/agentrelay/internal/state"
	"github.com/user/agentrelay/internal/types"
)

type recorder struct {
	mu   sync.Mutex
	reqs []*types.Request
}

func (r *recorder) Submit(prompt string, origin types.Origin, source types.Source) (*types.Request, error) {
	req := types.NewRequest(prompt, origin, source)
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return req, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func (r *recorder) first() *types.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[0]
}

func newStore(t *testing.T, task *state.Task) *state.TaskStore {
	t.Helper()
	store := state.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err := store.Add(task); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSchedulerFiresTask(t *testing.T) {
	store := newStore(t, &state.Task{
		Name:     "every-second",
		Prompt:   "do something every second",
		Schedule: "* * * * * *",
		Origin:   "telegram:1:123",
		Enabled:  true,
	})

	rec := &recorder{}
	sched := New(store, rec, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if _, ok := sched.Next("every-second"); !ok {
		t.Error("expected a next run time for a scheduled task")
	}

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("task did not fire within 2.5s, fires=%d", rec.count())
		case <-ticker.C:
			if rec.count() == 0 {
				continue
			}
			req := rec.first()
			if req.Source != types.SourceScheduled {
				t.Errorf("expected source %q, got %q", types.SourceScheduled, req.Source)
			}
			if req.Origin != "telegram:1:123" {
				t.Errorf("expected origin telegram:1:123, got %q", req.Origin)
			}
			// MarkRun follows the submit; give it a moment.
			time.Sleep(50 * time.Millisecond)
			task, err := store.Get("every-second")
			if err != nil {
				t.Fatal(err)
			}
			if task.LastRunAt.IsZero() {
				t.Error("expected LastRunAt to be recorded")
			}
			return
		}
	}
}

func TestSchedulerSkipsWhilePaused(t *testing.T) {
	store := newStore(t, &state.Task{
		Name:     "paused",
		Prompt:   "should not fire",
		Schedule: "* * * * * *",
		Origin:   "telegram:1:123",
		Enabled:  true,
	})

	var paused atomic.Bool
	paused.Store(true)
	rec := &recorder{}
	sched := New(store, rec, paused.Load)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("expected 0 fires while paused, got %d", n)
	}
}

func TestSchedulerSkipsDisabled(t *testing.T) {
	store := newStore(t, &state.Task{
		Name:     "disabled-task",
		Prompt:   "should not fire",
		Schedule: "* * * * * *",
		Origin:   "telegram:1:123",
		Enabled:  false,
	})

	rec := &recorder{}
	sched := New(store, rec, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(2 * time.Second)

	if n := rec.count(); n != 0 {
		t.Errorf("expected 0 fires for disabled task, got %d", n)
	}
	if _, ok := sched.Next("disabled-task"); ok {
		t.Error("disabled task should not be scheduled")
	}
}

func TestSchedulerNoScheduleTasks(t *testing.T) {
	store := newStore(t, &state.Task{
		Name:    "no-schedule",
		Prompt:  "webhook only",
		Origin:  "telegram:1:123",
		Enabled: true,
	})

	rec := &recorder{}
	sched := New(store, rec, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(2 * time.Second)

	if n := rec.count(); n != 0 {
		t.Errorf("expected 0 fires for task with no schedule, got %d", n)
	}
}

func TestSchedulerReloadPicksUpNewTasks(t *testing.T) {
	store := state.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	rec := &recorder{}
	sched := New(store, rec, nil)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if err := store.Add(&state.Task{Name: "late", Prompt: "p", Schedule: "@every 1h", Origin: "telegram:1:1", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, ok := sched.Next("late"); ok {
		t.Fatal("task should not be scheduled before reload")
	}
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := sched.Next("late"); !ok {
		t.Error("task should be scheduled after reload")
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"0 9 * * *", "*/5 * * * * *", "@hourly", "@every 30m"} {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q): %v", expr, err)
		}
	}
	for _, expr := range []string{"", "every day", "61 * * * *"} {
		if err := ValidateSchedule(expr); err == nil {
			t.Errorf("ValidateSchedule(%q) should fail", expr)
		}
	}
}
