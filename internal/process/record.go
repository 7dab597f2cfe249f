// internal/process/record.go
package process

import (
	"errors"
	"time"

	"github.com/user/agentrelay/internal/types"
)

var (
	// ErrNotFound is returned when no record matches a reference, or when an
	// interrupt targets a process that is no longer running.
	ErrNotFound = errors.New("process not found")

	// ErrAmbiguous is returned when a prefix matches more than one record.
	ErrAmbiguous = errors.New("ambiguous process identifier")

	// ErrAlreadyRunning is returned by Register while another record is
	// running. It means the single-flight guarantee was broken upstream.
	ErrAlreadyRunning = errors.New("another process is already running")
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// Cause records why a process was stopped from outside.
type Cause string

const (
	CauseNone      Cause = ""
	CauseTimeout   Cause = "timeout"
	CauseInterrupt Cause = "interrupt"
	CauseShutdown  Cause = "shutdown"
)

// Stopper terminates the OS process behind a record. It must be safe to call
// more than once.
type Stopper interface {
	Stop()
}

// StopFunc adapts a function to Stopper.
type StopFunc func()

func (f StopFunc) Stop() { f() }

// Record describes one agent invocation.
type Record struct {
	ID        types.ProcessID `json:"process_id"`
	RequestID types.RequestID `json:"request_id"`
	Source    types.Source    `json:"source"`
	PID       int             `json:"pid"`
	Command   string          `json:"command"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at,omitzero"`
	Status    Status          `json:"status"`
	Cause     Cause           `json:"cause,omitempty"`
}

// Age is the time the record has been running, or ran for if terminal.
func (r Record) Age(now time.Time) time.Duration {
	if !r.EndedAt.IsZero() {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
