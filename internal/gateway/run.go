package gateway

import (
	"time"

	"github.com/user/agentrelay/internal/failure"
	"github.com/user/agentrelay/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks the scheduler's handling of one request, from dequeue to the
// final delivery.
type Run struct {
	Request   *types.Request
	Status    RunStatus
	StartedAt time.Time
	EndedAt   time.Time
	Response  *types.Response
	Kind      failure.Kind
}

// NewRun creates a Run in the Running state for req.
func NewRun(req *types.Request) *Run {
	return &Run{
		Request:   req,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
}

// finish closes the run. An empty kind means the request succeeded.
func (r *Run) finish(resp *types.Response, kind failure.Kind) {
	r.EndedAt = time.Now()
	r.Response = resp
	r.Kind = kind
	if kind == "" {
		r.Status = RunStatusComplete
		return
	}
	r.Status = RunStatusFailed
}

// Elapsed is how long the run took, or has taken so far.
func (r *Run) Elapsed() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}
