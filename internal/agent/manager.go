// Package agent runs the external agent CLI, one invocation at a time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/user/agentrelay/internal/failure"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

// ErrBusy is returned by Invoke while another invocation is running.
var ErrBusy = errors.New("agent is busy")

// EventFunc receives each decoded event in order. It runs on the goroutine
// reading the agent's output and must not block.
type EventFunc func(stream.Event)

// Manager spawns agent invocations and records them in a process registry.
type Manager struct {
	opts     Options
	registry *process.Registry
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// NewManager creates a Manager. Zero option fields take their defaults.
func NewManager(opts Options, registry *process.Registry) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		registry: registry,
		sem:      semaphore.NewWeighted(1),
		logger:   slog.Default().With("component", "agent"),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// Invoke runs the agent for req, continuing session when it is non-nil, and
// streams every decoded event to onEvent. The returned Response is non-nil
// whenever the agent was started; its TerminalStatus says how it ended and
// the error carries the matching failure.
//
// Cancelling ctx stops the agent with cause shutdown.
func (m *Manager) Invoke(ctx context.Context, req *types.Request, session *types.Session, onEvent EventFunc) (*types.Response, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("invoke: empty prompt: %w", failure.ErrInvalidInput)
	}
	if !m.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer m.sem.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("invoke: %w", failure.ErrCancelled)
	}

	sessionID := ""
	if session != nil {
		sessionID = session.SessionID
	}
	args := BuildArgs(m.opts, req.Prompt, sessionID)

	proc, err := startSubprocess(m.opts, args)
	if err != nil {
		return nil, fmt.Errorf("invoke: %w", err)
	}

	id := types.NewProcessID()
	rec := process.Record{
		ID:        id,
		RequestID: req.ID,
		Source:    req.Source,
		PID:       proc.PID(),
		Command:   CommandLine(m.opts.Binary, args),
		StartedAt: time.Now(),
	}
	if err := m.registry.Register(rec, proc); err != nil {
		proc.kill()
		_ = proc.wait()
		return nil, failure.Fatal(fmt.Errorf("invoke: %w", err))
	}

	logger := m.logger.With("request_id", req.ID, "process_id", id, "pid", rec.PID)
	logger.Info("agent started", "source", string(req.Source), "resume", sessionID != "")

	timer := time.AfterFunc(m.opts.Timeout, func() {
		if _, err := m.registry.Interrupt(string(id), process.CauseTimeout); err == nil {
			logger.Warn("agent timed out", "timeout", m.opts.Timeout)
		}
	})
	defer timer.Stop()
	stopOnCancel := context.AfterFunc(ctx, func() {
		_, _ = m.registry.Interrupt(string(id), process.CauseShutdown)
	})
	defer stopOnCancel()

	var g errgroup.Group
	g.Go(proc.drainStderr)

	acc := newAccumulator(req)
	acc.resp.ProcessID = id
	dec := stream.NewDecoder(proc.stdout)
	for ev := range dec.All() {
		acc.add(ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if err := dec.Err(); err != nil {
		logger.Warn("agent output broken", "error", err)
		proc.kill()
	}

	_ = g.Wait()
	waitErr := proc.wait()

	resp, err := m.finish(id, acc, waitErr, proc.tail.String())
	logger.Info("agent finished",
		"status", string(resp.TerminalStatus),
		"events", resp.Events,
		"cost", resp.Cost,
		"elapsed", time.Since(rec.StartedAt).Round(time.Millisecond),
	)
	return resp, err
}

// finish decides the terminal status. The registry arbitrates between a
// normal exit and an interrupt: whichever reaches it first wins.
func (m *Manager) finish(id types.ProcessID, acc *accumulator, waitErr error, stderr string) (*types.Response, error) {
	status := process.StatusCompleted
	var outcome error

	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		status = process.StatusFailed
		outcome = &failure.ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr)}
	case waitErr != nil:
		status = process.StatusFailed
		outcome = fmt.Errorf("wait agent: %w", waitErr)
	case !acc.final:
		status = process.StatusFailed
		outcome = fmt.Errorf("agent produced no result: %w", failure.ErrAgent)
	case acc.resultError:
		status = process.StatusFailed
		outcome = fmt.Errorf("agent reported an error: %s: %w", firstLine(acc.resp.Text), failure.ErrAgent)
	}

	if m.registry.MarkTerminal(id, status) {
		if outcome != nil {
			return acc.seal(types.StatusFailed), outcome
		}
		return acc.seal(types.StatusOK), nil
	}

	rec, _ := m.registry.Get(id)
	if rec.Cause == process.CauseTimeout {
		return acc.seal(types.StatusTimedOut), fmt.Errorf("agent exceeded %s: %w", m.opts.Timeout, failure.ErrTimeout)
	}
	return acc.seal(types.StatusInterrupted), fmt.Errorf("agent %s (%s): %w", types.Short(id), rec.Cause, failure.ErrCancelled)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
