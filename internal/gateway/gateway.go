// Package gateway holds the request scheduler: the single consumer that
// turns queued requests into agent invocations, relays their output, and
// synthesizes idle work when nothing arrives.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/agentrelay/internal/agent"
	"github.com/user/agentrelay/internal/delivery"
	"github.com/user/agentrelay/internal/failure"
	"github.com/user/agentrelay/internal/metrics"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

const deliverTimeout = 2 * time.Minute

// Invoker runs one agent invocation. *agent.Manager implements it.
type Invoker interface {
	Invoke(ctx context.Context, req *types.Request, session *types.Session, onEvent agent.EventFunc) (*types.Response, error)
}

// Journal records finished invocations, failures and durable flags.
// *store.Journal implements it.
type Journal interface {
	RecordProcess(ctx context.Context, e store.ProcessEntry) error
	RecordError(ctx context.Context, e store.ErrorEntry) error
	SetState(ctx context.Context, key, value string) error
	BoolState(ctx context.Context, key string) (bool, error)
}

// Config tunes the scheduler.
type Config struct {
	// IdleEnabled turns on idle injection: after IdleInterval without a
	// request, IdlePrompt is sent to the last session's origin.
	IdleEnabled  bool
	IdleInterval time.Duration
	IdlePrompt   string

	RelayInterval time.Duration
	Retry         *RetryPolicy
}

// Deps are the scheduler's collaborators. Events, Journal and Metrics are
// optional.
type Deps struct {
	Agent    Invoker
	Registry *process.Registry
	Sessions types.SessionStore
	Events   types.EventStore
	Journal  Journal
	Sink     delivery.Sink
	Metrics  *metrics.Metrics
}

// Stats is a snapshot of the scheduler for status displays.
type Stats struct {
	Depth     int
	Paused    bool
	Processed int
	Failed    int
	Since     time.Time
	Current   *Run
	Last      *Run
}

// Scheduler is the single consumer of the request mailbox.
type Scheduler struct {
	cfg   Config
	deps  Deps
	queue *Queue
	retry *RetryPolicy

	logger *slog.Logger

	mu        sync.Mutex
	paused    bool
	current   *Run
	last      *Run
	processed int
	failed    int
	since     time.Time
	cancel    context.CancelFunc

	running atomic.Bool
	stopped chan struct{}
}

// New creates a Scheduler. Call Run to start consuming.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = DefaultRelayInterval
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		queue:   NewQueue(),
		retry:   retry,
		logger:  slog.Default().With("component", "scheduler"),
		since:   time.Now(),
		stopped: make(chan struct{}),
	}
}

// Enqueue adds req to the mailbox. It never blocks and fails only with
// ErrShutdown.
func (s *Scheduler) Enqueue(req *types.Request) error {
	if req == nil {
		return fmt.Errorf("enqueue: nil request: %w", failure.ErrInvalidInput)
	}
	if err := s.queue.Enqueue(req); err != nil {
		return err
	}
	s.deps.Metrics.QueueDepth(s.queue.Len())
	s.logger.Debug("request enqueued", "request_id", req.ID, "source", string(req.Source), "depth", s.queue.Len())
	return nil
}

// Submit builds a request and enqueues it.
func (s *Scheduler) Submit(prompt string, origin types.Origin, source types.Source) (*types.Request, error) {
	req := types.NewRequest(prompt, origin, source)
	if err := s.Enqueue(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Depth returns the number of requests waiting.
func (s *Scheduler) Depth() int { return s.queue.Len() }

// Run consumes the mailbox until ctx is cancelled or Shutdown is called, in
// which case it returns nil. It returns early only for fatal errors.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer close(s.stopped)
	// Whatever ends the loop, producers must see ErrShutdown from now on.
	defer func() {
		if n := s.queue.Close(); n > 0 {
			s.logger.Warn("dropped queued requests", "count", n)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.restore(ctx)
	s.logger.Info("scheduler started",
		"idle_enabled", s.cfg.IdleEnabled,
		"idle_interval", s.cfg.IdleInterval,
		"relay_interval", s.cfg.RelayInterval,
	)

	for {
		s.deps.Metrics.QueueDepth(s.queue.Len())
		req, err := s.queue.Dequeue(ctx, s.idleWait())
		switch {
		case err == nil:
		case errors.Is(err, ErrIdle):
			if req = s.idleRequest(ctx); req == nil {
				continue
			}
		case errors.Is(err, ErrShutdown) || ctx.Err() != nil:
			s.logger.Info("scheduler stopped")
			return nil
		default:
			return failure.Fatal(fmt.Errorf("dequeue: %w", err))
		}

		if err := s.process(ctx, req); failure.IsFatal(err) {
			s.logger.Error("scheduler stopping on fatal error", "error", err)
			return err
		}
	}
}

// Shutdown stops accepting work, interrupts the running agent and waits for
// Run to return or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	dropped := s.queue.Close()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	stopped := 0
	if s.deps.Registry != nil {
		stopped = s.deps.Registry.InterruptAll(process.CauseShutdown)
	}
	s.logger.Info("scheduler shutting down", "dropped_requests", dropped, "interrupted", stopped)

	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops idle injection until Resume. The flag survives restarts when
// a journal is configured.
func (s *Scheduler) Pause(ctx context.Context) error { return s.setPaused(ctx, true) }

// Resume re-enables idle injection.
func (s *Scheduler) Resume(ctx context.Context) error { return s.setPaused(ctx, false) }

// Paused reports whether idle injection is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) setPaused(ctx context.Context, paused bool) error {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	if s.deps.Journal == nil {
		return nil
	}
	if err := s.deps.Journal.SetState(ctx, store.KeyPaused, strconv.FormatBool(paused)); err != nil {
		return fmt.Errorf("persist pause state: %w", err)
	}
	return nil
}

func (s *Scheduler) restore(ctx context.Context) {
	if s.deps.Journal == nil {
		return
	}
	paused, err := s.deps.Journal.BoolState(ctx, store.KeyPaused)
	if err != nil {
		s.logger.Warn("could not restore pause state", "error", err)
		return
	}
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Depth:     s.queue.Len(),
		Paused:    s.paused,
		Processed: s.processed,
		Failed:    s.failed,
		Since:     s.since,
	}
	if s.current != nil {
		cp := *s.current
		st.Current = &cp
	}
	if s.last != nil {
		cp := *s.last
		st.Last = &cp
	}
	return st
}

func (s *Scheduler) idleWait() time.Duration {
	if !s.cfg.IdleEnabled {
		return 0
	}
	return s.cfg.IdleInterval
}

// idleRequest synthesizes idle work for the last session's origin, or
// returns nil when idle injection does not apply.
func (s *Scheduler) idleRequest(ctx context.Context) *types.Request {
	if !s.cfg.IdleEnabled || s.Paused() || strings.TrimSpace(s.cfg.IdlePrompt) == "" {
		return nil
	}
	sess, err := s.deps.Sessions.Current(ctx)
	if err != nil {
		s.logger.Warn("idle check could not read session", "error", err)
		return nil
	}
	if sess == nil || sess.Origin == "" {
		return nil
	}
	req := types.NewRequest(s.cfg.IdlePrompt, sess.Origin, types.SourceIdleInjection)
	s.deps.Metrics.IdleInjected()
	s.logger.Info("injecting idle request", "request_id", req.ID, "origin", string(sess.Origin))
	return req
}

// process handles one request. Every failure is contained and reported to
// the request's origin; only fatal errors are returned.
func (s *Scheduler) process(ctx context.Context, req *types.Request) error {
	run := NewRun(req)
	s.mu.Lock()
	s.current = run
	s.mu.Unlock()

	logger := s.logger.With("request_id", req.ID, "source", string(req.Source))
	var (
		resp    *types.Response
		execErr error
		kind    failure.Kind
	)

	handler := failure.Wrap("request", func(ctx context.Context) error {
		resp, execErr = s.execute(ctx, req, logger)
		return execErr
	}, func(nctx context.Context, k failure.Kind, msg string) {
		kind = k
		s.reportFailure(nctx, req, k, msg, execErr)
	})
	err := handler(ctx)

	if kind == "" && err != nil {
		kind, _ = failure.Classify(err)
	}
	run.finish(resp, kind)
	s.mu.Lock()
	s.current = nil
	s.last = run
	s.processed++
	if run.Status == RunStatusFailed {
		s.failed++
	}
	s.mu.Unlock()

	logger.Info("request finished", "status", string(run.Status), "kind", string(run.Kind), "elapsed", run.Elapsed().Round(time.Millisecond))
	if failure.IsFatal(err) {
		return err
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, req *types.Request, logger *slog.Logger) (*types.Response, error) {
	sess, err := s.deps.Sessions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.deps.Metrics.RequestStarted(string(req.Source))

	relay := NewRelay(ctx, s.cfg.RelayInterval, func(rctx context.Context, ev stream.Event) {
		if err := s.deps.Sink.Progress(rctx, req.Origin, ev); err != nil {
			logger.Debug("progress delivery failed", "error", err)
		}
	})
	onEvent := func(ev stream.Event) {
		s.deps.Metrics.Event(string(ev.Kind))
		relay.Offer(ev)
		s.transcribe(ctx, req, ev, logger)
	}

	start := time.Now()
	resp, err := s.deps.Agent.Invoke(ctx, req, sess, onEvent)
	offered, delivered := relay.Close()
	s.deps.Metrics.Relay(delivered, offered-delivered)

	if resp != nil {
		s.deps.Metrics.InvocationFinished(string(resp.TerminalStatus), time.Since(start), resp.Cost)
		s.journalProcess(ctx, req, resp, logger)
	} else {
		s.deps.Metrics.InvocationFinished(string(types.StatusFailed), time.Since(start), 0)
	}
	if err != nil {
		return resp, err
	}

	if next := nextSession(sess, req, resp); next != nil {
		if err := s.deps.Sessions.Update(ctx, next); err != nil {
			logger.Error("could not persist session", "error", err)
		}
	}

	text := resp.Text
	if strings.TrimSpace(text) == "" {
		text = "✅ Done."
	}
	if err := s.deliver(ctx, req.Origin, text); err != nil {
		return resp, fmt.Errorf("deliver answer: %w", err)
	}
	return resp, nil
}

// nextSession is the session to store after a successful invocation, or nil
// if there is nothing to continue.
func nextSession(prev *types.Session, req *types.Request, resp *types.Response) *types.Session {
	id := resp.SessionID
	if id == "" && prev != nil {
		id = prev.SessionID
	}
	if id == "" {
		return nil
	}
	return &types.Session{
		SessionID:     id,
		Origin:        req.Origin,
		LastActivity:  time.Now(),
		LastRequestID: req.ID,
		LastSource:    req.Source,
	}
}

func (s *Scheduler) deliver(ctx context.Context, origin types.Origin, text string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer cancel()
	return s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.deps.Sink.Deliver(ctx, origin, text)
	})
}

func (s *Scheduler) reportFailure(ctx context.Context, req *types.Request, kind failure.Kind, msg string, cause error) {
	if kind != failure.Cancelled {
		s.deps.Metrics.Failure(string(kind))
	}
	if s.deps.Journal != nil {
		detail := "panic"
		if cause != nil {
			detail = cause.Error()
		}
		entry := store.ErrorEntry{
			RequestID: string(req.ID),
			Origin:    string(req.Origin),
			Kind:      string(kind),
			Message:   msg,
			Detail:    detail,
		}
		if err := s.deps.Journal.RecordError(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Warn("could not journal error", "error", err)
		}
	}
	if err := s.deliver(ctx, req.Origin, msg); err != nil {
		s.logger.Error("could not deliver failure message", "request_id", req.ID, "kind", string(kind), "error", err)
	}
}

func (s *Scheduler) transcribe(ctx context.Context, req *types.Request, ev stream.Event, logger *slog.Logger) {
	if s.deps.Events == nil {
		return
	}
	content := ev.Content
	if ev.Kind == stream.KindError && ev.Raw != "" {
		content = ev.Raw
	}
	err := s.deps.Events.Append(ctx, &types.Event{
		RequestID: req.ID,
		Origin:    req.Origin,
		Kind:      string(ev.Kind),
		Content:   content,
		Meta:      ev.Meta(),
	})
	if err != nil {
		logger.Warn("could not append to transcript", "error", err)
	}
}

func (s *Scheduler) journalProcess(ctx context.Context, req *types.Request, resp *types.Response, logger *slog.Logger) {
	if s.deps.Journal == nil || s.deps.Registry == nil {
		return
	}
	rec, ok := s.deps.Registry.Get(resp.ProcessID)
	if !ok {
		return
	}
	entry := store.ProcessEntry{
		ProcessID:      string(rec.ID),
		RequestID:      string(req.ID),
		Origin:         string(req.Origin),
		Source:         string(req.Source),
		PID:            rec.PID,
		Command:        rec.Command,
		Status:         string(rec.Status),
		Cause:          string(rec.Cause),
		TerminalStatus: string(resp.TerminalStatus),
		SessionID:      resp.SessionID,
		Cost:           resp.Cost,
		Events:         resp.Events,
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
	}
	if err := s.deps.Journal.RecordProcess(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("could not journal process", "error", err)
	}
}
