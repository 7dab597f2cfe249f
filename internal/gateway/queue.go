package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

var (
	// ErrShutdown is returned once the mailbox has been closed.
	ErrShutdown = errors.New("scheduler is shut down")

	// ErrIdle is returned by Dequeue when nothing arrived within the wait.
	ErrIdle = errors.New("no request within idle interval")
)

// Queue is the scheduler's mailbox: an unbounded FIFO that any number of
// producers append to and a single consumer drains.
type Queue struct {
	mu     sync.Mutex
	items  []*types.Request
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue creates an empty, open mailbox.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends req. It never blocks and fails only after Close.
func (q *Queue) Enqueue(req *types.Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrShutdown
	}
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue returns the oldest request, waiting at most timeout for one to
// arrive. It returns ErrIdle when the wait runs out, ErrShutdown once the
// mailbox is closed, or ctx.Err(). A timeout <= 0 waits without bound.
//
// The timeout covers the whole call: wake-ups that find the mailbox empty do
// not restart it.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*types.Request, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrShutdown
		}
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-expired:
			return nil, ErrIdle
		case <-q.done:
			return nil, ErrShutdown
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the mailbox. Requests still waiting are discarded and their
// count returned. Close is idempotent.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	close(q.done)
	return dropped
}
