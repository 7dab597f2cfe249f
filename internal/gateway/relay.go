package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/agentrelay/internal/stream"
)

// DefaultRelayInterval is the minimum spacing between progress deliveries.
const DefaultRelayInterval = time.Second

// Relay forwards stream events to a slow consumer at most once per
// interval. Offer never blocks: an event not yet delivered is replaced by
// the next one, so the consumer always sees the latest.
type Relay struct {
	limiter *rate.Limiter
	deliver func(context.Context, stream.Event)
	pending chan stream.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	offered   int
	delivered int
}

// NewRelay starts a relay calling deliver from its own goroutine.
func NewRelay(ctx context.Context, interval time.Duration, deliver func(context.Context, stream.Event)) *Relay {
	if interval <= 0 {
		interval = DefaultRelayInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		deliver: deliver,
		pending: make(chan stream.Event, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Offer hands ev to the relay, displacing any event still waiting.
func (r *Relay) Offer(ev stream.Event) {
	r.mu.Lock()
	r.offered++
	r.mu.Unlock()

	for {
		select {
		case r.pending <- ev:
			return
		default:
		}
		select {
		case <-r.pending:
		default:
		}
	}
}

func (r *Relay) loop() {
	defer close(r.done)
	for {
		var ev stream.Event
		select {
		case ev = <-r.pending:
		case <-r.ctx.Done():
			return
		}
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		select {
		case newer := <-r.pending:
			ev = newer
		default:
		}

		r.deliver(r.ctx, ev)
		r.mu.Lock()
		r.delivered++
		r.mu.Unlock()
	}
}

// Close stops the relay, discarding anything not yet delivered, and waits
// for an in-progress delivery to return. It reports how many events were
// offered and how many delivered.
func (r *Relay) Close() (offered, delivered int) {
	r.cancel()
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offered, r.delivered
}
