// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

// Sink delivers agent output back to the transport that owns an origin.
type Sink interface {
	// Deliver sends a final answer, or a failure message, to origin.
	Deliver(ctx context.Context, origin types.Origin, text string) error
	// Progress shows an intermediate stream event. It is called at most
	// once per relay interval.
	Progress(ctx context.Context, origin types.Origin, ev stream.Event) error
}

// Registry routes deliveries to the Sink registered for the origin's prefix
// (e.g. "telegram:", "http:"). The longest matching prefix wins.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[string]Sink),
	}
}

// Register adds a sink for origins starting with prefix.
func (r *Registry) Register(prefix string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[prefix] = sink
}

// Prefixes lists the registered prefixes in sorted order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sinks))
	for p := range r.sinks {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(origin types.Origin) (Sink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best string
	var sink Sink
	for prefix, s := range r.sinks {
		if strings.HasPrefix(string(origin), prefix) && len(prefix) >= len(best) {
			best, sink = prefix, s
		}
	}
	if sink == nil {
		return nil, fmt.Errorf("no delivery handler for origin: %s", origin)
	}
	return sink, nil
}

// Deliver finds the sink matching origin and calls it.
func (r *Registry) Deliver(ctx context.Context, origin types.Origin, text string) error {
	sink, err := r.lookup(origin)
	if err != nil {
		return err
	}
	return sink.Deliver(ctx, origin, text)
}

// Progress finds the sink matching origin and calls it.
func (r *Registry) Progress(ctx context.Context, origin types.Origin, ev stream.Event) error {
	sink, err := r.lookup(origin)
	if err != nil {
		return err
	}
	return sink.Progress(ctx, origin, ev)
}

// Funcs adapts plain functions to Sink. A nil OnProgress ignores progress.
type Funcs struct {
	OnDeliver  func(ctx context.Context, origin types.Origin, text string) error
	OnProgress func(ctx context.Context, origin types.Origin, ev stream.Event) error
}

func (f Funcs) Deliver(ctx context.Context, origin types.Origin, text string) error {
	if f.OnDeliver == nil {
		return nil
	}
	return f.OnDeliver(ctx, origin, text)
}

func (f Funcs) Progress(ctx context.Context, origin types.Origin, ev stream.Event) error {
	if f.OnProgress == nil {
		return nil
	}
	return f.OnProgress(ctx, origin, ev)
}
