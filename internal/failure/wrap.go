package failure

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Handler is a unit of work run behind Wrap.
type Handler func(ctx context.Context) error

// Notify receives the single user-facing message for a contained failure.
type Notify func(ctx context.Context, kind Kind, message string)

// Wrap returns a Handler that contains the failures of h: panics are
// recovered, errors are classified, logged, and reported once through
// notify, and nil is returned so the caller keeps running. Cancellation and
// fatal errors are returned unchanged; notify still sees cancellation so the
// requester learns the work was stopped.
func Wrap(name string, h Handler, notify Notify) Handler {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler panicked", "handler", name, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("%s panicked: %v", name, r)
				err = contain(ctx, name, err, notify)
			}
		}()
		return contain(ctx, name, h(ctx), notify)
	}
}

func contain(ctx context.Context, name string, err error, notify Notify) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		slog.Error("fatal error", "handler", name, "error", err)
		return err
	}
	kind, msg := Classify(err)
	if kind == Cancelled {
		slog.Info("handler cancelled", "handler", name, "error", err)
		if notify != nil {
			notify(ctx, kind, msg)
		}
		return err
	}
	slog.Error("handler failed", "handler", name, "kind", string(kind), "error", err)
	if notify != nil {
		notify(ctx, kind, msg)
	}
	return nil
}
