// internal/types/interfaces.go
package types

import (
	"context"
)

// SessionStore holds the single active agent session.
type SessionStore interface {
	Current(ctx context.Context) (*Session, error)
	Update(ctx context.Context, session *Session) error
	Clear(ctx context.Context) (bool, error)
}

// EventStore is the append-only transcript of decoded stream events.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, limit int) ([]*Event, error)
	Count(ctx context.Context) (int64, error)
}
