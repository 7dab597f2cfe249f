// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Origin is an opaque handle back to the transport that produced a request.
// Only the owning transport interprets it; the core routes on its prefix.
type Origin string

type RequestID string
type ProcessID string
type EventID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewProcessID() ProcessID {
	return ProcessID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewOrigin(parts ...string) Origin {
	return Origin(strings.Join(parts, ":"))
}

// Short returns the first 8 characters of an id for display.
func Short[T ~string](id T) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
