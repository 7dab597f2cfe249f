// Package state provides filesystem-backed storage implementations: the
// active session, the event transcript, and scheduled tasks.
package state

import "github.com/user/agentrelay/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
