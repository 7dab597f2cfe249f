// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Source tells the scheduler where a request came from.
type Source string

const (
	SourceUserText      Source = "user_text"
	SourceMediaNotice   Source = "media_notice"
	SourceIdleInjection Source = "idle_injection"
	SourceScheduled     Source = "scheduled"
)

// Request is one unit of agent work. It is immutable once enqueued.
type Request struct {
	ID          RequestID `json:"id"`
	Prompt      string    `json:"prompt"`
	Origin      Origin    `json:"origin"`
	Source      Source    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewRequest stamps a request with a fresh id and the current time.
func NewRequest(prompt string, origin Origin, source Source) *Request {
	return &Request{
		ID:          NewRequestID(),
		Prompt:      prompt,
		Origin:      origin,
		Source:      source,
		SubmittedAt: time.Now(),
	}
}

// Session is the agent conversation the next request continues.
type Session struct {
	SessionID     string    `json:"session_id"`
	Origin        Origin    `json:"origin"`
	LastActivity  time.Time `json:"last_activity"`
	LastRequestID RequestID `json:"last_request_id,omitempty"`
	LastSource    Source    `json:"last_source,omitempty"`
}

// TerminalStatus is the authoritative outcome of one invocation.
type TerminalStatus string

const (
	StatusOK          TerminalStatus = "ok"
	StatusTimedOut    TerminalStatus = "timed_out"
	StatusInterrupted TerminalStatus = "interrupted"
	StatusFailed      TerminalStatus = "failed"
)

// Response is the accumulated result of one invocation.
type Response struct {
	RequestID      RequestID      `json:"request_id"`
	ProcessID      ProcessID      `json:"process_id,omitempty"`
	Text           string         `json:"text"`
	SessionID      string         `json:"session_id,omitempty"`
	Cost           float64        `json:"cost"`
	Duration       time.Duration  `json:"duration"`
	ToolsUsed      []string       `json:"tools_used,omitempty"`
	Events         int            `json:"events"`
	TerminalStatus TerminalStatus `json:"terminal_status"`
}

// Event is one journaled stream event, stored as a JSONL transcript line.
type Event struct {
	ID        EventID         `json:"id"`
	RequestID RequestID       `json:"request_id"`
	Origin    Origin          `json:"origin,omitempty"`
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	Content   string          `json:"content,omitempty"`
	At        time.Time       `json:"at"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}
