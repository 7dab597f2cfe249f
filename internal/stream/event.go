// Package stream decodes the agent's newline-delimited structured output
// into a closed set of typed events.
package stream

import (
	"encoding/json"
	"time"
)

// Kind discriminates stream events.
type Kind string

const (
	KindAssistantText  Kind = "assistant_text"
	KindToolInvocation Kind = "tool_invocation"
	KindToolResult     Kind = "tool_result"
	KindFinalResult    Kind = "final_result"
	KindError          Kind = "error"
)

// ToolCall is one tool the agent asked to run.
type ToolCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Event is one decoded record. Fields beyond Kind and Content are only set
// for the kinds that carry them.
type Event struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`

	// KindToolInvocation
	Tools []ToolCall `json:"tools,omitempty"`

	// KindFinalResult
	SessionID string        `json:"session_id,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`

	// KindError: the offending line, verbatim. Malformed marks lines the
	// decoder could not interpret, as opposed to errors the agent reported.
	Raw       string `json:"raw,omitempty"`
	Malformed bool   `json:"malformed,omitempty"`
}

// ToolNames returns the names of the tools in a tool invocation.
func (e Event) ToolNames() []string {
	names := make([]string, 0, len(e.Tools))
	for _, t := range e.Tools {
		names = append(names, t.Name)
	}
	return names
}

// Meta returns the kind-specific metadata as JSON for journaling, or nil
// when the event carries none.
func (e Event) Meta() json.RawMessage {
	meta := map[string]any{}
	if len(e.Tools) > 0 {
		meta["tools"] = e.Tools
	}
	if e.SessionID != "" {
		meta["session_id"] = e.SessionID
	}
	if e.Cost != 0 {
		meta["cost"] = e.Cost
	}
	if e.Duration != 0 {
		meta["duration_ms"] = e.Duration.Milliseconds()
	}
	if e.IsError {
		meta["is_error"] = true
	}
	if e.Raw != "" {
		meta["raw"] = e.Raw
	}
	if e.Malformed {
		meta["malformed"] = true
	}
	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}
