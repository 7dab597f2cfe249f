package agent

import (
	"strings"

	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

// accumulator folds every stream event of one invocation into a Response.
type accumulator struct {
	resp      types.Response
	assistant []string
	seenTools map[string]bool

	final       bool
	resultError bool
	sealed      bool
}

func newAccumulator(req *types.Request) *accumulator {
	return &accumulator{
		resp:      types.Response{RequestID: req.ID},
		seenTools: make(map[string]bool),
	}
}

func (a *accumulator) add(ev stream.Event) {
	a.resp.Events++
	if ev.SessionID != "" {
		a.resp.SessionID = ev.SessionID
	}
	for _, name := range ev.ToolNames() {
		if name != "" && !a.seenTools[name] {
			a.seenTools[name] = true
			a.resp.ToolsUsed = append(a.resp.ToolsUsed, name)
		}
	}

	switch ev.Kind {
	case stream.KindAssistantText:
		if s := strings.TrimSpace(ev.Content); s != "" {
			a.assistant = append(a.assistant, s)
		}
	case stream.KindFinalResult:
		a.final = true
		a.resultError = ev.IsError
		a.resp.Cost = ev.Cost
		a.resp.Duration = ev.Duration
		if ev.Content != "" {
			a.resp.Text = ev.Content
		}
	}
}

// seal sets the terminal status. Only the first call has any effect.
func (a *accumulator) seal(status types.TerminalStatus) *types.Response {
	if !a.sealed {
		a.sealed = true
		a.resp.TerminalStatus = status
		if a.resp.Text == "" {
			a.resp.Text = strings.Join(a.assistant, "\n\n")
		}
	}
	out := a.resp
	return &out
}
