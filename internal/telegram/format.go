package telegram

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

const (
	maxTelegramMessage = 4096
	statusHeader       = "⏳ Processing…"
	progressPreview    = 300
)

// splitMessage cuts text into chunks of at most maxTelegramMessage bytes,
// preferring line breaks and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// formatProgress renders one stream event as a status line. Final results
// are delivered separately and render as "", as do lines the decoder could
// not interpret; those stay in the transcript.
func formatProgress(ev stream.Event) string {
	switch ev.Kind {
	case stream.KindAssistantText:
		if s := preview(ev.Content); s != "" {
			return "💭 " + s
		}
	case stream.KindToolInvocation:
		if names := ev.ToolNames(); len(names) > 0 {
			return "🔧 " + strings.Join(names, ", ")
		}
		return "🔧 " + preview(ev.Content)
	case stream.KindToolResult:
		return "📋 Tool finished"
	case stream.KindError:
		if ev.Malformed {
			return ""
		}
		return "⚠️ " + preview(ev.Content)
	}
	return ""
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= progressPreview {
		return s
	}
	cut := progressPreview
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func formatProcesses(records []process.Record, now time.Time) string {
	if len(records) == 0 {
		return "No agent processes."
	}
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "%s %s %s", types.Short(r.ID), statusIcon(r.Status), r.Status)
		if r.Cause != process.CauseNone {
			fmt.Fprintf(&sb, " (%s)", r.Cause)
		}
		fmt.Fprintf(&sb, " · %s · pid %d · %s\n", r.Age(now).Round(time.Second), r.PID, r.Source)
		fmt.Fprintf(&sb, "   %s\n", r.Command)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func statusIcon(s process.Status) string {
	switch s {
	case process.StatusRunning:
		return "🟢"
	case process.StatusCompleted:
		return "✅"
	case process.StatusKilled:
		return "🛑"
	}
	return "❌"
}

func formatErrors(entries []store.ErrorEntry) string {
	if len(entries) == 0 {
		return "No errors recorded."
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s [%s] %s\n", e.At.Format("01-02 15:04:05"), e.Kind, preview(e.Detail))
	}
	return strings.TrimRight(sb.String(), "\n")
}
