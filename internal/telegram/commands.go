package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/types"
)

const helpText = `Send a message and the agent works on it. Photos, voice notes and documents are saved for the agent to read.

/status - queue, session and running agent
/clear - start a fresh agent session
/pause - stop idle follow-ups
/resume - allow idle follow-ups again
/ps - list agent processes
/kill [id] - stop an agent process (default: the running one)
/killall - stop every running agent process
/debug on|off - toggle debug logging
/errors [n] - show recent failures`

const defaultErrorCount = 10

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	a.logger.Info("command", "command", msg.Command(), "user_id", msg.From.ID)

	switch msg.Command() {
	case "start":
		a.reply(chatID, "👋 agentrelay is running. Send a message to talk to the agent.\n\n"+helpText)
	case "help":
		a.reply(chatID, helpText)
	case "status":
		a.reply(chatID, a.statusText(ctx))
	case "clear":
		a.reply(chatID, a.clearSession(ctx))
	case "pause":
		if err := a.deps.Scheduler.Pause(ctx); err != nil {
			a.reply(chatID, "❌ Could not save the pause state: "+err.Error())
			return
		}
		a.reply(chatID, "⏸️ Idle follow-ups paused. Your messages are still handled.")
	case "resume":
		if err := a.deps.Scheduler.Resume(ctx); err != nil {
			a.reply(chatID, "❌ Could not save the pause state: "+err.Error())
			return
		}
		a.reply(chatID, "▶️ Idle follow-ups resumed.")
	case "ps":
		a.reply(chatID, formatProcesses(a.deps.Registry.List(), time.Now()))
	case "kill":
		a.reply(chatID, a.kill(args))
	case "killall":
		n := a.deps.Registry.InterruptAll(process.CauseInterrupt)
		a.reply(chatID, fmt.Sprintf("🛑 Stopped %d agent process(es).", n))
	case "debug":
		a.reply(chatID, a.debug(args))
	case "errors":
		a.reply(chatID, a.recentErrors(ctx, args))
	default:
		a.reply(chatID, "Unknown command. Try /help.")
	}
}

func (a *Adapter) statusText(ctx context.Context) string {
	st := a.deps.Scheduler.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Up %s\n", time.Since(st.Since).Round(time.Second))
	fmt.Fprintf(&sb, "Queue: %d waiting\n", st.Depth)
	fmt.Fprintf(&sb, "Handled: %d (%d failed)\n", st.Processed, st.Failed)
	if st.Paused {
		sb.WriteString("Idle follow-ups: paused\n")
	} else {
		sb.WriteString("Idle follow-ups: active\n")
	}

	sess, err := a.deps.Sessions.Current(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "Session: unavailable (%v)\n", err)
	case sess == nil:
		sb.WriteString("Session: none\n")
	default:
		fmt.Fprintf(&sb, "Session: %s (active %s ago)\n", types.Short(sess.SessionID), time.Since(sess.LastActivity).Round(time.Second))
	}

	if rec, ok := a.deps.Registry.Running(); ok {
		fmt.Fprintf(&sb, "Running: %s for %s", types.Short(rec.ID), rec.Age(time.Now()).Round(time.Second))
	} else {
		sb.WriteString("Running: nothing")
	}
	return sb.String()
}

func (a *Adapter) clearSession(ctx context.Context) string {
	existed, err := a.deps.Sessions.Clear(ctx)
	if err != nil {
		return "❌ Could not clear the session: " + err.Error()
	}
	if !existed {
		return "There was no session to clear."
	}
	return "🧹 Session cleared. The next message starts a new conversation."
}

func (a *Adapter) kill(ref string) string {
	if ref == "" {
		rec, ok := a.deps.Registry.Running()
		if !ok {
			return "Nothing is running."
		}
		ref = string(rec.ID)
	}
	rec, err := a.deps.Registry.Interrupt(ref, process.CauseInterrupt)
	switch {
	case errors.Is(err, process.ErrAmbiguous):
		return fmt.Sprintf("❓ %q matches more than one process. Use a longer id.", ref)
	case errors.Is(err, process.ErrNotFound):
		return fmt.Sprintf("❓ No running process matches %q.", ref)
	case err != nil:
		return "❌ " + err.Error()
	}
	return fmt.Sprintf("🛑 Stopping %s (pid %d).", types.Short(rec.ID), rec.PID)
}

func (a *Adapter) debug(arg string) string {
	if a.deps.LogLevel == nil {
		return "Log level cannot be changed at runtime."
	}
	switch strings.ToLower(arg) {
	case "on":
		a.deps.LogLevel.Set(slog.LevelDebug)
		return "🐛 Debug logging on."
	case "off":
		a.deps.LogLevel.Set(slog.LevelInfo)
		return "Debug logging off."
	case "":
		return "Log level: " + a.deps.LogLevel.Level().String()
	}
	return "Usage: /debug on|off"
}

func (a *Adapter) recentErrors(ctx context.Context, arg string) string {
	if a.deps.Journal == nil {
		return "The error journal is disabled."
	}
	n := defaultErrorCount
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return "Usage: /errors [n]"
		}
		n = v
	}
	entries, err := a.deps.Journal.Errors(ctx, n)
	if err != nil {
		return "❌ Could not read the error journal: " + err.Error()
	}
	return formatErrors(entries)
}
