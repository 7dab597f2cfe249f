package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind is a failure category. Cancelled sits outside the taxonomy: it is
// reported so callers can tell "stopped" from "failed", never as a failure.
type Kind string

const (
	Network      Kind = "network"
	Timeout      Kind = "timeout"
	RateLimit    Kind = "rate_limit"
	Permission   Kind = "permission"
	NotFound     Kind = "not_found"
	InvalidInput Kind = "invalid_input"
	AgentFailure Kind = "agent_failure"
	Generic      Kind = "generic"

	Cancelled Kind = "cancelled"
)

// Taxonomy lists every failure kind Classify can return for a real failure.
func Taxonomy() []Kind {
	return []Kind{Network, Timeout, RateLimit, Permission, NotFound, InvalidInput, AgentFailure, Generic}
}

var messages = map[Kind]string{
	Network:      "⚠️ Network connection issue. Please try again in a moment.",
	Timeout:      "⏱️ The agent took too long and was stopped. Try a simpler request.",
	RateLimit:    "⏸️ Rate limit reached. Please wait a moment.",
	Permission:   "🔒 Permission denied.",
	NotFound:     "❓ Resource not found.",
	InvalidInput: "❌ Invalid input. Please check your message.",
	AgentFailure: "🤖 The agent encountered an error. Please try again.",
	Generic:      "❌ An error occurred. Please try again.",
	Cancelled:    "🛑 Stopped.",
}

// Message returns the user-facing message for kind.
func Message(kind Kind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return messages[Generic]
}

// Classify maps err onto a Kind and its user-facing message. It is total:
// anything unrecognised is Generic. A nil error is Generic as well, since
// callers only classify after something went wrong.
func Classify(err error) (Kind, string) {
	kind := classify(err)
	return kind, Message(kind)
}

func classify(err error) Kind {
	if err == nil {
		return Generic
	}
	if IsCancelled(err) {
		return Cancelled
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return Timeout
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return classifyTelegram(tgErr)
	}

	// syscall.Errno satisfies net.Error, so plain file errors would land
	// here too; those are left to the fs checks below.
	var netErr net.Error
	if errors.As(err, &netErr) {
		if _, isErrno := netErr.(syscall.Errno); !isErrno {
			if netErr.Timeout() {
				return Timeout
			}
			return Network
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return Network
	}

	if errors.Is(err, ErrInvalidInput) {
		return InvalidInput
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return InvalidInput
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if kind, ok := fromText(exitErr.Stderr); ok && kind != Generic {
			return kind
		}
		return AgentFailure
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) || errors.Is(err, ErrAgent) {
		return AgentFailure
	}

	if errors.Is(err, fs.ErrPermission) {
		return Permission
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return NotFound
	}

	if kind, ok := fromText(err.Error()); ok {
		return kind
	}
	return Generic
}

func classifyTelegram(err *tgbotapi.Error) Kind {
	msg := strings.ToLower(err.Message)
	switch {
	case err.Code == 429 || err.ResponseParameters.RetryAfter > 0:
		return RateLimit
	case err.Code == 401 || err.Code == 403 || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return Permission
	case err.Code == 404 || strings.Contains(msg, "not found"):
		return NotFound
	case err.Code == 400:
		return InvalidInput
	}
	return Network
}

// statusTooMany matches 429 only where it reads as a status code.
var statusTooMany = regexp.MustCompile(`\b(?:status(?: code)?|code|error|http(?:/[\d.]+)?)\W{0,3}429\b`)

// fromText falls back to keywords for errors that arrive as plain strings,
// such as an agent's stderr.
func fromText(s string) (Kind, bool) {
	msg := strings.ToLower(s)
	switch {
	case msg == "":
		return Generic, false
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || statusTooMany.MatchString(msg):
		return RateLimit, true
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return Timeout, true
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return Permission, true
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host"):
		return Network, true
	}
	return Generic, false
}

// Retryable reports whether a delivery that failed with err is worth
// another attempt.
func Retryable(err error) bool {
	if err == nil || IsCancelled(err) || IsFatal(err) {
		return false
	}
	switch classify(err) {
	case Network, Timeout, RateLimit, Generic:
		return true
	}
	return false
}

// Describe renders err for logs and the error journal.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	kind := classify(err)
	return fmt.Sprintf("%s: %v", kind, err)
}
