package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"syscall"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	var syntaxErr error
	{
		var v any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"cancelled sentinel", fmt.Errorf("stop: %w", ErrCancelled), Cancelled},
		{"context canceled", context.Canceled, Cancelled},
		{"timeout sentinel", fmt.Errorf("invoke: %w", ErrTimeout), Timeout},
		{"deadline exceeded", context.DeadlineExceeded, Timeout},
		{"os deadline", os.ErrDeadlineExceeded, Timeout},
		{"net op error", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, Network},
		{"conn reset", fmt.Errorf("send: %w", syscall.ECONNRESET), Network},
		{"telegram 429", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, RateLimit},
		{"telegram retry after", &tgbotapi.Error{Code: 400, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}}, RateLimit},
		{"telegram forbidden", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked"}, Permission},
		{"telegram not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}, NotFound},
		{"telegram bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities"}, InvalidInput},
		{"permission", fmt.Errorf("open: %w", fs.ErrPermission), Permission},
		{"not exist", fmt.Errorf("open: %w", fs.ErrNotExist), NotFound},
		{"binary missing", &exec.Error{Name: "claude", Err: exec.ErrNotFound}, NotFound},
		{"invalid input", fmt.Errorf("empty prompt: %w", ErrInvalidInput), InvalidInput},
		{"json syntax", syntaxErr, InvalidInput},
		{"exit error", &ExitError{Code: 1, Stderr: "something broke"}, AgentFailure},
		{"exit error rate limited", &ExitError{Code: 1, Stderr: "API Error: 429 rate limit exceeded"}, RateLimit},
		{"decode error", &DecodeError{Raw: "x", Err: errors.New("bad")}, AgentFailure},
		{"agent sentinel", fmt.Errorf("no result: %w", ErrAgent), AgentFailure},
		{"text fallback", errors.New("upstream said: too many requests"), RateLimit},
		{"status code 429", errors.New("request failed: HTTP 429"), RateLimit},
		{"stderr status 429", &ExitError{Code: 1, Stderr: "API Error: 429 {\"type\":\"error\"}"}, RateLimit},
		{"429 inside a pid", errors.New("process 14293 exited"), Generic},
		{"429 as a byte count", errors.New("wrote 429 bytes to /tmp/out"), Generic},
		{"exit error mentioning 429 lines", &ExitError{Code: 2, Stderr: "parsed 429 lines before failing"}, AgentFailure},
		{"unknown", errors.New("weird"), Generic},
		{"nil", nil, Generic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, msg := Classify(tt.err)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, Message(tt.want), msg)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestTaxonomyExcludesCancelled(t *testing.T) {
	assert.Len(t, Taxonomy(), 8)
	assert.NotContains(t, Taxonomy(), Cancelled)
	for _, k := range Taxonomy() {
		assert.NotEmpty(t, Message(k))
	}
}

func TestFatal(t *testing.T) {
	assert.Nil(t, Fatal(nil))

	base := errors.New("registry corrupt")
	err := Fatal(base)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, Fatal(err), "Fatal should not double wrap")
	assert.True(t, IsFatal(fmt.Errorf("outer: %w", err)))
	assert.False(t, IsFatal(base))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(syscall.ECONNREFUSED))
	assert.True(t, Retryable(&tgbotapi.Error{Code: 429}))
	assert.True(t, Retryable(errors.New("temporary failure")))
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrCancelled))
	assert.False(t, Retryable(&tgbotapi.Error{Code: 403, Message: "Forbidden"}))
	assert.False(t, Retryable(Fatal(errors.New("x"))))
}

func TestClassifySyscallErrors(t *testing.T) {
	_, err := os.Open("/definitely/not/here")
	kind, _ := Classify(err)
	assert.Equal(t, NotFound, kind)

	kind, _ = Classify(&os.PathError{Op: "open", Path: "/root", Err: syscall.EACCES})
	assert.Equal(t, Permission, kind)

	kind, _ = Classify(&os.SyscallError{Syscall: "write", Err: syscall.EPIPE})
	assert.Equal(t, Network, kind)
}
