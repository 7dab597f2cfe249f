package agent

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBinary   = "claude"
	DefaultMaxTurns = 50
	DefaultTimeout  = 900 * time.Second
	DefaultGrace    = 5 * time.Second
)

// Options describes how the agent CLI is invoked.
type Options struct {
	Binary       string
	WorkDir      string
	Model        string
	MaxTurns     int
	AllowedTools []string
	ExtraArgs    []string
	Env          map[string]string

	// Timeout bounds one invocation's wall clock. Grace is the wait between
	// SIGTERM and SIGKILL.
	Timeout time.Duration
	Grace   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	return o
}

// BuildArgs returns the agent's argument vector. The result depends only on
// its inputs. An empty sessionID starts a new conversation.
func BuildArgs(opts Options, prompt, sessionID string) []string {
	opts = opts.withDefaults()

	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))

	tools := make([]string, 0, len(opts.AllowedTools))
	for _, t := range opts.AllowedTools {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, t)
		}
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if sessionID != "" {
		args = append(args, "--continue", "--resume", sessionID)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, "--", prompt)
}

// CommandLine renders argv for display. Long prompts are cut.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, binary)
	for _, a := range args {
		if len(a) > 60 {
			a = a[:57] + "..."
		}
		if strings.ContainsAny(a, " \t\n\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
