package agent

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const stderrTailSize = 8 * 1024

// subprocess is one spawned agent in its own process group. Stop escalates
// from SIGTERM to SIGKILL and is safe to call any number of times.
type subprocess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	tail   *tailBuffer
	grace  time.Duration
	pgid   int

	done     chan struct{}
	stopOnce sync.Once
}

func startSubprocess(opts Options, args []string) (*subprocess, error) {
	cmd := exec.Command(opts.Binary, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	p := &subprocess{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		tail:   newTailBuffer(stderrTailSize),
		grace:  opts.Grace,
		pgid:   cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		p.pgid = pgid
	}
	return p, nil
}

func (p *subprocess) PID() int { return p.cmd.Process.Pid }

// drainStderr copies stderr into the tail buffer until the pipe closes.
func (p *subprocess) drainStderr() error {
	_, err := io.Copy(p.tail, p.stderr)
	return err
}

// wait reaps the process. Callers must have finished reading both pipes.
func (p *subprocess) wait() error {
	err := p.cmd.Wait()
	close(p.done)
	return err
}

func (p *subprocess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop starts termination escalation in the background and returns.
func (p *subprocess) Stop() {
	p.stopOnce.Do(func() {
		go p.escalate()
	})
}

func (p *subprocess) escalate() {
	if p.exited() {
		return
	}
	_ = syscall.Kill(-p.pgid, syscall.SIGTERM)

	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		_ = syscall.Kill(-p.pgid, syscall.SIGKILL)
	}
}

// kill is the last resort when the output pipe broke and nothing else will
// make the child exit.
func (p *subprocess) kill() {
	_ = syscall.Kill(-p.pgid, syscall.SIGKILL)
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	if len(t.buf)+len(p) > t.max {
		t.buf = t.buf[len(t.buf)+len(p)-t.max:]
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
