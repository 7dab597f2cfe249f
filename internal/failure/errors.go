// Package failure classifies errors into a fixed taxonomy with user-facing
// messages, and provides the containment wrapper used around every entry
// point that must not bring the service down.
package failure

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks work stopped on purpose by a user, an operator, or
	// shutdown. It is never classified as a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout marks an invocation that exceeded its wall-clock limit.
	ErrTimeout = errors.New("timed out")

	// ErrInvalidInput marks a request the agent cannot be asked to run.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAgent marks an agent run that finished without a usable result.
	ErrAgent = errors.New("agent failure")
)

// ExitError reports a non-zero exit of the agent process.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("agent exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("agent exited with code %d", e.Code)
}

// DecodeError reports output the agent produced that could not be used.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode agent output: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FatalError wraps an infrastructure failure that must stop the scheduler
// so the supervisor can restart the process.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as an infrastructure failure. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsCancelled reports whether err represents deliberate cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
