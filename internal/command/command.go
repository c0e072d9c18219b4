// Package command runs external diagnostic tools and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is a fully constructed invocation of an external tool.
type Command struct {
	Path string
	Args []string
	// Timeout is a hard bound on the process lifetime; zero disables it.
	Timeout time.Duration
	// MergeStderr sends standard error into the standard output buffer,
	// the equivalent of a shell "2>/dev/stdout" redirection.
	MergeStderr bool
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Outcome holds whatever the process produced.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// SpawnError reports a process that could not be launched at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports a process killed after exceeding its hard timeout.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Path, e.Timeout)
}

// IsSpawnFailure reports whether err is, or wraps, a SpawnError.
func IsSpawnFailure(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Runner executes commands. Executor is the process-backed implementation;
// tests substitute canned output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Outcome, error) {
	return f(ctx, cmd)
}

const pipeWaitDelay = 2 * time.Second

// Executor launches real processes.
type Executor struct {
	now func() time.Time
}

func NewExecutor() *Executor {
	return &Executor{now: time.Now}
}

// Run starts cmd and waits for it. A non-zero exit status is reported in
// the outcome, not as an error: several tools exit non-zero on packet
// loss while still printing parseable statistics.
func (e *Executor) Run(ctx context.Context, cmd Command) (Outcome, error) {
	if cmd.Path == "" {
		return Outcome{ExitCode: -1}, &SpawnError{Path: cmd.Path, Err: errors.New("empty executable path")}
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(execCtx, cmd.Path, cmd.Args...)
	// Grandchildren holding the pipes open must not stall Wait after a kill.
	proc.WaitDelay = pipeWaitDelay
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	if cmd.MergeStderr {
		proc.Stderr = &stdout
	} else {
		proc.Stderr = &stderr
	}

	started := e.now()
	if err := proc.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{ExitCode: -1}, ctxErr
		}
		return Outcome{ExitCode: -1}, &SpawnError{Path: cmd.Path, Err: err}
	}
	waitErr := proc.Wait()

	outcome := Outcome{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: e.now().Sub(started),
	}
	if proc.ProcessState != nil {
		outcome.ExitCode = proc.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return outcome, &TimeoutError{Path: cmd.Path, Timeout: cmd.Timeout}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return outcome, fmt.Errorf("wait %s: %w", cmd.Path, waitErr)
	}
	return outcome, nil
}
