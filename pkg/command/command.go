// Package command runs external processes (python, pip, pytest) behind an
// interface so that callers can be exercised without real interpreters.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ErrNonZeroExit is returned when a process ran but exited with a non-zero code.
var ErrNonZeroExit = errors.New("process exited with non-zero status")

// stderrTailLimit bounds how much stderr is copied into errors.
const stderrTailLimit = 2048

// Cmd describes one process invocation.
type Cmd struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the parent environment.
	Env []string
}

// String renders the command line for logs.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExitError carries the exit code and a stderr tail of a failed process.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	}

	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.Code, e.Stderr)
}

// Unwrap lets errors.Is match ErrNonZeroExit.
func (e *ExitError) Unwrap() error { return ErrNonZeroExit }

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the process and waits for it. A non-zero exit yields both a
// populated Result and an *ExitError.
func (ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Dir = cmd.Dir

	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer

	proc.Stdout = &stdout
	proc.Stderr = &stderr

	runErr := proc.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
		res.ExitCode = exitErr.ExitCode()

		return res, &ExitError{Cmd: cmd.String(), Code: res.ExitCode, Stderr: tail(stderr.String())}
	}

	return res, fmt.Errorf("run %s: %w", cmd.Name, runErr)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailLimit {
		return s
	}

	return "..." + s[len(s)-stderrTailLimit:]
}

// Recorder is a scripted Runner that records every invocation.
type Recorder struct {
	mu    sync.Mutex
	calls []Cmd

	// Handle decides the outcome of each call. Nil means success with no output.
	Handle func(cmd Cmd) (Result, error)
}

// Run records cmd and delegates to Handle.
func (r *Recorder) Run(_ context.Context, cmd Cmd) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if r.Handle == nil {
		return Result{}, nil
	}

	return r.Handle(cmd)
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Cmd, len(r.calls))
	copy(out, r.calls)

	return out
}
