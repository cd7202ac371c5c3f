package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// CommandError carries the stderr of a failed command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner is the os/exec CommandRunner.
type ExecRunner struct {
	// MaxOutputSize truncates stdout (default: 1MB)
	MaxOutputSize int
}

// Run executes name with args. Output is captured, never streamed.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := stdout.String()
	limit := r.MaxOutputSize
	if limit <= 0 {
		limit = 1 << 20
	}
	if len(out) > limit {
		out = out[:limit] + "\n... [output truncated]"
	}

	if err != nil {
		cerr := &CommandError{
			Command: name,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
		if cmd.ProcessState != nil {
			cerr.ExitCode = cmd.ProcessState.ExitCode()
		}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			cerr.Err = fmt.Errorf("command timed out: %w", ctx.Err())
		case errors.Is(ctx.Err(), context.Canceled):
			cerr.Err = fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		return out, cerr
	}

	return out, nil
}
