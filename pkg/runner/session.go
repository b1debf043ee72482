// Package runner abstracts the container backend behind a narrow session
// capability. One session is opened per invocation and shared by every
// step; sessions are safe for concurrent Run calls.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/opnlabs/aero/pkg/pipeline"
)

// ErrBackendUnavailable wraps failures to reach the container backend when
// opening a session. It is fatal: no step is dispatched without a session.
var ErrBackendUnavailable = errors.New("runner: container backend unavailable")

// ExecutionError reports a container action that ran and exited nonzero.
type ExecutionError struct {
	Step     string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("runner: step %q exited with code %d", e.Step, e.ExitCode)
}

// ExecResult carries the captured output of one container execution.
// Artifacts lists the keys of artifacts published from the container on
// success.
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Artifacts []string
}

// Session is a live handle to the container backend. Run executes a single
// step action to completion, returning the captured result. A nonzero exit
// returns both the result and an *ExecutionError. Close releases the
// backend connection and must be called on every exit path of the
// invocation.
type Session interface {
	Run(ctx context.Context, step pipeline.Step) (*ExecResult, error)
	Close() error
}
