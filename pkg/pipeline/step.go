// Package pipeline models a build/test/publish workflow as a directed
// acyclic graph of container steps and aggregates their outcomes into a
// single result.
package pipeline

import (
	"io"
	"time"
)

// Status is the lifecycle state of a step.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether a step in this state will not change state again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// RetryPolicy bounds how often a failing step is attempted. Attempts counts
// total attempts, not retries, so Attempts <= 1 means no retry. Backoff is
// the delay before the second attempt and doubles for every attempt after
// that.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Action describes the containerized command a step runs. Stdout and Stderr,
// when set, receive the container output as it streams; the captured copy on
// the outcome is unaffected.
type Action struct {
	Image      string
	Src        string
	Script     []string
	Entrypoint []string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Step is the atomic unit of pipeline work. Needs lists the names of steps
// that must succeed before this one runs. Inputs names artifacts consumed
// from those steps, Outputs names artifacts this step publishes on success.
// A step is immutable once the scheduler starts executing the graph.
type Step struct {
	Name    string
	Needs   []string
	Inputs  []string
	Outputs []string
	Action  Action
	Retry   RetryPolicy
}

// Outcome is the terminal record of one step's execution. It is written by
// the scheduler goroutine coordinating the step and read by the aggregator
// once the step is terminal.
type Outcome struct {
	Step      string
	Status    Status
	ExitCode  int
	Stdout    string
	Stderr    string
	Artifacts []string
	Err       error
	Attempts  int
	StartedAt time.Time
	Duration  time.Duration
	Cancelled bool
}
