// Package scheduler drives a pipeline graph to completion, running ready
// steps concurrently up to a bounded budget while honoring dependency
// order, failure policy, retries, and cancellation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opnlabs/aero/pkg/pipeline"
	"github.com/opnlabs/aero/pkg/runner"
)

// FailurePolicy governs whether independent work continues after a step
// fails.
type FailurePolicy int

const (
	// FailFast stops launching new steps on the first failure. Steps
	// already running finish; everything not yet started ends skipped.
	FailFast FailurePolicy = iota

	// ContinueOnError keeps launching steps whose dependencies all
	// succeeded. Dependents of a failed step end skipped.
	ContinueOnError
)

func (p FailurePolicy) String() string {
	if p == ContinueOnError {
		return "continue"
	}
	return "fail-fast"
}

// ParsePolicy resolves a policy name from configuration.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "fail-fast", "":
		return FailFast, nil
	case "continue":
		return ContinueOnError, nil
	}
	return FailFast, fmt.Errorf("scheduler: unknown failure policy %q", s)
}

// Options configures one pipeline run.
type Options struct {
	Concurrency int
	Policy      FailurePolicy
	Listener    Listener
}

// Scheduler executes pipeline graphs against a container session.
type Scheduler struct {
	session runner.Session
	opts    Options
}

func New(session runner.Session, opts Options) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{session: session, opts: opts}
}

func (s *Scheduler) emit(e Event) {
	if s.opts.Listener != nil {
		s.opts.Listener.HandleEvent(e)
	}
}

// Run drives every step in the graph to a terminal outcome and returns the
// aggregated result. The decision loop is single-threaded: frontier
// recomputation, dispatch, and outcome recording all happen here, and only
// the step executions themselves run concurrently. A non-nil error is
// returned only for internal invariant violations, never for step
// failures, which are reported through the result.
func (s *Scheduler) Run(ctx context.Context, g *pipeline.Graph) (*pipeline.Result, error) {
	agg := pipeline.NewAggregator(g)
	indegree := g.Indegrees()
	succeeded := make(map[string]bool, g.Len())

	var queue []string
	for _, name := range g.Names() {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	r := &run{
		sched:       s,
		sem:         semaphore.NewWeighted(int64(s.opts.Concurrency)),
		completions: make(chan *pipeline.Outcome, g.Len()),
	}

	running := 0
	halted := false
	done := ctx.Done()

	// release decrements dependents and grows the frontier once a step is
	// terminal, successful or not. Dependents of unsuccessful steps are
	// skipped at dispatch time so the cascade reaches the whole subtree.
	release := func(name string) {
		for _, dep := range g.Dependents(name) {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	record := func(o *pipeline.Outcome) error {
		if err := agg.Record(o); err != nil {
			return err
		}
		switch o.Status {
		case pipeline.StatusSucceeded:
			succeeded[o.Step] = true
			s.emit(Event{Type: EventStepSucceeded, Step: o.Step, Attempt: o.Attempts, Duration: o.Duration})
		case pipeline.StatusFailed:
			if s.opts.Policy == FailFast {
				halted = true
			}
			s.emit(Event{Type: EventStepFailed, Step: o.Step, Attempt: o.Attempts, Err: o.Err, Duration: o.Duration})
		case pipeline.StatusSkipped:
			s.emit(Event{Type: EventStepSkipped, Step: o.Step, Err: o.Err})
		}
		release(o.Step)
		return nil
	}

	for {
		// Dispatch from the frontier, in declaration order, while the
		// budget allows and no halt was requested.
		for !halted && len(queue) > 0 {
			name := queue[0]
			step := g.Step(name)

			if dep := firstUnmetDependency(step, succeeded); dep != "" {
				queue = queue[1:]
				err := record(&pipeline.Outcome{
					Step:   name,
					Status: pipeline.StatusSkipped,
					Err:    fmt.Errorf("dependency %q did not succeed", dep),
				})
				if err != nil {
					return nil, err
				}
				continue
			}

			if !r.sem.TryAcquire(1) {
				break
			}
			queue = queue[1:]
			running++
			s.emit(Event{Type: EventStepStarted, Step: name, Attempt: 1})
			go func(st pipeline.Step) {
				out, held := r.execute(ctx, st)
				if held {
					r.sem.Release(1)
				}
				r.completions <- out
			}(*step)
		}

		if running == 0 && (halted || len(queue) == 0) {
			break
		}

		select {
		case out := <-r.completions:
			running--
			if err := record(out); err != nil {
				return nil, err
			}
		case <-done:
			halted = true
			done = nil
		}
	}

	// Whatever never started ends skipped; no step is silently dropped.
	for _, name := range g.Names() {
		if agg.Recorded(name) {
			continue
		}
		reason := fmt.Errorf("pipeline halted before step started")
		if ctx.Err() != nil {
			reason = fmt.Errorf("pipeline cancelled before step started")
		}
		err := record(&pipeline.Outcome{Step: name, Status: pipeline.StatusSkipped, Err: reason})
		if err != nil {
			return nil, err
		}
	}

	result := agg.Finalize()
	if ctx.Err() != nil {
		result.Cancelled = true
	}
	return result, nil
}

// firstUnmetDependency returns the first declared dependency that did not
// succeed, or "" if all are satisfied. Dependencies are guaranteed terminal
// once a step reaches the frontier.
func firstUnmetDependency(step *pipeline.Step, succeeded map[string]bool) string {
	for _, dep := range step.Needs {
		if !succeeded[dep] {
			return dep
		}
	}
	return ""
}

// run holds the per-invocation scheduling resources shared with step
// goroutines.
type run struct {
	sched       *Scheduler
	sem         *semaphore.Weighted
	completions chan *pipeline.Outcome
}

// execute performs all attempts of one step. The returned bool reports
// whether the goroutine still holds its concurrency slot; backoff waits
// release the slot so retries queue behind ready work.
func (r *run) execute(ctx context.Context, step pipeline.Step) (*pipeline.Outcome, bool) {
	attempts := step.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := step.Retry.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	out := &pipeline.Outcome{Step: step.Name, StartedAt: time.Now()}
	finish := func(status pipeline.Status) {
		out.Status = status
		out.Duration = time.Since(out.StartedAt)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			r.sched.emit(Event{Type: EventStepRetrying, Step: step.Name, Attempt: attempt, Err: err})
			r.sem.Release(1)
			if !sleep(ctx, backoff) {
				out.Err = ctx.Err()
				out.Cancelled = true
				finish(pipeline.StatusFailed)
				return out, false
			}
			backoff *= 2
			if r.sem.Acquire(ctx, 1) != nil {
				out.Err = ctx.Err()
				out.Cancelled = true
				finish(pipeline.StatusFailed)
				return out, false
			}
		}
		out.Attempts = attempt

		var res *runner.ExecResult
		res, err = r.sched.session.Run(ctx, step)
		if res != nil {
			out.ExitCode = res.ExitCode
			out.Stdout = res.Stdout
			out.Stderr = res.Stderr
			out.Artifacts = res.Artifacts
		}
		if err == nil {
			finish(pipeline.StatusSucceeded)
			return out, true
		}
		if ctx.Err() != nil {
			out.Err = err
			out.Cancelled = true
			finish(pipeline.StatusFailed)
			return out, true
		}
	}

	out.Err = err
	finish(pipeline.StatusFailed)
	return out, true
}

// sleep waits for the backoff delay, honoring cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
