package pipeline

import (
	"sync"
	"time"
)

// Aggregator collects step outcomes into a Result. Outcomes arrive in
// completion order from concurrent steps but the result always lists them
// in declaration order so output is reproducible. Record and Finalize are
// safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	order    []string
	outcomes map[string]*Outcome
	started  time.Time
}

func NewAggregator(g *Graph) *Aggregator {
	return &Aggregator{
		order:    g.Names(),
		outcomes: make(map[string]*Outcome, g.Len()),
		started:  time.Now(),
	}
}

// Record stores a terminal outcome. Recording a second outcome for the same
// step returns *DuplicateOutcomeError: that only happens on a scheduler
// defect and must not be silently ignored.
func (a *Aggregator) Record(o *Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.outcomes[o.Step]; ok {
		return &DuplicateOutcomeError{Step: o.Step}
	}
	a.outcomes[o.Step] = o
	return nil
}

// Recorded reports whether an outcome exists for the step.
func (a *Aggregator) Recorded(step string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.outcomes[step]
	return ok
}

// Finalize builds the immutable pipeline result. Overall status is the
// worst outcome present: failed beats skipped beats succeeded.
func (a *Aggregator) Finalize() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &Result{
		Status:   StatusSucceeded,
		Duration: time.Since(a.started),
	}
	for _, name := range a.order {
		o, ok := a.outcomes[name]
		if !ok {
			continue
		}
		r.Outcomes = append(r.Outcomes, o)
		switch o.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
			if r.FirstFailure == nil {
				r.FirstFailure = o
			}
		case StatusSkipped:
			r.Skipped++
		}
		if o.Cancelled {
			r.Cancelled = true
		}
	}
	switch {
	case r.Failed > 0:
		r.Status = StatusFailed
	case r.Skipped > 0:
		r.Status = StatusSkipped
	}
	return r
}

// Result is the consolidated report of one pipeline run, ordered by step
// declaration.
type Result struct {
	Outcomes     []*Outcome
	Status       Status
	Cancelled    bool
	Duration     time.Duration
	Succeeded    int
	Failed       int
	Skipped      int
	FirstFailure *Outcome
}

// Exit codes for the process-level decision. Cancellation uses the
// conventional 128+SIGINT code.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitCancelled = 130
)

// ExitCode maps the overall status to a process exit code.
func (r *Result) ExitCode() int {
	if r.Cancelled {
		return ExitCancelled
	}
	if r.Status == StatusSucceeded {
		return ExitSucceeded
	}
	return ExitFailed
}
