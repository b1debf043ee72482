package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opnlabs/aero/pkg/pipeline"
	"github.com/opnlabs/aero/pkg/runner"
)

// fakeSession simulates container executions with configurable delays and
// failures, and tracks concurrency and timing for assertions.
type fakeSession struct {
	mu         sync.Mutex
	delays     map[string]time.Duration
	failures   map[string]int // attempts that fail; -1 means every attempt
	attempts   map[string]int
	started    map[string]time.Time
	finished   map[string]time.Time
	running    int
	maxRunning int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		delays:   make(map[string]time.Duration),
		failures: make(map[string]int),
		attempts: make(map[string]int),
		started:  make(map[string]time.Time),
		finished: make(map[string]time.Time),
	}
}

func (f *fakeSession) Run(ctx context.Context, step pipeline.Step) (*runner.ExecResult, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.attempts[step.Name]++
	attempt := f.attempts[step.Name]
	if _, ok := f.started[step.Name]; !ok {
		f.started[step.Name] = time.Now()
	}
	delay := f.delays[step.Name]
	failing := f.failures[step.Name]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.finished[step.Name] = time.Now()
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &runner.ExecResult{ExitCode: -1}, ctx.Err()
		}
	}

	if failing == -1 || attempt <= failing {
		return &runner.ExecResult{ExitCode: 1}, &runner.ExecutionError{Step: step.Name, ExitCode: 1}
	}
	return &runner.ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeSession) Close() error { return nil }

func mustGraph(t *testing.T, steps []pipeline.Step) *pipeline.Graph {
	t.Helper()
	g, err := pipeline.Build(steps)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func outcomeByStep(r *pipeline.Result, name string) *pipeline.Outcome {
	for _, o := range r.Outcomes {
		if o.Step == name {
			return o
		}
	}
	return nil
}

func TestRunDiamond(t *testing.T) {
	session := newFakeSession()
	session.delays["a"] = 30 * time.Millisecond
	session.delays["b"] = 30 * time.Millisecond

	var mu sync.Mutex
	var events []Event
	sched := New(session, Options{
		Concurrency: 2,
		Listener: ListenerFunc(func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}),
	})

	g := mustGraph(t, []pipeline.Step{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Needs: []string{"a", "b"}},
	})

	result, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != pipeline.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
	for i, want := range []string{"a", "b", "c"} {
		if result.Outcomes[i].Step != want {
			t.Errorf("outcome %d should be %s, got %s", i, want, result.Outcomes[i].Step)
		}
	}

	// a and b overlap, c starts only after both finished.
	if session.started["b"].After(session.finished["a"]) {
		t.Error("a and b should have run concurrently")
	}
	if session.started["c"].Before(session.finished["a"]) || session.started["c"].Before(session.finished["b"]) {
		t.Error("c started before its dependencies finished")
	}

	starts, successes := 0, 0
	for _, e := range events {
		switch e.Type {
		case EventStepStarted:
			starts++
		case EventStepSucceeded:
			successes++
		}
	}
	if starts != 3 || successes != 3 {
		t.Errorf("expected 3 started and 3 succeeded events, got %d/%d", starts, successes)
	}
}

func TestConcurrencyBound(t *testing.T) {
	session := newFakeSession()
	steps := make([]pipeline.Step, 6)
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		steps[i] = pipeline.Step{Name: name}
		session.delays[name] = 30 * time.Millisecond
	}

	sched := New(session, Options{Concurrency: 2})
	result, err := sched.Run(context.Background(), mustGraph(t, steps))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != pipeline.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
	if session.maxRunning > 2 {
		t.Errorf("concurrency limit exceeded: %d steps ran at once", session.maxRunning)
	}
}

func TestFailFast(t *testing.T) {
	session := newFakeSession()
	session.failures["a"] = -1
	session.delays["a"] = 10 * time.Millisecond
	session.delays["b"] = 100 * time.Millisecond

	sched := New(session, Options{Concurrency: 2, Policy: FailFast})
	g := mustGraph(t, []pipeline.Step{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Needs: []string{"a", "b"}},
		{Name: "d"},
	})

	result, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	// b was already running when a failed and must be allowed to finish.
	if got := outcomeByStep(result, "b").Status; got != pipeline.StatusSucceeded {
		t.Errorf("b should have finished, got %s", got)
	}
	if got := outcomeByStep(result, "c").Status; got != pipeline.StatusSkipped {
		t.Errorf("c should be skipped, got %s", got)
	}
	// d never started: dispatch stops on the first failure.
	if got := outcomeByStep(result, "d").Status; got != pipeline.StatusSkipped {
		t.Errorf("d should be skipped, got %s", got)
	}
	if session.attempts["d"] != 0 {
		t.Error("d should never have been dispatched")
	}
}

func TestContinueOnError(t *testing.T) {
	session := newFakeSession()
	session.failures["a"] = -1

	sched := New(session, Options{Concurrency: 1, Policy: ContinueOnError})
	g := mustGraph(t, []pipeline.Step{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Needs: []string{"a"}},
		{Name: "d", Needs: []string{"b"}},
	})

	result, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if got := outcomeByStep(result, "b").Status; got != pipeline.StatusSucceeded {
		t.Errorf("independent step b should run, got %s", got)
	}
	if got := outcomeByStep(result, "c").Status; got != pipeline.StatusSkipped {
		t.Errorf("dependent of failed step should be skipped, got %s", got)
	}
	if got := outcomeByStep(result, "d").Status; got != pipeline.StatusSucceeded {
		t.Errorf("step with succeeded dependency should run, got %s", got)
	}
}

func TestRetrySucceedsAfterBackoff(t *testing.T) {
	session := newFakeSession()
	session.failures["a"] = 2

	sched := New(session, Options{Concurrency: 1})
	g := mustGraph(t, []pipeline.Step{
		{Name: "a", Retry: pipeline.RetryPolicy{Attempts: 3, Backoff: 20 * time.Millisecond}},
	})

	start := time.Now()
	result, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}

	out := outcomeByStep(result, "a")
	if out.Status != pipeline.StatusSucceeded {
		t.Fatalf("expected success on third attempt, got %s", out.Status)
	}
	if out.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.Attempts)
	}
	// Backoff doubles: 20ms before attempt 2, 40ms before attempt 3.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("attempts ran earlier than the configured backoff: %v", elapsed)
	}
}

func TestRetryExhausted(t *testing.T) {
	session := newFakeSession()
	session.failures["a"] = -1

	sched := New(session, Options{Concurrency: 1})
	g := mustGraph(t, []pipeline.Step{
		{Name: "a", Retry: pipeline.RetryPolicy{Attempts: 2, Backoff: 5 * time.Millisecond}},
	})

	result, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}

	out := outcomeByStep(result, "a")
	if out.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed after exhausting attempts, got %s", out.Status)
	}
	if out.Attempts != 2 || session.attempts["a"] != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", session.attempts["a"])
	}
}

func TestCancellation(t *testing.T) {
	session := newFakeSession()
	session.delays["a"] = 500 * time.Millisecond
	session.delays["b"] = 500 * time.Millisecond

	sched := New(session, Options{Concurrency: 2})
	g := mustGraph(t, []pipeline.Step{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Needs: []string{"a", "b"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := sched.Run(ctx, g)
	if err != nil {
		t.Fatal(err)
	}

	if time.Since(start) > 400*time.Millisecond {
		t.Error("cancellation did not interrupt running steps")
	}
	if !result.Cancelled {
		t.Error("result should be marked cancelled")
	}
	if result.ExitCode() != pipeline.ExitCancelled {
		t.Errorf("expected exit code %d, got %d", pipeline.ExitCancelled, result.ExitCode())
	}
	for _, name := range []string{"a", "b"} {
		out := outcomeByStep(result, name)
		if out.Status != pipeline.StatusFailed || !out.Cancelled {
			t.Errorf("in-flight step %s should be failed(cancelled), got %s", name, out.Status)
		}
	}
	if got := outcomeByStep(result, "c").Status; got != pipeline.StatusSkipped {
		t.Errorf("unstarted step should be skipped, got %s", got)
	}
	if len(result.Outcomes) != g.Len() {
		t.Errorf("every step needs a terminal outcome, got %d of %d", len(result.Outcomes), g.Len())
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != FailFast {
		t.Error("empty policy should default to fail-fast")
	}
	if p, err := ParsePolicy("continue"); err != nil || p != ContinueOnError {
		t.Error("continue should parse")
	}
	if _, err := ParsePolicy("retry-everything"); err == nil {
		t.Error("unknown policy should fail")
	}
}
