package scheduler

import "time"

// EventType identifies a step status change.
type EventType int

const (
	EventStepStarted EventType = iota
	EventStepSucceeded
	EventStepFailed
	EventStepSkipped
	EventStepRetrying
)

func (t EventType) String() string {
	switch t {
	case EventStepStarted:
		return "started"
	case EventStepSucceeded:
		return "succeeded"
	case EventStepFailed:
		return "failed"
	case EventStepSkipped:
		return "skipped"
	case EventStepRetrying:
		return "retrying"
	}
	return "unknown"
}

// Event is a status change emitted by the scheduler. The scheduler never
// formats or prints these; logging and terminal rendering subscribe through
// a Listener.
type Event struct {
	Type     EventType
	Step     string
	Attempt  int
	Err      error
	Duration time.Duration
}

// Listener receives scheduler events. Retry events are emitted from step
// goroutines, so implementations must be safe for concurrent calls.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }
