package pipeline

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found during graph construction.
// Steps holds the names on the cycle in traversal order.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline: dependency cycle: %s", strings.Join(e.Steps, " -> "))
}

// UnresolvedDependencyError reports a step that needs a step not present in
// the graph.
type UnresolvedDependencyError struct {
	Step       string
	Dependency string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("pipeline: step %q needs unknown step %q", e.Step, e.Dependency)
}

// DuplicateOutcomeError reports a second outcome recorded for the same step.
// This is a scheduler defect, not a runtime condition, and is never
// swallowed.
type DuplicateOutcomeError struct {
	Step string
}

func (e *DuplicateOutcomeError) Error() string {
	return fmt.Sprintf("pipeline: outcome for step %q recorded twice", e.Step)
}
