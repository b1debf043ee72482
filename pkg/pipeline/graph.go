package pipeline

import "fmt"

// Graph is a validated DAG of steps. It is immutable after Build and safe
// for concurrent reads.
type Graph struct {
	steps      map[string]*Step
	order      []string
	topo       []string
	dependents map[string][]string
}

// Build validates the step set and returns a graph ready for scheduling.
// It fails with *CycleError if the dependency edges contain a cycle, with
// *UnresolvedDependencyError if a step needs a step that does not exist,
// and with a descriptive error if step names collide or a step declares an
// input that none of its dependencies output. Validation runs entirely at
// construction so execution never starts on a malformed pipeline.
func Build(steps []Step) (*Graph, error) {
	g := &Graph{
		steps:      make(map[string]*Step, len(steps)),
		order:      make([]string, 0, len(steps)),
		dependents: make(map[string][]string, len(steps)),
	}

	for i := range steps {
		s := steps[i]
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline: step %d has no name", i)
		}
		if _, ok := g.steps[s.Name]; ok {
			return nil, fmt.Errorf("pipeline: duplicate step name %q", s.Name)
		}
		g.steps[s.Name] = &s
		g.order = append(g.order, s.Name)
	}

	for _, name := range g.order {
		s := g.steps[name]
		for _, dep := range s.Needs {
			if _, ok := g.steps[dep]; !ok {
				return nil, &UnresolvedDependencyError{Step: name, Dependency: dep}
			}
			if dep == name {
				return nil, &CycleError{Steps: []string{name, name}}
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
		if err := g.checkInputs(s); err != nil {
			return nil, err
		}
	}

	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkInputs verifies that every declared input is produced by one of the
// step's direct dependencies.
func (g *Graph) checkInputs(s *Step) error {
	if len(s.Inputs) == 0 {
		return nil
	}
	produced := make(map[string]bool)
	for _, dep := range s.Needs {
		for _, out := range g.steps[dep].Outputs {
			produced[out] = true
		}
	}
	for _, in := range s.Inputs {
		if !produced[in] {
			return fmt.Errorf("pipeline: step %q consumes input %q that no dependency outputs", s.Name, in)
		}
	}
	return nil
}

// sort computes a topological order with a three-color depth-first
// traversal. Hitting a gray node means the traversal re-entered its own
// stack, which is a cycle; the error names the steps on it.
func (g *Graph) sort() error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.steps))
	g.topo = make([]string, 0, len(g.steps))
	var stack []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range g.steps[name].Needs {
			switch color[dep] {
			case gray:
				cycle := make([]string, 0, len(stack))
				for i, n := range stack {
					if n == dep {
						cycle = append(cycle, stack[i:]...)
						break
					}
				}
				cycle = append(cycle, dep)
				return &CycleError{Steps: cycle}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		g.topo = append(g.topo, name)
		return nil
	}

	for _, name := range g.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step returns the step with the given name, or nil.
func (g *Graph) Step(name string) *Step {
	return g.steps[name]
}

// Names returns step names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// TopologicalOrder returns a valid execution order, dependencies first.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.topo))
	copy(out, g.topo)
	return out
}

// Dependents returns the names of steps that need the given step.
func (g *Graph) Dependents(name string) []string {
	out := make([]string, len(g.dependents[name]))
	copy(out, g.dependents[name])
	return out
}

// Indegrees returns a fresh dependency count per step. The scheduler
// maintains the frontier by decrementing these as steps reach a terminal
// state.
func (g *Graph) Indegrees() map[string]int {
	deg := make(map[string]int, len(g.steps))
	for _, name := range g.order {
		deg[name] = len(g.steps[name].Needs)
	}
	return deg
}

// Len returns the number of steps.
func (g *Graph) Len() int {
	return len(g.order)
}
