// Package registry maps names to pipeline builders. Builders register at
// process start; the dispatch layer looks them up to produce the graph for
// an invocation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opnlabs/aero/pkg/pipeline"
)

// Builder produces a pipeline graph for one invocation.
type Builder interface {
	Build(ctx context.Context) (*pipeline.Graph, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context) (*pipeline.Graph, error)

func (f BuilderFunc) Build(ctx context.Context) (*pipeline.Graph, error) {
	return f(ctx)
}

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

// Register adds a named builder. Registering the same name twice is a
// wiring defect and fails.
func Register(name string, b Builder) error {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := builders[name]; ok {
		return fmt.Errorf("registry: builder %q already registered", name)
	}
	builders[name] = b
	return nil
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[name]
	return b, ok
}

// Names lists registered builders in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
