package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/arbor/pkg/graph"
)

// Factory builds a graph on first use.
type Factory func() (*graph.Graph, error)

// Registry manages the named graphs available to hosts and to reference states
// declared with graph.MachineBuilder.ReferenceByName.
type Registry struct {
	mu        sync.RWMutex
	graphs    map[string]*graph.Graph
	factories map[string]Factory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		graphs:    make(map[string]*graph.Graph),
		factories: make(map[string]Factory),
	}
}

// Register adds a compiled graph under name.
// If a graph with the same name exists, it is overwritten.
func (r *Registry) Register(name string, g *graph.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[name] = g
	delete(r.factories, name)
}

// RegisterFactory adds a lazily built graph under name. The factory runs once, on the
// first Get; a failed build is reported on every Get until the name is registered again.
func (r *Registry) RegisterFactory(name string, fn Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.graphs, name)
	r.factories[name] = fn
}

// Get looks up a graph by name, building it if it was registered as a factory.
func (r *Registry) Get(name string) (*graph.Graph, error) {
	r.mu.RLock()
	g, ok := r.graphs[name]
	fn, lazy := r.factories[name]
	r.mu.RUnlock()

	if ok {
		return g, nil
	}
	if !lazy {
		return nil, fmt.Errorf("graph not found: %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.graphs[name]; ok {
		return g, nil
	}
	g, err := fn()
	if err != nil {
		return nil, fmt.Errorf("failed to build graph %s: %w", name, err)
	}
	r.graphs[name] = g
	delete(r.factories, name)
	return g, nil
}

// Resolve adapts Get to arbor.WithReferenceResolver.
func (r *Registry) Resolve(name string) (*graph.Graph, bool) {
	g, err := r.Get(name)
	return g, err == nil
}

// Names lists every registered name in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.graphs)+len(r.factories))
	for n := range r.graphs {
		names = append(names, n)
	}
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
