package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// Factory constructs a fresh Worker.
type Factory func() Worker

// Catalog maps worker names to factories.
type Catalog map[string]Factory

// Names returns the catalog entries in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spec selects one catalog entry and its config.
type Spec struct {
	Name   string
	Config map[string]any
}

// Registry is the ordered, immutable set of workers for one process.
type Registry struct {
	workers []Worker
	byName  map[string]Worker
	configs map[string]map[string]any
}

// NewRegistry registers workers in the given order. Names must be unique and
// non-empty.
func NewRegistry(workers ...Worker) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Worker, len(workers)),
		configs: make(map[string]map[string]any),
	}
	for _, w := range workers {
		if err := r.add(w, nil); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Build instantiates the selected catalog entries.
func Build(catalog Catalog, specs []Spec) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Worker, len(specs)),
		configs: make(map[string]map[string]any, len(specs)),
	}
	for _, spec := range specs {
		factory, ok := catalog[spec.Name]
		if !ok {
			return nil, fmt.Errorf("unknown worker %q (available: %s)", spec.Name, strings.Join(catalog.Names(), ", "))
		}
		w := factory()
		if w == nil {
			return nil, fmt.Errorf("worker factory %q returned nil", spec.Name)
		}
		if w.Name() != spec.Name {
			return nil, fmt.Errorf("worker factory %q produced worker named %q", spec.Name, w.Name())
		}
		if err := r.add(w, spec.Config); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(w Worker, cfg map[string]any) error {
	if w == nil {
		return fmt.Errorf("worker is nil")
	}
	name := w.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("worker name is empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("worker name %q has surrounding whitespace", name)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("worker %q already registered", name)
	}
	r.workers = append(r.workers, w)
	r.byName[name] = w
	if cfg == nil {
		cfg = map[string]any{}
	}
	r.configs[name] = cfg
	return nil
}

// Get retrieves a worker by name.
func (r *Registry) Get(name string) (Worker, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// All returns the workers in registration order.
func (r *Registry) All() []Worker {
	out := make([]Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.workers)
}

// Config returns the raw config for a worker.
func (r *Registry) Config(name string) map[string]any {
	return r.configs[name]
}
