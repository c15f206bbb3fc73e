// Package task holds the benchmark task registry and the builtin tasks.
package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pagegym/pagegym/api/schemas"
)

// Registry maps task identifiers to seeded factories. Registration normally
// happens at startup; Resolve is safe for concurrent use afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]schemas.TaskFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]schemas.TaskFactory)}
}

// Register adds a factory under the given id. Registering the same id twice
// fails with ErrDuplicateTask.
func (r *Registry) Register(id string, factory schemas.TaskFactory) error {
	if id == "" {
		return fmt.Errorf("%w: empty task id", schemas.ErrDuplicateTask)
	}
	if factory == nil {
		return fmt.Errorf("task %q: nil factory", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("%w: %q", schemas.ErrDuplicateTask, id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister registers and panics on failure. For init-time wiring of
// builtin tasks only.
func (r *Registry) MustRegister(id string, factory schemas.TaskFactory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve instantiates a fresh task for one episode. Unknown ids fail with
// ErrUnknownTask.
func (r *Registry) Resolve(id string, seed int64) (schemas.TaskSpec, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", schemas.ErrUnknownTask, id)
	}

	spec, err := factory(seed)
	if err != nil {
		return nil, fmt.Errorf("task %q: factory failed: %w", id, err)
	}
	if spec.ID() != id {
		return nil, fmt.Errorf("task %q: factory produced mismatched id %q", id, spec.ID())
	}
	return spec, nil
}

// IDs returns the registered task identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewDefaultRegistry returns a registry preloaded with the builtin tasks.
func NewDefaultRegistry(baseURL string) *Registry {
	r := NewRegistry()
	r.MustRegister(OpenEndedTaskID, NewOpenEndedFactory(baseURL))
	r.MustRegister(ClickButtonTaskID, NewClickButtonFactory())
	r.MustRegister(FillFormTaskID, NewFillFormFactory())
	return r
}
