// Package scheduler implements the cooperative task driver of spec.md
// §4.9: a Registrar of named, prioritized Delegates with dependency
// ordering, and a TaskService that cycles through them once per tick.
// Built directly from spec.md's contract; no direct original_source file
// was retrieved for the scheduler (the original composes a boost::asio
// executor per endpoint plus a separate global scheduler referenced only
// in spec.md's design notes).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateDelegate is returned when registering a name already taken.
var ErrDuplicateDelegate = errors.New("scheduler: delegate already registered")

// ErrUnknownDependency is returned by Order when a delegate names a
// dependency that was never registered.
var ErrUnknownDependency = errors.New("scheduler: unknown dependency")

// ErrCyclicDependency is returned by Order when no topological order
// exists.
var ErrCyclicDependency = errors.New("scheduler: cyclic dependency")

// Execute is one delegate's unit of progress for a single tick.
type Execute func(ctx context.Context) error

// Delegate is a named, prioritized unit of cooperative work. Higher-level
// components (tracking service, resolution service, endpoint) register one
// at construction, per spec.md §4.9.
type Delegate struct {
	Name      string
	Priority  int
	DependsOn []string
	Execute   Execute
}

// Registrar holds every delegate registered in the node, keyed by name.
type Registrar struct {
	mu        sync.Mutex
	delegates map[string]Delegate
}

// NewRegistrar builds an empty registrar.
func NewRegistrar() *Registrar {
	return &Registrar{delegates: make(map[string]Delegate)}
}

// Register adds d under d.Name. Fails if that name is already taken.
func (r *Registrar) Register(d Delegate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.delegates[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDelegate, d.Name)
	}
	r.delegates[d.Name] = d
	return nil
}

// Deregister removes a delegate, e.g. when its owning component shuts down.
func (r *Registrar) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.delegates, name)
}

// Count returns the number of currently registered delegates.
func (r *Registrar) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delegates)
}

// Order returns every registered delegate in a valid topological order:
// a delegate never precedes anything it DependsOn. Delegates are visited by
// descending Priority, then by Name, and each one's not-yet-placed
// dependencies are placed (in Name order) just before it, so the cycle is
// the same every tick; a dependency can therefore land ahead of an
// unrelated delegate with a higher Priority.
func (r *Registrar) Order() ([]Delegate, error) {
	r.mu.Lock()
	snapshot := make(map[string]Delegate, len(r.delegates))
	for name, d := range r.delegates {
		snapshot[name] = d
	}
	r.mu.Unlock()

	for name, d := range snapshot {
		for _, dep := range d.DependsOn {
			if _, ok := snapshot[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on unregistered %s", ErrUnknownDependency, name, dep)
			}
		}
	}

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := snapshot[names[i]], snapshot[names[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Name < b.Name
	})

	visited := make(map[string]int) // 0 unvisited, 1 in-progress, 2 done
	ordered := make([]Delegate, 0, len(snapshot))

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: involving %s", ErrCyclicDependency, name)
		}
		visited[name] = 1
		d := snapshot[name]
		deps := append([]string(nil), d.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[name] = 2
		ordered = append(ordered, d)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
