package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for the pipeline package.
var (
	// ErrStageAlreadyRegistered is returned when registering a duplicate stage.
	ErrStageAlreadyRegistered = errors.New("stage already registered")

	// ErrStageNotFound is returned when a stage dependency is not found.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDependencyCycle is returned when stage dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// Registry manages available stages and their dependencies.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
	order  []string // registration order
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
		order:  make([]string, 0),
	}
}

// Register adds a stage to the registry.
// Returns an error if a stage with the same name is already registered.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("%w: %s", ErrStageAlreadyRegistered, name)
	}

	r.stages[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stages[name]
	return s, ok
}

// Names returns all stage names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Resolve returns the requested stages plus their transitive dependencies,
// sorted so every stage runs after the stages it depends on. When multiple
// stages are ready at once, registration order is preserved. Passing no
// names resolves every registered stage.
func (r *Registry) Resolve(names ...string) ([]Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool)
	if len(names) == 0 {
		for _, name := range r.order {
			wanted[name] = true
		}
	} else {
		// Expand transitive dependencies.
		var visit func(name string) error
		visit = func(name string) error {
			if wanted[name] {
				return nil
			}
			s, ok := r.stages[name]
			if !ok {
				return fmt.Errorf("%w: %s", ErrStageNotFound, name)
			}
			wanted[name] = true
			for _, dep := range s.Dependencies() {
				if err := visit(dep); err != nil {
					return err
				}
			}
			return nil
		}
		for _, name := range names {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	// Kahn's algorithm over the wanted subset, seeded in registration order
	// for stable output.
	inDegree := make(map[string]int)
	for _, name := range r.order {
		if !wanted[name] {
			continue
		}
		for _, dep := range r.stages[name].Dependencies() {
			if _, ok := r.stages[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %q depends on %q", ErrStageNotFound, name, dep)
			}
			if wanted[dep] {
				inDegree[name]++
			}
		}
	}

	var queue []string
	for _, name := range r.order {
		if wanted[name] && inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var ordered []Stage
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, r.stages[name])

		for _, depName := range r.order {
			if !wanted[depName] {
				continue
			}
			for _, dep := range r.stages[depName].Dependencies() {
				if dep == name {
					inDegree[depName]--
					if inDegree[depName] == 0 {
						queue = append(queue, depName)
					}
				}
			}
		}
	}

	wantedCount := 0
	for _, ok := range wanted {
		if ok {
			wantedCount++
		}
	}
	if len(ordered) != wantedCount {
		return nil, ErrDependencyCycle
	}
	return ordered, nil
}
