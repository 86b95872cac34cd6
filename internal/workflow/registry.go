package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Step is a unit of independent, idempotent analysis work. Implementations
// own their payload schema; the orchestrator never inspects analysis
// content, only calls Condense to obtain the report-ready digest.
type Step interface {
	// Name is the stable identifier used as the map key everywhere.
	Name() string

	// Dependencies lists step names whose outcomes must be terminal
	// before this step may run. Dependencies outside the requested set
	// of a given workflow are ignored for that workflow.
	Dependencies() []string

	// Execute runs the analysis. It must classify its own internal
	// failures (including timeouts on external I/O) into a workflow.Error;
	// anything else is recorded as KindStepCrashed by the caller.
	Execute(ctx context.Context, bundle InputBundle, deps map[string]*StepOutcome) (*StepResult, error)

	// Condense produces the compact view embedded in the aggregated
	// report. It must be total: on malformed payloads it returns a
	// type-tagged empty summary instead of panicking.
	Condense(payload map[string]interface{}) Summary
}

// Registry holds the set of executable analysis steps
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry creates an empty step registry
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step to the registry
func (r *Registry) Register(step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := step.Name()
	if name == "" {
		return fmt.Errorf("step has empty name")
	}
	if _, exists := r.steps[name]; exists {
		return fmt.Errorf("step %q already registered", name)
	}
	r.steps[name] = step
	return nil
}

// Resolve looks up a step by name
func (r *Registry) Resolve(name string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[name]
	return step, ok
}

// Names returns all registered step names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan partitions the requested steps into ordered dependency groups.
// Steps within a group have no dependencies on each other and run
// concurrently; a group only starts after every earlier group reached a
// terminal state. Dependencies on steps outside the requested set are
// ignored. A dependency cycle yields KindInvalidRequest.
func (r *Registry) Plan(requested []string) ([][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestedSet := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := r.steps[name]; !ok {
			return nil, Errorf(KindInvalidRequest, "unknown step %q", name)
		}
		requestedSet[name] = true
	}

	placed := make(map[string]bool, len(requested))
	var groups [][]string

	remaining := len(requestedSet)
	for remaining > 0 {
		var group []string
		for name := range requestedSet {
			if placed[name] {
				continue
			}
			ready := true
			for _, dep := range r.steps[name].Dependencies() {
				if requestedSet[dep] && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, name)
			}
		}
		if len(group) == 0 {
			return nil, Errorf(KindInvalidRequest, "dependency cycle among requested steps")
		}
		sort.Strings(group)
		for _, name := range group {
			placed[name] = true
		}
		groups = append(groups, group)
		remaining -= len(group)
	}

	return groups, nil
}
