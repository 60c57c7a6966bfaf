package policyengine

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory builds a Policy instance from its raw configuration block, as
// loaded from the `policy` config option (§6): `{class_ref, config}`.
type Factory func(config json.RawMessage) (Policy, error)

// Registry resolves a class_ref string to a Factory. Replacing
// class-path loading with a typed registry keyed by a string is a
// deliberate design choice (§9): unknown refs fail startup rather than
// resolving dynamically.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a Factory under classRef, overwriting any prior
// registration under the same name.
func (r *Registry) Register(classRef string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[classRef] = factory
}

// Build resolves classRef and constructs a Policy from config. It
// returns an error if classRef is unknown, matching the "unknown refs
// fail startup" design note.
func (r *Registry) Build(classRef string, config json.RawMessage) (Policy, error) {
	r.mu.RLock()
	factory, ok := r.factories[classRef]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("policyengine: unknown policy class_ref %q", classRef)
	}
	return factory(config)
}

// BuildAll resolves an ordered list of {class_ref, config} definitions
// into policy instances, preserving order — the order the orchestrator
// later folds hooks over.
type Definition struct {
	ClassRef string          `json:"class_ref"`
	Config   json.RawMessage `json:"config"`
}

func (r *Registry) BuildAll(defs []Definition) ([]Policy, error) {
	policies := make([]Policy, 0, len(defs))
	for _, d := range defs {
		p, err := r.Build(d.ClassRef, d.Config)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}
