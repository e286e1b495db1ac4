// Package catalog keeps the in-process strategy registry the selector
// resolves audits against.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

type entry struct {
	desc     strategy.Descriptor
	factory  strategy.Factory
	enabled  bool
	defaults map[string]interface{}
}

// Override adjusts a registered strategy from configuration.
type Override struct {
	Priority   *int
	Enabled    *bool
	Parameters map[string]interface{}
}

// Registry implements ports.StrategyCatalog with an in-memory map keyed by
// strategy id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register stores a strategy factory under its descriptor id.
func (r *Registry) Register(desc strategy.Descriptor, factory strategy.Factory) error {
	if factory == nil {
		return fmt.Errorf("strategy factory is nil for %q", desc.ID)
	}
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("strategy descriptor invalid: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("strategy %q already registered", desc.ID)
	}
	r.entries[desc.ID] = &entry{desc: desc.Clone(), factory: factory, enabled: true}
	return nil
}

// Configure applies an override to a registered strategy.
func (r *Registry) Configure(id string, o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("cannot configure unknown strategy %q", id)
	}
	if o.Priority != nil {
		e.desc.Priority = *o.Priority
	}
	if o.Enabled != nil {
		e.enabled = *o.Enabled
	}
	if o.Parameters != nil {
		e.defaults = make(map[string]interface{}, len(o.Parameters))
		for k, v := range o.Parameters {
			e.defaults[k] = v
		}
	}
	return nil
}

// Get returns the descriptor of an enabled strategy.
func (r *Registry) Get(id string) (strategy.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || !e.enabled {
		return strategy.Descriptor{}, false
	}
	return e.desc.Clone(), true
}

// ListByGoal returns the enabled strategies affiliated with goal ordered by
// id. Ranking is the selector's concern.
func (r *Registry) ListByGoal(goal string) []strategy.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []strategy.Descriptor
	for _, e := range r.entries {
		if e.enabled && e.desc.ServesGoal(goal) {
			out = append(out, e.desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns all enabled strategies ordered by id.
func (r *Registry) List() []strategy.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]strategy.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Goals returns the distinct goals served by enabled strategies.
func (r *Registry) Goals() []string {
	seen := map[string]struct{}{}
	for _, d := range r.List() {
		for _, g := range d.Goals {
			seen[g] = struct{}{}
		}
	}
	goals := make([]string, 0, len(seen))
	for g := range seen {
		goals = append(goals, g)
	}
	sort.Strings(goals)
	return goals
}

// Instantiate builds a strategy bound to model. Configured default
// parameters are merged under the audit parameters.
func (r *Registry) Instantiate(id string, model *cluster.Model, params map[string]interface{}) (strategy.Strategy, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	var factory strategy.Factory
	merged := map[string]interface{}{}
	if ok && e.enabled {
		factory = e.factory
		for k, v := range e.defaults {
			merged[k] = v
		}
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("strategy %q not registered", id)
	}
	for k, v := range params {
		merged[k] = v
	}

	s, err := factory(model, merged)
	if err != nil {
		return nil, fmt.Errorf("construct strategy %q: %w", id, err)
	}
	if s == nil {
		return nil, fmt.Errorf("strategy factory returned nil for %q", id)
	}
	return s, nil
}

var _ ports.StrategyCatalog = (*Registry)(nil)
