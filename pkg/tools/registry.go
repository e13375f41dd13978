package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry is the capability-indexed tool container. Mutation is serialized;
// readers see consistent snapshots.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	// byCap preserves registration order so the default resolution is
	// first-registered wins.
	byCap map[string][]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Tool),
		byCap:  make(map[string][]Tool),
	}
}

// Register indexes a tool under each of its capabilities. The name must be
// unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.byName[t.Name()] = t
	for _, cap := range t.Capabilities() {
		r.byCap[cap] = append(r.byCap[cap], t)
	}
	return nil
}

// Resolve maps each capability to a providing tool, first-registered wins.
// Missing required capabilities produce a CapabilityError; missing optional
// capabilities are silently omitted from the mapping.
func (r *Registry) Resolve(required, optional []string) (map[string]Tool, error) {
	return r.ResolveWithPreference(required, optional, nil)
}

// ResolveWithPreference is Resolve with an explicit capability→tool-name
// preference for capabilities served by more than one tool.
func (r *Registry) ResolveWithPreference(required, optional []string, prefer map[string]string) (map[string]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make(map[string]Tool, len(required)+len(optional))
	var missing []string
	for _, cap := range required {
		if t := r.pick(cap, prefer); t != nil {
			resolved[cap] = t
		} else {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &CapabilityError{Missing: missing}
	}
	for _, cap := range optional {
		if t := r.pick(cap, prefer); t != nil {
			resolved[cap] = t
		}
	}
	return resolved, nil
}

func (r *Registry) pick(cap string, prefer map[string]string) Tool {
	providers := r.byCap[cap]
	if len(providers) == 0 {
		return nil
	}
	if name, ok := prefer[cap]; ok {
		for _, t := range providers {
			if t.Name() == name {
				return t
			}
		}
	}
	return providers[0]
}

// GetByCapability returns the default provider for cap, or nil.
func (r *Registry) GetByCapability(cap string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pick(cap, nil)
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// All returns every registered tool sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted registered tool names.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name()
	}
	return names
}

// HealthProbe runs every tool's health check. A check error counts as
// unhealthy, never as a probe failure.
func (r *Registry) HealthProbe(ctx context.Context) map[string]bool {
	health := make(map[string]bool)
	for _, t := range r.All() {
		health[t.Name()] = t.HealthCheck(ctx) == nil
	}
	return health
}
