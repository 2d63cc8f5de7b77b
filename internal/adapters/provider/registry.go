// Package provider implements the model-provider adapters behind the
// core.Provider port. Providers are registered explicitly at wiring time;
// there is no global registry.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// Registry resolves provider names to configured adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]core.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]core.Provider)}
}

// Register adds a provider. Re-registering a name replaces the adapter.
func (r *Registry) Register(p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (core.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, core.ErrValidation(core.CodeProviderUnknown,
			fmt.Sprintf("provider %q is not configured", name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
