package runtimedriver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/repx-run/repx/internal/model"
)

// Registry holds registered drivers and resolves which one to use for a
// given runtime kind.
type Registry struct {
	mu      sync.RWMutex
	drivers map[model.RuntimeKind]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[model.RuntimeKind]Driver)}
}

// Register adds a driver to the registry under its own Kind().
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
}

// Resolve returns the driver registered for kind.
func (r *Registry) Resolve(kind model.RuntimeKind) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("runtime driver %q is not registered", kind)
	}
	return d, nil
}

// List returns the registered runtime kinds, sorted for stable output.
func (r *Registry) List() []model.RuntimeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.RuntimeKind, 0, len(r.drivers))
	for k := range r.drivers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewDefaultRegistry registers the four standard drivers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewNativeDriver())
	r.Register(NewBwrapDriver())
	r.Register(NewContainerDriver(model.RuntimePodman, "podman"))
	r.Register(NewContainerDriver(model.RuntimeDocker, "docker"))
	return r
}
