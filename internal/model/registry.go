package model

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry stores model instances by ID.
type Registry struct {
	models map[string]*Instance
	mu     sync.RWMutex
}

// NewRegistry creates a new model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*Instance),
	}
}

// Set adds a model instance to the registry.
func (r *Registry) Set(instance *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[instance.ID] = instance
}

// Get returns the model instance with the given ID.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.models[id]
	return instance, ok
}

// List returns all model instances sorted by ID.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*Instance, 0, len(r.models))
	for _, instance := range r.models {
		instances = append(instances, instance)
	}
	slices.SortFunc(instances, func(a, b *Instance) int {
		return strings.Compare(a.ID, b.ID)
	})

	return instances
}

// Delete deletes the model instance with the given ID.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.models, id)
}

// Find returns the first loaded instance, by ID, for theory and absorber.
// An empty version matches any.
func (r *Registry) Find(theory, absorber, version string) (*Instance, error) {
	for _, instance := range r.List() {
		if !instance.Ready() {
			continue
		}
		if instance.Selector.Theory != theory || instance.Absorber != absorber {
			continue
		}
		if version != "" && instance.Selector.Version != version {
			continue
		}
		return instance, nil
	}

	return nil, fmt.Errorf("%w: theory=%s absorber=%s version=%q", ErrNotFound, theory, absorber, version)
}

// Resolve returns the ready instance with the given ID.
func (r *Registry) Resolve(id string) (*Instance, error) {
	instance, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !instance.Ready() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, instance.Status)
	}
	return instance, nil
}
