package crawler

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh, unconnected connector instance.
type Factory func() Connector

// Registry maps connector class names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds className to factory. Registering the same name twice
// returns an error.
func (r *Registry) Register(className string, factory Factory) error {
	if className == "" {
		return fmt.Errorf("register connector: class name is required")
	}
	if factory == nil {
		return fmt.Errorf("register connector %q: factory is required", className)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[className]; ok {
		return fmt.Errorf("register connector %q: already registered", className)
	}
	r.factories[className] = factory
	return nil
}

// New instantiates the connector registered under className.
func (r *Registry) New(className string) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[className]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector %q: %w", className, ErrConnectorNotRegistered)
	}
	return factory(), nil
}

// Exists reports whether className is registered.
func (r *Registry) Exists(className string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[className]
	return ok
}

// Names returns the registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
