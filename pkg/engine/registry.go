package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClientFactory builds a RemoteClient for one resource instance from its
// desired properties. Factories may reject a definition up front; a
// rejected definition never produces a task.
type ClientFactory interface {
	// NewClient returns a client bound to the backend service for this
	// resource type.
	NewClient(ctx context.Context, properties map[string]interface{}) (RemoteClient, error)

	// Validate checks a resource definition before any task is created.
	Validate(properties map[string]interface{}) error
}

// Registry maps resource type names to client factories. Concrete resource
// types register themselves here; the engine core stays ignorant of any
// backend vocabulary.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ClientFactory
}

// NewRegistry creates an empty resource type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ClientFactory)}
}

// Register adds a factory under a type name. Registering a name twice is an
// error.
func (g *Registry) Register(typeName string, factory ClientFactory) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.factories[typeName]; exists {
		return fmt.Errorf("resource type %s already registered", typeName)
	}
	g.factories[typeName] = factory
	return nil
}

// Lookup returns the factory for a type name.
func (g *Registry) Lookup(typeName string) (ClientFactory, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	factory, exists := g.factories[typeName]
	if !exists {
		return nil, fmt.Errorf("resource type %s not registered", typeName)
	}
	return factory, nil
}

// Types lists the registered type names, sorted.
func (g *Registry) Types() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.factories))
	for name := range g.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New validates a definition, builds its client, and constructs the
// resource in the (INIT, COMPLETE) state.
func (g *Registry) New(ctx context.Context, name, typeName string, properties map[string]interface{}, opts ...ResourceOption) (*Resource, error) {
	factory, err := g.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if err := factory.Validate(properties); err != nil {
		return nil, fmt.Errorf("invalid definition for %s: %w", name, err)
	}
	client, err := factory.NewClient(ctx, properties)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", name, err)
	}
	return NewResource(name, typeName, client, properties, opts...), nil
}
