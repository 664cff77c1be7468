package page

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for the route registry.
var (
	ErrNotFound      = errors.New("route not found")
	ErrAlreadyExists = errors.New("route already registered")
	ErrEmptyRoute    = errors.New("route is empty")
)

// Registry maps routes to page modules. The engine resolves every request
// path through a Registry supplied at construction; how modules are loaded
// is the caller's concern. Thread-safe for concurrent access.
type Registry struct {
	modules map[string]*Module
	mu      sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds a module under route. Returns ErrAlreadyExists if the route
// is taken; use Replace to swap a registered module.
func (r *Registry) Register(route string, m *Module) error {
	if route == "" {
		return ErrEmptyRoute
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[route]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, route)
	}
	r.modules[route] = m
	return nil
}

// Replace swaps the module registered under route. Returns ErrNotFound if
// the route is not registered.
func (r *Registry) Replace(route string, m *Module) error {
	if route == "" {
		return ErrEmptyRoute
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[route]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, route)
	}
	r.modules[route] = m
	return nil
}

// Get retrieves the module for route.
func (r *Registry) Get(route string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.modules[route]
	return m, exists
}

// Routes returns all registered routes in sorted order.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]string, 0, len(r.modules))
	for route := range r.modules {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}
