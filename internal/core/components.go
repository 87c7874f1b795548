package core

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"worktally/pkg/domain"
)

// BackendConfig carries the settings a storage component needs to open.
type BackendConfig struct {
	Path   string
	DSN    string
	Logger *slog.Logger
}

// Component opens one kind of persistence backend.
type Component interface {
	Name() string
	Open(ctx context.Context, cfg BackendConfig) (domain.Backend, error)
}

// OpenFunc adapts a function to a Component.
type OpenFunc func(ctx context.Context, cfg BackendConfig) (domain.Backend, error)

type funcComponent struct {
	name string
	open OpenFunc
}

// NewComponent builds a named Component from an open function.
func NewComponent(name string, open OpenFunc) Component {
	return &funcComponent{name: name, open: open}
}

func (c *funcComponent) Name() string { return c.name }

func (c *funcComponent) Open(ctx context.Context, cfg BackendConfig) (domain.Backend, error) {
	return c.open(ctx, cfg)
}

// Components is the set of storage components available to a process. It is
// built at startup and passed to whoever opens stores.
type Components struct {
	mu     sync.RWMutex
	byName map[string]Component
}

// NewComponents returns an empty registry.
func NewComponents() *Components {
	return &Components{byName: make(map[string]Component)}
}

// Register adds c. Registering the same component again is a no-op; a
// different component under a taken name fails with ErrAlreadyExists.
func (r *Components) Register(c Component) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("register component: name required: %w", ErrInvalidValue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[c.Name()]; ok {
		if sameComponent(prev, c) {
			return nil
		}
		return alreadyExists("component %q", c.Name())
	}
	r.byName[c.Name()] = c
	return nil
}

func sameComponent(a, b Component) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Lookup returns the component registered under name.
func (r *Components) Lookup(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names lists registered component names in sorted order.
func (r *Components) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Open opens a backend through the named component.
func (r *Components) Open(ctx context.Context, name string, cfg BackendConfig) (domain.Backend, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("storage driver %q: %w", name, ErrNotFound)
	}
	b, err := c.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w: %w", name, ErrBackend, err)
	}
	return b, nil
}
