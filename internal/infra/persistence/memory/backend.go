// Package memory provides a full-graph backend that keeps the last saved
// graph in process memory. It backs tests and ephemeral workspaces.
package memory

import (
	"context"
	"errors"
	"sync"

	"worktally/pkg/domain"
)

var _ domain.Backend = (*Backend)(nil)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("memory backend closed")

// Backend holds a deep copy of the most recently saved graph.
type Backend struct {
	mu     sync.Mutex
	name   string
	graph  domain.Graph
	saves  int
	closed bool
}

// New returns an empty backend addressed as memory:<name>.
func New(name string) *Backend {
	return &Backend{name: name, graph: domain.NewGraph()}
}

// NewFrom returns a backend preloaded with g.
func NewFrom(name string, g domain.Graph) *Backend {
	return &Backend{name: name, graph: g.Clone()}
}

// Load implements domain.Backend.
func (b *Backend) Load(context.Context) (domain.Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.Graph{}, ErrClosed
	}
	return b.graph.Clone(), nil
}

// Save implements domain.Backend.
func (b *Backend) Save(_ context.Context, g domain.Graph) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.graph = g.Clone()
	b.saves++
	return nil
}

// Location implements domain.Backend.
func (b *Backend) Location() string { return "memory:" + b.name }

// Close implements domain.Backend. Closing twice is harmless.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Reopen clears the closed flag so a test can load the saved graph again.
func (b *Backend) Reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
}

// Snapshot returns a copy of the saved graph.
func (b *Backend) Snapshot() domain.Graph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graph.Clone()
}

// Saves counts successful Save calls.
func (b *Backend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
