// Package xmlfile stores a whole graph as one XML document. Saves write a
// temporary file next to the target and rename it into place.
package xmlfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"worktally/pkg/domain"
)

var _ domain.Backend = (*Backend)(nil)

// Backend is a full-graph backend over a single file.
type Backend struct {
	mu   sync.Mutex
	path string
}

// Open returns a backend for path. The file is created on first save; a
// missing file loads as an empty graph.
func Open(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("xml backend: path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("xml backend: %w", err)
	}
	return &Backend{path: abs}, nil
}

// Location implements domain.Backend.
func (b *Backend) Location() string { return "xml:" + b.path }

// Path returns the absolute file path.
func (b *Backend) Path() string { return b.path }

// Close implements domain.Backend.
func (b *Backend) Close() error { return nil }

// Load implements domain.Backend.
func (b *Backend) Load(context.Context) (domain.Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewGraph(), nil
	}
	if err != nil {
		return domain.Graph{}, fmt.Errorf("open %s: %w", b.path, err)
	}
	defer func() { _ = f.Close() }()
	g, err := Decode(bufio.NewReader(f))
	if err != nil {
		return domain.Graph{}, fmt.Errorf("%s: %w", b.path, err)
	}
	return g, nil
}

// Save implements domain.Backend.
func (b *Backend) Save(ctx context.Context, g domain.Graph) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	if err := Encode(w, g); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("rename into %s: %w", b.path, err)
	}
	return nil
}
