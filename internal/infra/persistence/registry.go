// Package persistence registers the built-in storage components.
package persistence

import (
	"context"
	"errors"

	"worktally/internal/core"
	"worktally/internal/infra/persistence/badger"
	"worktally/internal/infra/persistence/memory"
	"worktally/internal/infra/persistence/postgres"
	"worktally/internal/infra/persistence/sqlite"
	"worktally/internal/infra/persistence/xmlfile"
	"worktally/pkg/domain"
)

var builtins = []core.Component{
	core.NewComponent(string(core.StorageMemory), func(_ context.Context, cfg core.BackendConfig) (domain.Backend, error) {
		name := cfg.Path
		if name == "" {
			name = "default"
		}
		return memory.New(name), nil
	}),
	core.NewComponent(string(core.StorageXML), func(_ context.Context, cfg core.BackendConfig) (domain.Backend, error) {
		return xmlfile.Open(cfg.Path)
	}),
	core.NewComponent(string(core.StorageSQLite), func(ctx context.Context, cfg core.BackendConfig) (domain.Backend, error) {
		return sqlite.Open(ctx, cfg.Path)
	}),
	core.NewComponent(string(core.StoragePostgres), func(ctx context.Context, cfg core.BackendConfig) (domain.Backend, error) {
		return postgres.Open(ctx, cfg.DSN)
	}),
	core.NewComponent(string(core.StorageBadger), func(_ context.Context, cfg core.BackendConfig) (domain.Backend, error) {
		return badger.Open(badger.Config{Path: cfg.Path, SyncWrites: true, Logger: cfg.Logger})
	}),
}

// Builtins registers every built-in backend. Calling it twice on the same
// registry is a no-op.
func Builtins(c *core.Components) error {
	var errs []error
	for _, comp := range builtins {
		errs = append(errs, c.Register(comp))
	}
	return errors.Join(errs...)
}

// NewComponents returns a registry holding the built-in backends.
func NewComponents() (*core.Components, error) {
	c := core.NewComponents()
	if err := Builtins(c); err != nil {
		return nil, err
	}
	return c, nil
}
