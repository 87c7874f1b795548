package core

import (
	"context"
	"fmt"
)

// StorageDriver identifies a registered persistence component.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageXML      StorageDriver = "xml"      // single XML document
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBadger   StorageDriver = "badger"   // embedded key/value directory
)

// OpenPersistentStore opens the backend through components and loads it into
// a Store. The backend is closed again if the graph fails to load.
func OpenPersistentStore(ctx context.Context, components *Components, driver StorageDriver, cfg BackendConfig, opts ...Option) (*Store, error) {
	if components == nil {
		return nil, fmt.Errorf("open store: no components registered: %w", ErrInvalidValue)
	}
	backend, err := components.Open(ctx, string(driver), cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		opts = append([]Option{WithLogger(cfg.Logger)}, opts...)
	}
	s, err := OpenStore(ctx, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}
