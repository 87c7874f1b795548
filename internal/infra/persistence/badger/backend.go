// Package badger persists graphs in an embedded BadgerDB directory: one JSON
// document per entity under obj/<oid>, the top-level lists under
// root/<relation>, and the allocation counter under meta/nextOid.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"worktally/pkg/domain"
)

var _ domain.DeltaBackend = (*Backend)(nil)

var (
	prefixObject = []byte("obj/")
	prefixRoot   = []byte("root/")
	keyNextOID   = []byte("meta/nextOid")
)

// Config holds configuration for a Backend.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal logging; nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Backend is a domain.DeltaBackend over BadgerDB.
type Backend struct {
	db       *badger.DB
	location string
}

// record is the stored JSON shape of one entity.
type record struct {
	Kind         domain.Kind                      `json:"kind"`
	Properties   map[string]string                `json:"properties"`
	Aggregations map[domain.Relation][]domain.OID `json:"aggregations,omitempty"`
	Associations map[domain.Relation][]domain.OID `json:"associations,omitempty"`
}

// Open opens or creates the database.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	location := "badger:memory"
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
		location = "badger:" + cfg.Path
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Backend{db: db, location: location}, nil
}

// Location implements domain.Backend.
func (b *Backend) Location() string { return b.location }

// Close implements domain.Backend.
func (b *Backend) Close() error { return b.db.Close() }

func objectKey(oid domain.OID) []byte {
	return append(bytes.Clone(prefixObject), oid.String()...)
}

func rootKey(rel domain.Relation) []byte {
	return append(bytes.Clone(prefixRoot), rel...)
}

// Load implements domain.Backend.
func (b *Backend) Load(context.Context) (domain.Graph, error) {
	g := domain.NewGraph()
	err := b.db.View(func(txn *badger.Txn) error {
		if err := scan(txn, prefixObject, func(key, val []byte) error {
			oid, err := domain.ParseOID(string(key))
			if err != nil {
				return err
			}
			var r record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode object %s: %w", oid, err)
			}
			if r.Properties == nil {
				r.Properties = map[string]string{}
			}
			g.Records[oid] = domain.Record{
				OID:          oid,
				Kind:         r.Kind,
				Properties:   r.Properties,
				Aggregations: r.Aggregations,
				Associations: r.Associations,
			}
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, prefixRoot, func(key, val []byte) error {
			var oids []domain.OID
			if err := json.Unmarshal(val, &oids); err != nil {
				return fmt.Errorf("decode root %s: %w", key, err)
			}
			g.Roots[domain.Relation(key)] = oids
			return nil
		}); err != nil {
			return err
		}
		item, err := txn.Get(keyNextOID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			next, err := domain.ParseOID(string(val))
			if err != nil {
				return fmt.Errorf("decode %s: %w", keyNextOID, err)
			}
			g.NextOID = next
			return nil
		})
	})
	if err != nil {
		return domain.Graph{}, err
	}
	return g, nil
}

// scan calls fn with the key suffix after prefix and a copy of each value.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(bytes.TrimPrefix(item.KeyCopy(nil), prefix), val); err != nil {
			return err
		}
	}
	return nil
}

// Save implements domain.Backend by replacing the stored graph in a single
// transaction, so a failed or interrupted save leaves the previous graph.
func (b *Backend) Save(_ context.Context, g domain.Graph) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		stale, err := keys(txn, prefixObject)
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, oid := range g.SortedOIDs() {
			val, err := encodeRecord(g.Records[oid])
			if err != nil {
				return err
			}
			if err := txn.Set(objectKey(oid), val); err != nil {
				return err
			}
		}
		if err := replaceRoots(txn, g.Roots); err != nil {
			return err
		}
		return txn.Set(keyNextOID, []byte(g.NextOID.String()))
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("graph of %d objects exceeds one transaction: %w", len(g.Records), err)
	}
	return err
}

// keys returns copies of every key under prefix.
func keys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var out [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

// Apply implements domain.DeltaBackend in one badger transaction.
func (b *Backend) Apply(_ context.Context, d domain.Delta) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, oid := range d.Deletes {
			if err := txn.Delete(objectKey(oid)); err != nil {
				return err
			}
		}
		for _, rec := range d.Upserts {
			val, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(objectKey(rec.OID), val); err != nil {
				return err
			}
		}
		if d.Roots != nil {
			if err := replaceRoots(txn, d.Roots); err != nil {
				return err
			}
		}
		return txn.Set(keyNextOID, []byte(d.NextOID.String()))
	})
}

func replaceRoots(txn *badger.Txn, roots map[domain.Relation][]domain.OID) error {
	var stale [][]byte
	if err := scan(txn, prefixRoot, func(key, _ []byte) error {
		if len(roots[domain.Relation(key)]) == 0 {
			stale = append(stale, rootKey(domain.Relation(key)))
		}
		return nil
	}); err != nil {
		return err
	}
	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	for rel, oids := range roots {
		if len(oids) == 0 {
			continue
		}
		val, err := json.Marshal(oids)
		if err != nil {
			return err
		}
		if err := txn.Set(rootKey(rel), val); err != nil {
			return err
		}
	}
	return nil
}

func encodeRecord(rec domain.Record) ([]byte, error) {
	val, err := json.Marshal(record{
		Kind:         rec.Kind,
		Properties:   rec.Properties,
		Aggregations: rec.Aggregations,
		Associations: rec.Associations,
	})
	if err != nil {
		return nil, fmt.Errorf("encode object %s: %w", rec.OID, err)
	}
	return val, nil
}
