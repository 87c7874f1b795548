// Package sqlstore persists graphs in four relational tables shared by the
// sqlite and postgres backends: objects, aggregations, associations and meta.
// Every committed transaction is written as a delta inside one SQL
// transaction.
package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"worktally/pkg/domain"
)

var _ domain.DeltaBackend = (*Store)(nil)

const metaNextOID = "nextOid"

// Dialect captures the statement differences between SQL engines.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Clear empties every table ahead of a full save.
	Clear []string
}

// SQLite binds with ? and clears with DELETE.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Clear: []string{
		`DELETE FROM objects`,
		`DELETE FROM aggregations`,
		`DELETE FROM associations`,
	},
}

// Postgres binds with $n and clears with TRUNCATE.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Clear:       []string{`TRUNCATE TABLE objects, aggregations, associations`},
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		oid BIGINT PRIMARY KEY,
		kind TEXT NOT NULL,
		properties TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aggregations (
		owner BIGINT NOT NULL,
		relation TEXT NOT NULL,
		ord INTEGER NOT NULL,
		child BIGINT NOT NULL,
		PRIMARY KEY (owner, relation, ord)
	)`,
	`CREATE TABLE IF NOT EXISTS associations (
		owner BIGINT NOT NULL,
		relation TEXT NOT NULL,
		target BIGINT NOT NULL,
		PRIMARY KEY (owner, relation, target)
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Store is a domain.DeltaBackend over database/sql.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	location string
	mu       sync.Mutex
}

// New ensures the schema exists and returns a Store that owns db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, location string) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect, location: location}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Location implements domain.Backend.
func (s *Store) Location() string { return s.location }

// Close implements domain.Backend.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders for the dialect.
func (s *Store) rebind(query string) string {
	if s.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load implements domain.Backend.
func (s *Store) Load(ctx context.Context) (domain.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := domain.NewGraph()
	if err := s.loadObjects(ctx, &g); err != nil {
		return domain.Graph{}, err
	}
	if err := s.loadAggregations(ctx, &g); err != nil {
		return domain.Graph{}, err
	}
	if err := s.loadAssociations(ctx, &g); err != nil {
		return domain.Graph{}, err
	}
	if err := s.loadMeta(ctx, &g); err != nil {
		return domain.Graph{}, err
	}
	return g, nil
}

func (s *Store) loadObjects(ctx context.Context, g *domain.Graph) error {
	rows, err := s.db.QueryContext(ctx, `SELECT oid, kind, properties FROM objects`)
	if err != nil {
		return fmt.Errorf("select objects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			oid   int64
			kind  string
			props string
		)
		if err := rows.Scan(&oid, &kind, &props); err != nil {
			return fmt.Errorf("scan object: %w", err)
		}
		rec := domain.Record{OID: domain.OID(oid), Kind: domain.Kind(kind)}
		if err := json.Unmarshal([]byte(props), &rec.Properties); err != nil {
			return fmt.Errorf("decode properties of %d: %w", oid, err)
		}
		if rec.Properties == nil {
			rec.Properties = map[string]string{}
		}
		g.Records[rec.OID] = rec
	}
	return rows.Err()
}

type aggregationRow struct {
	owner domain.OID
	rel   domain.Relation
	ord   int64
	child domain.OID
}

func (s *Store) loadAggregations(ctx context.Context, g *domain.Graph) error {
	rows, err := s.db.QueryContext(ctx, `SELECT owner, relation, ord, child FROM aggregations`)
	if err != nil {
		return fmt.Errorf("select aggregations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var all []aggregationRow
	for rows.Next() {
		var (
			owner, ord, child int64
			rel               string
		)
		if err := rows.Scan(&owner, &rel, &ord, &child); err != nil {
			return fmt.Errorf("scan aggregation: %w", err)
		}
		all = append(all, aggregationRow{domain.OID(owner), domain.Relation(rel), ord, domain.OID(child)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	slices.SortFunc(all, func(a, b aggregationRow) int {
		return cmp.Or(cmp.Compare(a.owner, b.owner), cmp.Compare(a.rel, b.rel), cmp.Compare(a.ord, b.ord))
	})
	for _, row := range all {
		if row.owner == domain.RootOID {
			g.Roots[row.rel] = append(g.Roots[row.rel], row.child)
			continue
		}
		rec, ok := g.Records[row.owner]
		if !ok {
			return fmt.Errorf("aggregation %s.%s refers to missing owner", row.owner, row.rel)
		}
		if rec.Aggregations == nil {
			rec.Aggregations = make(map[domain.Relation][]domain.OID)
		}
		rec.Aggregations[row.rel] = append(rec.Aggregations[row.rel], row.child)
		g.Records[row.owner] = rec
	}
	return nil
}

func (s *Store) loadAssociations(ctx context.Context, g *domain.Graph) error {
	rows, err := s.db.QueryContext(ctx, `SELECT owner, relation, target FROM associations`)
	if err != nil {
		return fmt.Errorf("select associations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			owner, target int64
			rel           string
		)
		if err := rows.Scan(&owner, &rel, &target); err != nil {
			return fmt.Errorf("scan association: %w", err)
		}
		rec, ok := g.Records[domain.OID(owner)]
		if !ok {
			return fmt.Errorf("association %d.%s refers to missing owner", owner, rel)
		}
		if rec.Associations == nil {
			rec.Associations = make(map[domain.Relation][]domain.OID)
		}
		r := domain.Relation(rel)
		rec.Associations[r] = append(rec.Associations[r], domain.OID(target))
		g.Records[rec.OID] = rec
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, rec := range g.Records {
		for _, list := range rec.Associations {
			slices.Sort(list)
		}
	}
	return nil
}

func (s *Store) loadMeta(ctx context.Context, g *domain.Graph) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM meta`)
	if err != nil {
		return fmt.Errorf("select meta: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		if name != metaNextOID {
			continue
		}
		next, err := domain.ParseOID(value)
		if err != nil {
			return fmt.Errorf("meta %s: %w", metaNextOID, err)
		}
		g.NextOID = next
	}
	return rows.Err()
}

// Save implements domain.Backend by replacing every row.
func (s *Store) Save(ctx context.Context, g domain.Graph) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range s.dialect.Clear {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear tables: %w", err)
			}
		}
		for _, oid := range g.SortedOIDs() {
			if err := s.writeRecord(ctx, tx, g.Records[oid], false); err != nil {
				return err
			}
		}
		if err := s.writeRoots(ctx, tx, g.Roots, false); err != nil {
			return err
		}
		return s.writeNext(ctx, tx, g.NextOID)
	})
}

// Apply implements domain.DeltaBackend.
func (s *Store) Apply(ctx context.Context, d domain.Delta) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, oid := range d.Deletes {
			if err := s.deleteOwned(ctx, tx, oid); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM objects WHERE oid = ?`), int64(oid)); err != nil {
				return fmt.Errorf("delete object %s: %w", oid, err)
			}
		}
		for _, rec := range d.Upserts {
			if err := s.writeRecord(ctx, tx, rec, true); err != nil {
				return err
			}
		}
		if d.Roots != nil {
			if err := s.writeRoots(ctx, tx, d.Roots, true); err != nil {
				return err
			}
		}
		return s.writeNext(ctx, tx, d.NextOID)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) deleteOwned(ctx context.Context, tx *sql.Tx, oid domain.OID) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM aggregations WHERE owner = ?`), int64(oid)); err != nil {
		return fmt.Errorf("delete aggregations of %s: %w", oid, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM associations WHERE owner = ?`), int64(oid)); err != nil {
		return fmt.Errorf("delete associations of %s: %w", oid, err)
	}
	return nil
}

func (s *Store) writeRecord(ctx context.Context, tx *sql.Tx, rec domain.Record, replace bool) error {
	props, err := json.Marshal(rec.Properties)
	if err != nil {
		return fmt.Errorf("encode properties of %s: %w", rec.OID, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO objects (oid, kind, properties) VALUES (?, ?, ?)
		ON CONFLICT (oid) DO UPDATE SET kind = excluded.kind, properties = excluded.properties`),
		int64(rec.OID), string(rec.Kind), string(props)); err != nil {
		return fmt.Errorf("upsert object %s: %w", rec.OID, err)
	}
	if replace {
		if err := s.deleteOwned(ctx, tx, rec.OID); err != nil {
			return err
		}
	}
	if err := s.writeAggregations(ctx, tx, rec.OID, rec.Aggregations); err != nil {
		return err
	}
	for _, rel := range sortedRelations(rec.Associations) {
		for _, target := range rec.Associations[rel] {
			if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO associations (owner, relation, target) VALUES (?, ?, ?)`),
				int64(rec.OID), string(rel), int64(target)); err != nil {
				return fmt.Errorf("insert association %s.%s: %w", rec.OID, rel, err)
			}
		}
	}
	return nil
}

func (s *Store) writeRoots(ctx context.Context, tx *sql.Tx, roots map[domain.Relation][]domain.OID, replace bool) error {
	if replace {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM aggregations WHERE owner = ?`), int64(domain.RootOID)); err != nil {
			return fmt.Errorf("delete roots: %w", err)
		}
	}
	return s.writeAggregations(ctx, tx, domain.RootOID, roots)
}

func (s *Store) writeAggregations(ctx context.Context, tx *sql.Tx, owner domain.OID, aggs map[domain.Relation][]domain.OID) error {
	for _, rel := range sortedRelations(aggs) {
		for i, child := range aggs[rel] {
			if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO aggregations (owner, relation, ord, child) VALUES (?, ?, ?, ?)`),
				int64(owner), string(rel), int64(i), int64(child)); err != nil {
				return fmt.Errorf("insert aggregation %s.%s: %w", owner, rel, err)
			}
		}
	}
	return nil
}

func (s *Store) writeNext(ctx context.Context, tx *sql.Tx, next domain.OID) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO meta (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`), metaNextOID, next.String()); err != nil {
		return fmt.Errorf("write %s: %w", metaNextOID, err)
	}
	return nil
}

func sortedRelations(m map[domain.Relation][]domain.OID) []domain.Relation {
	out := make([]domain.Relation, 0, len(m))
	for rel := range m {
		out = append(out, rel)
	}
	slices.Sort(out)
	return out
}
