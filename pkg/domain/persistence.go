package domain

import (
	"context"
	"maps"
	"slices"
)

// Record is the durable form of one entity: scalar properties keyed by name
// plus the OIDs of every relation it owns or refers to.
type Record struct {
	OID          OID
	Kind         Kind
	Properties   map[string]string
	Aggregations map[Relation][]OID
	// Associations are stored sorted; their order carries no meaning.
	Associations map[Relation][]OID
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := r
	cp.Properties = maps.Clone(r.Properties)
	cp.Aggregations = cloneRelationMap(r.Aggregations)
	cp.Associations = cloneRelationMap(r.Associations)
	return cp
}

// Graph is a complete serialized store.
type Graph struct {
	NextOID OID
	Roots   map[Relation][]OID
	Records map[OID]Record
}

// NewGraph returns an empty graph whose first allocation will be OID 1.
func NewGraph() Graph {
	return Graph{
		NextOID: 1,
		Roots:   make(map[Relation][]OID),
		Records: make(map[OID]Record),
	}
}

// Empty reports whether the graph holds no entities.
func (g Graph) Empty() bool { return len(g.Records) == 0 }

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := Graph{
		NextOID: g.NextOID,
		Roots:   cloneRelationMap(g.Roots),
		Records: make(map[OID]Record, len(g.Records)),
	}
	if out.Roots == nil {
		out.Roots = make(map[Relation][]OID)
	}
	for oid, rec := range g.Records {
		out.Records[oid] = rec.Clone()
	}
	return out
}

// SortedOIDs lists the record OIDs in ascending order.
func (g Graph) SortedOIDs() []OID {
	oids := slices.Collect(maps.Keys(g.Records))
	slices.Sort(oids)
	return oids
}

// Apply folds a delta into the graph in place.
func (g *Graph) Apply(d Delta) {
	if g.Records == nil {
		g.Records = make(map[OID]Record)
	}
	for _, oid := range d.Deletes {
		delete(g.Records, oid)
	}
	for _, rec := range d.Upserts {
		g.Records[rec.OID] = rec.Clone()
	}
	if d.Roots != nil {
		g.Roots = cloneRelationMap(d.Roots)
	}
	if d.NextOID > g.NextOID {
		g.NextOID = d.NextOID
	}
}

// Delta is the persistent effect of one committed transaction.
type Delta struct {
	Upserts []Record
	Deletes []OID
	// Roots is non-nil only when a top-level relation changed.
	Roots   map[Relation][]OID
	NextOID OID
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Upserts) == 0 && len(d.Deletes) == 0 && d.Roots == nil
}

// Backend persists whole graphs.
type Backend interface {
	Load(ctx context.Context) (Graph, error)
	Save(ctx context.Context, g Graph) error
	// Location identifies the backing resource in error reports.
	Location() string
	Close() error
}

// DeltaBackend is implemented by row or key oriented backends that persist
// each committed transaction instead of rewriting the whole graph.
type DeltaBackend interface {
	Backend
	Apply(ctx context.Context, d Delta) error
}

func cloneRelationMap(in map[Relation][]OID) map[Relation][]OID {
	if in == nil {
		return nil
	}
	out := make(map[Relation][]OID, len(in))
	for rel, oids := range in {
		out[rel] = slices.Clone(oids)
	}
	return out
}
