package core

import (
	"cmp"
	"maps"
	"slices"

	"worktally/pkg/domain"
)

// txn is one atomic mutation. Every table change records its inverse so a
// failure anywhere can replay the log backwards; events and the persistence
// delta are derived from the entities it touched.
type txn struct {
	undo         []func()
	order        []domain.OID
	marks        map[domain.OID]*mark
	rootsChanged bool
}

type mark struct {
	kind      domain.Kind
	created   bool
	destroyed bool
	modified  bool
}

func newTxn() *txn {
	return &txn{marks: make(map[domain.OID]*mark)}
}

func (tx *txn) onUndo(f func()) { tx.undo = append(tx.undo, f) }

func (tx *txn) mark(e *entity) *mark {
	m, ok := tx.marks[e.oid]
	if !ok {
		m = &mark{kind: e.kind}
		tx.marks[e.oid] = m
		tx.order = append(tx.order, e.oid)
	}
	return m
}

func (tx *txn) touch(e *entity) { tx.mark(e).modified = true }

func (tx *txn) touchOID(g *graphState, oid domain.OID) {
	if oid == domain.RootOID {
		tx.rootsChanged = true
		return
	}
	if e := g.reg.live[oid]; e != nil {
		tx.touch(e)
	}
}

func (tx *txn) created(e *entity)   { tx.mark(e).created = true }
func (tx *txn) destroyed(e *entity) { tx.mark(e).destroyed = true }

func (tx *txn) empty() bool { return len(tx.order) == 0 && !tx.rootsChanged }

func (tx *txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// events returns the notifications of a committed transaction in first-touch
// order. Lifecycle events replace any Modified on the same entity.
func (tx *txn) events() []domain.Event {
	out := make([]domain.Event, 0, len(tx.order))
	for _, oid := range tx.order {
		m := tx.marks[oid]
		switch {
		case m.created && m.destroyed:
		case m.created:
			out = append(out, domain.CreatedEvent(m.kind, oid))
		case m.destroyed:
			out = append(out, domain.DestroyedEvent(m.kind, oid))
		case m.modified:
			out = append(out, domain.ModifiedEvent(m.kind, oid))
		}
	}
	return out
}

// destroyedOIDs lists the entities that died in this transaction.
func (tx *txn) destroyedOIDs() []domain.OID {
	var out []domain.OID
	for _, oid := range tx.order {
		if tx.marks[oid].destroyed {
			out = append(out, oid)
		}
	}
	return out
}

// delta builds the persistent effect of the transaction against g.
func (tx *txn) delta(g *graphState) domain.Delta {
	var d domain.Delta
	for _, oid := range tx.order {
		m := tx.marks[oid]
		if m.destroyed {
			if !m.created {
				d.Deletes = append(d.Deletes, oid)
			}
			continue
		}
		if e := g.reg.live[oid]; e != nil {
			d.Upserts = append(d.Upserts, g.record(e))
		}
	}
	slices.Sort(d.Deletes)
	slices.SortFunc(d.Upserts, func(a, b domain.Record) int { return cmp.Compare(a.OID, b.OID) })
	if tx.rootsChanged {
		d.Roots = g.roots()
	}
	d.NextOID = g.reg.nextOID()
	return d
}

func (g *graphState) roots() map[domain.Relation][]domain.OID {
	out := make(map[domain.Relation][]domain.OID)
	for _, spec := range domain.RelationsOf(domain.KindRoot) {
		if list := g.children[slot{domain.RootOID, spec.Name}]; len(list) > 0 {
			out[spec.Name] = slices.Clone(list)
		}
	}
	return out
}

// record serializes one live entity with its owned and referenced OIDs.
func (g *graphState) record(e *entity) domain.Record {
	rec := domain.Record{
		OID:        e.oid,
		Kind:       e.kind,
		Properties: serializeProperties(e.kind, e.props),
	}
	for _, spec := range domain.RelationsOf(e.kind) {
		key := slot{e.oid, spec.Name}
		switch spec.Type {
		case domain.Aggregation:
			if list := g.children[key]; len(list) > 0 {
				if rec.Aggregations == nil {
					rec.Aggregations = make(map[domain.Relation][]domain.OID)
				}
				rec.Aggregations[spec.Name] = slices.Clone(list)
			}
		case domain.Association:
			if list := g.members[key]; len(list) > 0 {
				if rec.Associations == nil {
					rec.Associations = make(map[domain.Relation][]domain.OID)
				}
				rec.Associations[spec.Name] = slices.Clone(list)
			}
		}
	}
	return rec
}

// graph serializes the whole live arena.
func (g *graphState) graph() domain.Graph {
	out := domain.Graph{
		NextOID: g.reg.nextOID(),
		Roots:   g.roots(),
		Records: make(map[domain.OID]domain.Record, len(g.reg.live)),
	}
	for _, oid := range slices.Sorted(maps.Keys(g.reg.live)) {
		out.Records[oid] = g.record(g.reg.live[oid])
	}
	return out
}
