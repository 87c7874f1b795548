package core

import (
	"fmt"
	"sync/atomic"

	"worktally/pkg/domain"
)

// entity is the arena slot of one persistent object. Relationships live in
// the relation tables, never on the entity itself.
type entity struct {
	oid       domain.OID
	kind      domain.Kind
	state     domain.State
	refs      int
	props     domain.Properties
	reclaimed bool
}

func (e *entity) object() domain.Object {
	return domain.Object{OID: e.oid, Kind: e.kind, State: e.state, Properties: e.props.Clone()}
}

// registry tracks identity and lifecycle. Every method except allocate
// requires the store guard.
type registry struct {
	next      atomic.Uint64
	live      map[domain.OID]*entity
	graveyard map[domain.OID]*entity
	reclaimed int
}

func newRegistry() *registry {
	r := &registry{
		live:      make(map[domain.OID]*entity),
		graveyard: make(map[domain.OID]*entity),
	}
	r.next.Store(1)
	return r
}

// allocate returns a fresh OID. OIDs are never handed out twice, even when
// the transaction that allocated one rolls back.
func (r *registry) allocate() domain.OID {
	return domain.OID(r.next.Add(1) - 1)
}

// seed advances the counter so the next allocation is at least next.
func (r *registry) seed(next domain.OID) {
	for {
		cur := r.next.Load()
		if uint64(next) <= cur || r.next.CompareAndSwap(cur, uint64(next)) {
			return
		}
	}
}

func (r *registry) nextOID() domain.OID { return domain.OID(r.next.Load()) }

// register makes a pending entity live and takes the registry hold.
func (r *registry) register(e *entity) {
	if e.oid == domain.RootOID {
		panic("core: register root oid")
	}
	if _, ok := r.live[e.oid]; ok {
		panic(fmt.Sprintf("core: duplicate registration of oid %s", e.oid))
	}
	if _, ok := r.graveyard[e.oid]; ok {
		panic(fmt.Sprintf("core: registration of dead oid %s", e.oid))
	}
	e.state = domain.StateLive
	r.live[e.oid] = e
	e.refs++
}

// unregister reverses register for a transaction rollback.
func (r *registry) unregister(e *entity) {
	delete(r.live, e.oid)
	e.state = domain.StatePending
	r.release(e)
}

// markDead moves a detached live entity to the graveyard and drops the
// registry hold. The caller has already verified it has no dependents.
func (r *registry) markDead(e *entity) {
	if e.state != domain.StateLive {
		panic(fmt.Sprintf("core: markDead on %s oid %s", e.state, e.oid))
	}
	delete(r.live, e.oid)
	e.state = domain.StateDead
	r.graveyard[e.oid] = e
	r.release(e)
}

// revive reverses markDead for a transaction rollback.
func (r *registry) revive(e *entity) {
	delete(r.graveyard, e.oid)
	e.state = domain.StateLive
	r.live[e.oid] = e
	e.refs++
}

func (r *registry) retain(e *entity) { e.refs++ }

func (r *registry) release(e *entity) {
	if e.refs <= 0 {
		panic(fmt.Sprintf("core: reference count of oid %s below zero", e.oid))
	}
	e.refs--
}

// reclaim releases the properties of a dead, unreferenced entity. The
// tombstone stays in the graveyard so stale handles still resolve to dead.
func (r *registry) reclaim(e *entity) bool {
	if e.state != domain.StateDead || e.refs != 0 || e.reclaimed {
		return false
	}
	e.props = domain.Properties{}
	e.reclaimed = true
	r.reclaimed++
	return true
}

// lookup resolves a live entity.
func (r *registry) lookup(oid domain.OID) (*entity, error) {
	if e, ok := r.live[oid]; ok {
		return e, nil
	}
	if _, ok := r.graveyard[oid]; ok {
		return nil, dead(oid)
	}
	return nil, notFound(oid)
}

// any resolves an entity in either map.
func (r *registry) any(oid domain.OID) (*entity, bool) {
	if e, ok := r.live[oid]; ok {
		return e, true
	}
	e, ok := r.graveyard[oid]
	return e, ok
}
