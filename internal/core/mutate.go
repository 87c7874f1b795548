package core

import (
	"context"
	"slices"

	"worktally/pkg/domain"
)

// Create adds a new entity to the aggregation parent.rel. The kind is the
// one the relation holds; props must only carry that kind's traits.
func (s *Store) Create(ctx context.Context, parent domain.OID, rel domain.Relation, props domain.Properties) (domain.OID, error) {
	var oid domain.OID
	err := s.update(ctx, "create", func(_ context.Context, tx *txn) error {
		e, err := s.create(tx, parent, rel, props)
		if err != nil {
			return err
		}
		oid = e.oid
		return nil
	})
	return oid, err
}

// CreateWork logs a work item on account and binds it to activity in one
// transaction.
func (s *Store) CreateWork(ctx context.Context, account, activity domain.OID, props domain.Properties) (domain.OID, error) {
	var oid domain.OID
	err := s.update(ctx, "create_work", func(_ context.Context, tx *txn) error {
		g := s.state
		work, err := s.create(tx, account, domain.RelWorks, props)
		if err != nil {
			return err
		}
		spec, _ := domain.LookupRelation(domain.KindWork, domain.RelActivity)
		target, err := g.reg.lookup(activity)
		if err != nil {
			return err
		}
		if err := g.associable(work, spec, target); err != nil {
			return err
		}
		g.link(tx, work, spec, target)
		oid = work.oid
		return nil
	})
	return oid, err
}

// CreateEvent is not supported; events only arrive through loading.
func (s *Store) CreateEvent(context.Context, domain.OID, domain.Properties) (domain.OID, error) {
	return 0, ErrNotImplemented
}

func (s *Store) create(tx *txn, parent domain.OID, rel domain.Relation, props domain.Properties) (*entity, error) {
	g := s.state
	spec, err := g.relationOf(parent, rel, domain.Aggregation)
	if err != nil {
		return nil, err
	}
	kind := spec.Targets[0]
	if kind == domain.KindEvent {
		return nil, ErrNotImplemented
	}
	props = props.Clone()
	if err := s.checkProperties(kind, props); err != nil {
		return nil, err
	}
	if err := g.checkUnique(parent, rel, kind, props, domain.RootOID); err != nil {
		return nil, err
	}
	e := &entity{oid: g.reg.allocate(), kind: kind, props: props}
	g.reg.register(e)
	tx.onUndo(func() { g.reg.unregister(e) })
	g.addChild(tx, parent, rel, e)
	tx.created(e)
	return e, nil
}

// Update applies mutate to a copy of the entity's properties and commits the
// result when it differs.
func (s *Store) Update(ctx context.Context, oid domain.OID, mutate func(*domain.Properties) error) error {
	return s.update(ctx, "update", func(_ context.Context, tx *txn) error {
		g := s.state
		e, err := g.reg.lookup(oid)
		if err != nil {
			return err
		}
		next := e.props.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		if next.Equal(e.props) {
			return nil
		}
		if err := s.checkProperties(e.kind, next); err != nil {
			return err
		}
		if next.DisplayName != e.props.DisplayName || next.Login != e.props.Login {
			key := g.parents[oid]
			if err := g.checkUnique(key.oid, key.rel, e.kind, next, oid); err != nil {
				return err
			}
		}
		g.setProperties(tx, e, next)
		return nil
	})
}

// Destroy removes oid and everything it owns. Children go bottom-up, then
// association entries in both directions, then the parent link.
func (s *Store) Destroy(ctx context.Context, oid domain.OID) error {
	return s.update(ctx, "destroy", func(_ context.Context, tx *txn) error {
		e, err := s.state.reg.lookup(oid)
		if err != nil {
			return err
		}
		s.state.destroy(tx, e)
		return nil
	})
}

func (g *graphState) destroy(tx *txn, e *entity) {
	specs := domain.RelationsOf(e.kind)
	for _, spec := range specs {
		if spec.Type != domain.Aggregation {
			continue
		}
		list := g.childrenOf(e.oid, spec.Name)
		for _, child := range slices.Backward(list) {
			g.destroy(tx, g.reg.live[child])
		}
	}
	for _, spec := range specs {
		if spec.Type != domain.Association {
			continue
		}
		for _, m := range g.membersOf(e.oid, spec.Name) {
			g.unlink(tx, e, spec, g.reg.live[m])
		}
	}
	for _, ref := range g.referrers(e.oid) {
		g.removeMember(tx, g.reg.live[ref.oid], ref.rel, e)
	}
	g.removeChild(tx, e)
	g.assertDetached(e)
	g.reg.markDead(e)
	tx.onUndo(func() { g.reg.revive(e) })
	tx.destroyed(e)
}

func (s *Store) checkProperties(kind domain.Kind, p domain.Properties) error {
	if !p.Equal(p.Mask(kind)) {
		return incompatible("%s does not carry every supplied property", kind)
	}
	if v, ok := domain.CheckProperties(s.validator, kind, p); !ok {
		return &InvalidValueError{Kind: kind, Property: v.Property, Value: v.Value}
	}
	return nil
}

// checkUnique enforces sibling display names and store-wide logins. self is
// skipped so a rename to the current value passes.
func (g *graphState) checkUnique(parent domain.OID, rel domain.Relation, kind domain.Kind, p domain.Properties, self domain.OID) error {
	if kind.Has(domain.TraitNamed) {
		if other, ok := g.findSibling(parent, rel, p.DisplayName); ok && other != self {
			return alreadyExists("%s %q in %s.%s", kind, p.DisplayName, parent, rel)
		}
	}
	if kind.Has(domain.TraitLogin) {
		if other, ok := g.findLogin(p.Login); ok && other != self {
			return alreadyExists("login %q", p.Login)
		}
	}
	return nil
}
