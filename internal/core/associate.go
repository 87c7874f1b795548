package core

import (
	"context"
	"fmt"
	"slices"

	"worktally/pkg/domain"
)

// Link adds target to the association oid.rel and, for mirrored relations,
// oid to the inverse set on target.
func (s *Store) Link(ctx context.Context, oid domain.OID, rel domain.Relation, target domain.OID) error {
	return s.update(ctx, "link", func(_ context.Context, tx *txn) error {
		owner, spec, err := s.association(oid, rel)
		if err != nil {
			return err
		}
		t, err := s.state.reg.lookup(target)
		if err != nil {
			return err
		}
		if err := s.state.associable(owner, spec, t); err != nil {
			return err
		}
		s.state.link(tx, owner, spec, t)
		return nil
	})
}

// Unlink removes target from oid.rel and the mirrored entry. Removing an
// absent member is a no-op.
func (s *Store) Unlink(ctx context.Context, oid domain.OID, rel domain.Relation, target domain.OID) error {
	return s.update(ctx, "unlink", func(_ context.Context, tx *txn) error {
		owner, spec, err := s.association(oid, rel)
		if err != nil {
			return err
		}
		t, err := s.state.reg.lookup(target)
		if err != nil {
			return err
		}
		if !spec.Accepts(t.kind) {
			return incompatible("%s.%s cannot hold %s", owner.kind, rel, t.kind)
		}
		s.state.unlink(tx, owner, spec, t)
		return nil
	})
}

// SetRelated replaces the members of oid.rel with targets. Edges that leave
// are removed before edges that arrive.
func (s *Store) SetRelated(ctx context.Context, oid domain.OID, rel domain.Relation, targets []domain.OID) error {
	return s.update(ctx, "set_related", func(_ context.Context, tx *txn) error {
		return s.setRelated(tx, oid, rel, targets)
	})
}

func (s *Store) setRelated(tx *txn, oid domain.OID, rel domain.Relation, targets []domain.OID) error {
	g := s.state
	owner, spec, err := s.association(oid, rel)
	if err != nil {
		return err
	}
	want := slices.Clone(targets)
	slices.Sort(want)
	want = slices.Compact(want)
	if spec.Cardinality == domain.One && len(want) > 1 {
		return fmt.Errorf("%s.%s takes at most one member, got %d: %w", owner.kind, rel, len(want), ErrInvalidValue)
	}
	resolved := make([]*entity, 0, len(want))
	for _, m := range want {
		t, err := g.reg.lookup(m)
		if err != nil {
			return err
		}
		if err := g.associable(owner, spec, t); err != nil {
			return err
		}
		resolved = append(resolved, t)
	}
	for _, m := range g.membersOf(owner.oid, rel) {
		if _, keep := slices.BinarySearch(want, m); !keep {
			g.unlink(tx, owner, spec, g.reg.live[m])
		}
	}
	for _, t := range resolved {
		g.link(tx, owner, spec, t)
	}
	return nil
}

// AddWorkload attaches a project or work stream to an activity.
func (s *Store) AddWorkload(ctx context.Context, activity, workload domain.OID) error {
	return s.Link(ctx, activity, domain.RelWorkloads, workload)
}

// RemoveWorkload detaches a workload from an activity.
func (s *Store) RemoveWorkload(ctx context.Context, activity, workload domain.OID) error {
	return s.Unlink(ctx, activity, domain.RelWorkloads, workload)
}

// SetWorkloads replaces the workloads of an activity.
func (s *Store) SetWorkloads(ctx context.Context, activity domain.OID, workloads []domain.OID) error {
	return s.SetRelated(ctx, activity, domain.RelWorkloads, workloads)
}

// SetActivityType binds an activity to a type; RootOID clears it.
func (s *Store) SetActivityType(ctx context.Context, activity, activityType domain.OID) error {
	return s.SetRelated(ctx, activity, domain.RelActivityType, optional(activityType))
}

// SetWorkActivity rebinds a work item; RootOID clears it.
func (s *Store) SetWorkActivity(ctx context.Context, work, activity domain.OID) error {
	return s.SetRelated(ctx, work, domain.RelActivity, optional(activity))
}

// SetQuickPicks is not supported; quick picks only arrive through loading.
func (s *Store) SetQuickPicks(context.Context, domain.OID, []domain.OID) error {
	return ErrNotImplemented
}

func optional(oid domain.OID) []domain.OID {
	if oid == domain.RootOID {
		return nil
	}
	return []domain.OID{oid}
}

func (s *Store) association(oid domain.OID, rel domain.Relation) (*entity, domain.RelationSpec, error) {
	if oid == domain.RootOID {
		return nil, domain.RelationSpec{}, incompatible("root has no associations")
	}
	spec, err := s.state.relationOf(oid, rel, domain.Association)
	if err != nil {
		return nil, spec, err
	}
	if rel == domain.RelQuickPicks {
		return nil, spec, ErrNotImplemented
	}
	return s.state.reg.live[oid], spec, nil
}

// associable checks that target may join owner's spec set.
func (g *graphState) associable(owner *entity, spec domain.RelationSpec, target *entity) error {
	if !spec.Accepts(target.kind) {
		return incompatible("%s.%s cannot hold %s", owner.kind, spec.Name, target.kind)
	}
	if !g.privateCompatible(owner, target) {
		return incompatible("%s %s and %s %s belong to different users", owner.kind, owner.oid, target.kind, target.oid)
	}
	return nil
}
