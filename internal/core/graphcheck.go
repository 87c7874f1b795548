package core

import (
	"fmt"
	"maps"
	"slices"

	"worktally/pkg/domain"
)

func corrupt(address string, oid domain.OID, format string, args ...any) *CorruptError {
	return &CorruptError{Address: address, OID: oid, Reason: fmt.Sprintf(format, args...)}
}

// checker walks the arena depth-first from the root and stops at the first
// broken invariant.
type checker struct {
	g         *graphState
	validator domain.Validator
	address   string
	visited   map[domain.OID]bool
	logins    map[string]domain.OID
}

// check validates the whole arena. With orphans set, live entities that are
// not reachable from the root also corrupt the store.
func (g *graphState) check(v domain.Validator, address string, orphans bool) *CorruptError {
	c := &checker{
		g:         g,
		validator: v,
		address:   address,
		visited:   make(map[domain.OID]bool, len(g.reg.live)),
		logins:    make(map[string]domain.OID),
	}
	if err := c.strays(); err != nil {
		return err
	}
	if err := c.validateFrom(domain.RootOID, domain.KindRoot); err != nil {
		return err
	}
	if orphans {
		for _, oid := range slices.Sorted(maps.Keys(g.reg.live)) {
			if !c.visited[oid] {
				return corrupt(address, oid, "%s is not reachable from the root", g.reg.live[oid].kind)
			}
		}
	}
	return nil
}

// strays rejects table entries whose owner is not live.
func (c *checker) strays() *CorruptError {
	var bad []domain.OID
	for key := range c.g.children {
		if _, ok := c.g.reg.live[key.oid]; !ok && key.oid != domain.RootOID {
			bad = append(bad, key.oid)
		}
	}
	for key := range c.g.members {
		if _, ok := c.g.reg.live[key.oid]; !ok {
			bad = append(bad, key.oid)
		}
	}
	for oid := range c.g.parents {
		if _, ok := c.g.reg.live[oid]; !ok {
			bad = append(bad, oid)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	oid := slices.Min(bad)
	return corrupt(c.address, oid, "relationship entries held by an entity that is not live")
}

func (c *checker) validateFrom(oid domain.OID, kind domain.Kind) *CorruptError {
	for _, spec := range domain.RelationsOf(kind) {
		key := slot{oid, spec.Name}
		var err *CorruptError
		switch spec.Type {
		case domain.Aggregation:
			err = c.children(key, spec)
		case domain.Association:
			err = c.associations(key, spec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) children(key slot, spec domain.RelationSpec) *CorruptError {
	names := make(map[string]domain.OID)
	for _, child := range c.g.children[key] {
		e, ok := c.g.reg.live[child]
		if !ok {
			return corrupt(c.address, child, "child of %s.%s is not live", key.oid, key.rel)
		}
		if !spec.Accepts(e.kind) {
			return corrupt(c.address, child, "%s cannot be a child in %s.%s", e.kind, spec.Owner, spec.Name)
		}
		if c.g.parents[child] != key {
			return corrupt(c.address, child, "parent pointer does not match owning list %s.%s", key.oid, key.rel)
		}
		if c.visited[child] {
			return corrupt(c.address, child, "appears in more than one child list")
		}
		c.visited[child] = true
		if e.kind.Has(domain.TraitNamed) {
			if prev, dup := names[e.props.DisplayName]; dup {
				return corrupt(c.address, child, "display name %q duplicates sibling %s", e.props.DisplayName, prev)
			}
			names[e.props.DisplayName] = child
		}
		if err := c.entity(e); err != nil {
			return err
		}
		if err := c.validateFrom(child, e.kind); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) associations(key slot, spec domain.RelationSpec) *CorruptError {
	list := c.g.members[key]
	if spec.Cardinality == domain.One && len(list) > 1 {
		return corrupt(c.address, key.oid, "%s holds %d members, at most one allowed", key.rel, len(list))
	}
	owner := c.g.reg.live[key.oid]
	for i, m := range list {
		if i > 0 && list[i-1] >= m {
			return corrupt(c.address, key.oid, "duplicate or unordered entry %s in %s", m, key.rel)
		}
		target, ok := c.g.reg.live[m]
		if !ok {
			return corrupt(c.address, key.oid, "%s refers to %s which is not live", key.rel, m)
		}
		if !spec.Accepts(target.kind) {
			return corrupt(c.address, key.oid, "%s refers to incompatible %s %s", key.rel, target.kind, m)
		}
		if spec.Bidirectional() && !c.g.hasMember(m, spec.Inverse, key.oid) {
			return corrupt(c.address, key.oid, "%s entry %s is not mirrored by %s", key.rel, m, spec.Inverse)
		}
		if owner != nil && !c.g.privateCompatible(owner, target) {
			return corrupt(c.address, key.oid, "%s refers to %s owned by another user", key.rel, m)
		}
	}
	return nil
}

func (c *checker) entity(e *entity) *CorruptError {
	if !e.props.Equal(e.props.Mask(e.kind)) {
		return corrupt(c.address, e.oid, "%s carries properties outside its traits", e.kind)
	}
	if violation, ok := domain.CheckProperties(c.validator, e.kind, e.props); !ok {
		return corrupt(c.address, e.oid, "invalid %s value %q", violation.Property, violation.Value)
	}
	if e.kind == domain.KindAccount {
		if prev, dup := c.logins[e.props.Login]; dup {
			return corrupt(c.address, e.oid, "login %q duplicates account %s", e.props.Login, prev)
		}
		c.logins[e.props.Login] = e.oid
	}
	return nil
}

// buildState reconstructs an arena from a serialized graph. Pass one walks
// the aggregations from the root, creating every entity with its recorded
// OID; pass two resolves association OIDs to the registered entities. The
// result is fully validated before it is returned.
func buildState(in domain.Graph, v domain.Validator, address string, orphans bool) (*graphState, *CorruptError) {
	g := newGraphState()
	tx := newTxn()
	seen := make(map[domain.OID]bool, len(in.Records))

	var create func(parent domain.OID, spec domain.RelationSpec, oid domain.OID) *CorruptError
	create = func(parent domain.OID, spec domain.RelationSpec, oid domain.OID) *CorruptError {
		if oid == domain.RootOID {
			return corrupt(address, parent, "%s lists the root oid", spec.Name)
		}
		if seen[oid] {
			return corrupt(address, oid, "oid appears more than once in the aggregation tree")
		}
		seen[oid] = true
		rec, ok := in.Records[oid]
		if !ok {
			return corrupt(address, oid, "%s.%s lists a missing record", parent, spec.Name)
		}
		if !spec.Accepts(rec.Kind) {
			return corrupt(address, oid, "%s cannot be a child in %s.%s", rec.Kind, spec.Owner, spec.Name)
		}
		props, err := deserializeProperties(rec.Kind, rec.Properties)
		if err != nil {
			return corrupt(address, oid, "%v", err)
		}
		e := &entity{oid: oid, kind: rec.Kind, props: props}
		g.reg.register(e)
		g.addChild(tx, parent, spec.Name, e)
		for rel := range rec.Aggregations {
			if s, ok := domain.LookupRelation(rec.Kind, rel); !ok || s.Type != domain.Aggregation {
				return corrupt(address, oid, "%s has no aggregation %q", rec.Kind, rel)
			}
		}
		for _, childSpec := range domain.RelationsOf(rec.Kind) {
			if childSpec.Type != domain.Aggregation {
				continue
			}
			for _, child := range rec.Aggregations[childSpec.Name] {
				if err := create(oid, childSpec, child); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for rel := range in.Roots {
		if _, ok := domain.LookupRelation(domain.KindRoot, rel); !ok {
			return nil, corrupt(address, domain.RootOID, "unknown root relation %q", rel)
		}
	}
	for _, spec := range domain.RelationsOf(domain.KindRoot) {
		for _, oid := range in.Roots[spec.Name] {
			if err := create(domain.RootOID, spec, oid); err != nil {
				return nil, err
			}
		}
	}

	oids := in.SortedOIDs()
	for _, oid := range oids {
		if !seen[oid] {
			return nil, corrupt(address, oid, "record is not reachable from the root")
		}
	}

	for _, oid := range oids {
		rec := in.Records[oid]
		owner := g.reg.live[oid]
		for rel, targets := range rec.Associations {
			spec, ok := domain.LookupRelation(rec.Kind, rel)
			if !ok || spec.Type != domain.Association {
				return nil, corrupt(address, oid, "%s has no association %q", rec.Kind, rel)
			}
			for _, t := range targets {
				target, ok := g.reg.live[t]
				if !ok {
					return nil, corrupt(address, oid, "%s refers to missing oid %s", rel, t)
				}
				if g.hasMember(oid, rel, t) {
					return nil, corrupt(address, oid, "duplicate entry %s in %s", t, rel)
				}
				g.addMember(tx, owner, rel, target)
			}
		}
	}

	next := in.NextOID
	if n := len(oids); n > 0 && oids[n-1] >= next {
		next = oids[n-1] + 1
	}
	if next < 1 {
		next = 1
	}
	g.reg.seed(next)

	if err := g.check(v, address, orphans); err != nil {
		return nil, err
	}
	return g, nil
}
