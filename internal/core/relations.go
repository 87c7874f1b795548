package core

import (
	"cmp"
	"fmt"
	"slices"

	"worktally/pkg/domain"
)

// slot addresses one relation of one entity; the root uses domain.RootOID.
type slot struct {
	oid domain.OID
	rel domain.Relation
}

// graphState is the arena: the registry plus relationship tables indexed by
// OID. Entities never point at each other directly.
type graphState struct {
	reg      *registry
	children map[slot][]domain.OID
	parents  map[domain.OID]slot
	members  map[slot][]domain.OID
}

func newGraphState() *graphState {
	return &graphState{
		reg:      newRegistry(),
		children: make(map[slot][]domain.OID),
		parents:  make(map[domain.OID]slot),
		members:  make(map[slot][]domain.OID),
	}
}

func (g *graphState) kindOf(oid domain.OID) domain.Kind {
	if oid == domain.RootOID {
		return domain.KindRoot
	}
	if e, ok := g.reg.any(oid); ok {
		return e.kind
	}
	return ""
}

// relationOf resolves rel on a live owner (or the root) and checks its type.
func (g *graphState) relationOf(oid domain.OID, rel domain.Relation, typ domain.RelationType) (domain.RelationSpec, error) {
	kind := domain.KindRoot
	if oid != domain.RootOID {
		e, err := g.reg.lookup(oid)
		if err != nil {
			return domain.RelationSpec{}, err
		}
		kind = e.kind
	}
	spec, ok := domain.LookupRelation(kind, rel)
	if !ok || spec.Type != typ {
		return domain.RelationSpec{}, incompatible("%s has no %s relation %q", kind, typ, rel)
	}
	return spec, nil
}

func (g *graphState) findSibling(parent domain.OID, rel domain.Relation, name string) (domain.OID, bool) {
	for _, oid := range g.children[slot{parent, rel}] {
		if e := g.reg.live[oid]; e != nil && e.kind.Has(domain.TraitNamed) && e.props.DisplayName == name {
			return oid, true
		}
	}
	return 0, false
}

func (g *graphState) findLogin(login string) (domain.OID, bool) {
	for _, user := range g.children[slot{domain.RootOID, domain.RelUsers}] {
		for _, acct := range g.children[slot{user, domain.RelAccounts}] {
			if e := g.reg.live[acct]; e != nil && e.props.Login == login {
				return acct, true
			}
		}
	}
	return 0, false
}

func (g *graphState) childrenOf(oid domain.OID, rel domain.Relation) []domain.OID {
	return slices.Clone(g.children[slot{oid, rel}])
}

func (g *graphState) membersOf(oid domain.OID, rel domain.Relation) []domain.OID {
	return slices.Clone(g.members[slot{oid, rel}])
}

func (g *graphState) hasMember(oid domain.OID, rel domain.Relation, target domain.OID) bool {
	_, found := slices.BinarySearch(g.members[slot{oid, rel}], target)
	return found
}

// addChild appends child to the parent's ordered list and records the
// parent pointer. The list entry references the child; the parent pointer
// references the parent unless the parent is the root.
func (g *graphState) addChild(tx *txn, parent domain.OID, rel domain.Relation, child *entity) {
	if _, ok := g.parents[child.oid]; ok {
		panic(fmt.Sprintf("core: oid %s already has a parent", child.oid))
	}
	key := slot{parent, rel}
	g.children[key] = append(g.children[key], child.oid)
	g.parents[child.oid] = key
	g.reg.retain(child)
	if p := g.reg.live[parent]; p != nil {
		g.reg.retain(p)
	}
	tx.touchOID(g, parent)
	tx.onUndo(func() { g.detachChild(child, len(g.children[key])-1) })
}

// removeChild unlinks child from its parent.
func (g *graphState) removeChild(tx *txn, child *entity) {
	key, ok := g.parents[child.oid]
	if !ok {
		return
	}
	idx := slices.Index(g.children[key], child.oid)
	g.detachChild(child, idx)
	tx.touchOID(g, key.oid)
	tx.onUndo(func() {
		list := g.children[key]
		g.children[key] = slices.Insert(list, idx, child.oid)
		g.parents[child.oid] = key
		g.reg.retain(child)
		if p := g.reg.live[key.oid]; p != nil {
			g.reg.retain(p)
		}
	})
}

func (g *graphState) detachChild(child *entity, idx int) {
	key := g.parents[child.oid]
	list := g.children[key]
	if idx < 0 || idx >= len(list) || list[idx] != child.oid {
		panic(fmt.Sprintf("core: child list of %s.%s out of sync for oid %s", key.oid, key.rel, child.oid))
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(g.children, key)
	} else {
		g.children[key] = list
	}
	delete(g.parents, child.oid)
	g.reg.release(child)
	if p := g.reg.live[key.oid]; p != nil {
		g.reg.release(p)
	}
}

// addMember inserts target into owner's association set. No-op when present.
func (g *graphState) addMember(tx *txn, owner *entity, rel domain.Relation, target *entity) {
	key := slot{owner.oid, rel}
	list := g.members[key]
	idx, found := slices.BinarySearch(list, target.oid)
	if found {
		return
	}
	g.members[key] = slices.Insert(list, idx, target.oid)
	g.reg.retain(target)
	tx.touch(owner)
	tx.onUndo(func() { g.dropMember(owner, rel, target) })
}

// removeMember deletes target from owner's association set. No-op when absent.
func (g *graphState) removeMember(tx *txn, owner *entity, rel domain.Relation, target *entity) {
	if !g.dropMember(owner, rel, target) {
		return
	}
	tx.touch(owner)
	tx.onUndo(func() {
		key := slot{owner.oid, rel}
		list := g.members[key]
		idx, _ := slices.BinarySearch(list, target.oid)
		g.members[key] = slices.Insert(list, idx, target.oid)
		g.reg.retain(target)
	})
}

func (g *graphState) dropMember(owner *entity, rel domain.Relation, target *entity) bool {
	key := slot{owner.oid, rel}
	list := g.members[key]
	idx, found := slices.BinarySearch(list, target.oid)
	if !found {
		return false
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(g.members, key)
	} else {
		g.members[key] = list
	}
	g.reg.release(target)
	return true
}

// setProperties replaces the scalar state of e.
func (g *graphState) setProperties(tx *txn, e *entity, props domain.Properties) {
	old := e.props
	e.props = props
	tx.touch(e)
	tx.onUndo(func() { e.props = old })
}

// link adds the edge (owner, spec, target) and its mirror. One-cardinality
// sets on either side are cleared first so the new edge replaces the old.
func (g *graphState) link(tx *txn, owner *entity, spec domain.RelationSpec, target *entity) {
	if g.hasMember(owner.oid, spec.Name, target.oid) {
		return
	}
	if spec.Cardinality == domain.One {
		for _, m := range g.membersOf(owner.oid, spec.Name) {
			g.unlink(tx, owner, spec, g.reg.live[m])
		}
	}
	if spec.Bidirectional() {
		inverse, _ := domain.LookupRelation(target.kind, spec.Inverse)
		if inverse.Cardinality == domain.One {
			for _, m := range g.membersOf(target.oid, inverse.Name) {
				g.unlink(tx, target, inverse, g.reg.live[m])
			}
		}
	}
	g.addMember(tx, owner, spec.Name, target)
	if spec.Bidirectional() {
		g.addMember(tx, target, spec.Inverse, owner)
	}
}

// unlink removes the edge (owner, spec, target) and its mirror.
func (g *graphState) unlink(tx *txn, owner *entity, spec domain.RelationSpec, target *entity) {
	g.removeMember(tx, owner, spec.Name, target)
	if spec.Bidirectional() {
		g.removeMember(tx, target, spec.Inverse, owner)
	}
}

// referrers lists the owners of uni-directional sets that contain oid. These
// are never mirrored, so finding them means scanning.
func (g *graphState) referrers(oid domain.OID) []slot {
	var out []slot
	for key, list := range g.members {
		spec, ok := domain.LookupRelation(g.kindOf(key.oid), key.rel)
		if !ok || spec.Bidirectional() {
			continue
		}
		if _, found := slices.BinarySearch(list, oid); found {
			out = append(out, key)
		}
	}
	slices.SortFunc(out, func(a, b slot) int {
		if c := cmp.Compare(a.oid, b.oid); c != 0 {
			return c
		}
		return cmp.Compare(a.rel, b.rel)
	})
	return out
}

// assertDetached panics unless e has no parent, children, or association
// entries of its own.
func (g *graphState) assertDetached(e *entity) {
	if _, ok := g.parents[e.oid]; ok {
		panic(fmt.Sprintf("core: destroying oid %s while still linked to a parent", e.oid))
	}
	for _, spec := range domain.RelationsOf(e.kind) {
		key := slot{e.oid, spec.Name}
		if len(g.children[key]) > 0 || len(g.members[key]) > 0 {
			panic(fmt.Sprintf("core: destroying oid %s with remaining %s entries", e.oid, spec.Name))
		}
	}
}

// ownerUser walks up the aggregation tree to the owning user, if any.
func (g *graphState) ownerUser(oid domain.OID) (domain.OID, bool) {
	for oid != domain.RootOID {
		if g.kindOf(oid) == domain.KindUser {
			return oid, true
		}
		key, ok := g.parents[oid]
		if !ok {
			return 0, false
		}
		oid = key.oid
	}
	return 0, false
}

// privateCompatible enforces that private activities and tasks relate only
// to objects of their owning user.
func (g *graphState) privateCompatible(a, b *entity) bool {
	if !a.kind.IsPrivate() && !b.kind.IsPrivate() {
		return true
	}
	if a.kind.IsWorkload() || b.kind.IsWorkload() || a.kind == domain.KindActivityType || b.kind == domain.KindActivityType {
		return true
	}
	ua, okA := g.ownerUser(a.oid)
	ub, okB := g.ownerUser(b.oid)
	return okA && okB && ua == ub
}
