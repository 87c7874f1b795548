package domain

import "testing"

func TestCatalogueInversesPointBack(t *testing.T) {
	for _, kind := range append([]Kind{KindRoot}, Kinds()...) {
		for _, spec := range RelationsOf(kind) {
			if !spec.Bidirectional() {
				continue
			}
			for _, target := range spec.Targets {
				inverse, ok := LookupRelation(target, spec.Inverse)
				if !ok {
					t.Fatalf("%s.%s: target %s lacks inverse %s", kind, spec.Name, target, spec.Inverse)
				}
				if inverse.Type != Association || inverse.Inverse != spec.Name {
					t.Fatalf("%s.%s: inverse %s.%s does not point back (got %q)", kind, spec.Name, target, inverse.Name, inverse.Inverse)
				}
				if !inverse.Accepts(kind) {
					t.Fatalf("%s.%s: inverse %s.%s does not accept %s", kind, spec.Name, target, inverse.Name, kind)
				}
			}
		}
	}
}

func TestEveryKindHasAnOwner(t *testing.T) {
	for _, kind := range Kinds() {
		if len(OwningRelations(kind)) == 0 {
			t.Fatalf("kind %s has no owning aggregation", kind)
		}
	}
	if rel, ok := RootRelation(KindProject); !ok || rel != RelProjects {
		t.Fatalf("expected projects root relation, got %q %v", rel, ok)
	}
	if _, ok := RootRelation(KindAccount); ok {
		t.Fatalf("accounts must not be top-level")
	}
	owners := OwningRelations(KindProject)
	if len(owners) != 2 {
		t.Fatalf("project should be owned by root or a project, got %d owners", len(owners))
	}
}

func TestQuickPicksAreUnidirectional(t *testing.T) {
	spec, ok := LookupRelation(KindAccount, RelQuickPicks)
	if !ok {
		t.Fatalf("quick picks relation missing")
	}
	if spec.Bidirectional() {
		t.Fatalf("quick picks must not be mirrored")
	}
	if !spec.Accepts(KindPrivateTask) || spec.Accepts(KindProject) {
		t.Fatalf("unexpected quick pick targets %v", spec.Targets)
	}
}

func TestKindTraits(t *testing.T) {
	cases := []struct {
		kind   Kind
		trait  Trait
		expect bool
	}{
		{KindPublicTask, TraitCompletion, true},
		{KindPublicActivity, TraitCompletion, false},
		{KindProject, TraitCompletion, true},
		{KindAccount, TraitLogin, true},
		{KindUser, TraitLogin, false},
		{KindWork, TraitInterval, true},
		{KindRoot, TraitNamed, false},
	}
	for _, tc := range cases {
		if got := tc.kind.Has(tc.trait); got != tc.expect {
			t.Errorf("%s.Has(%d) = %v, want %v", tc.kind, tc.trait, got, tc.expect)
		}
	}
	if KindRoot.Valid() {
		t.Fatalf("root is not an entity kind")
	}
	if !KindPrivateTask.IsActivity() || !KindPrivateTask.IsPrivate() || !KindPrivateTask.IsTask() {
		t.Fatalf("private task classification wrong")
	}
}
