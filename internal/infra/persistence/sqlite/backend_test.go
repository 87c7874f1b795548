package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"worktally/pkg/domain"
)

func sampleGraph() domain.Graph {
	g := domain.NewGraph()
	g.NextOID = 6
	g.Roots[domain.RelUsers] = []domain.OID{1}
	g.Roots[domain.RelPublicActivities] = []domain.OID{4, 3}
	g.Records[1] = domain.Record{OID: 1, Kind: domain.KindUser,
		Properties:   map[string]string{"displayName": "Ann", "enabled": "true"},
		Aggregations: map[domain.Relation][]domain.OID{domain.RelAccounts: {2}}}
	g.Records[2] = domain.Record{OID: 2, Kind: domain.KindAccount,
		Properties: map[string]string{"login": "ann"}}
	g.Records[3] = domain.Record{OID: 3, Kind: domain.KindPublicActivity,
		Properties: map[string]string{"displayName": "Coding"}}
	g.Records[4] = domain.Record{OID: 4, Kind: domain.KindPublicActivity,
		Properties:   map[string]string{"displayName": "Review"},
		Associations: map[domain.Relation][]domain.OID{domain.RelWorkloads: {5}}}
	g.Records[5] = domain.Record{OID: 5, Kind: domain.KindProject,
		Properties:   map[string]string{"displayName": "Apollo"},
		Associations: map[domain.Relation][]domain.OID{domain.RelContributingActivities: {4}}}
	g.Roots[domain.RelProjects] = []domain.OID{5}
	return g
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.db")
	store, err := Open(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	want := sampleGraph()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
	if reopened.Location() != "sqlite:"+path {
		t.Fatalf("unexpected location %q", reopened.Location())
	}
}

func TestApplyDeltaMatchesGraphApply(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "delta.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	want := sampleGraph()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	d := domain.Delta{
		Deletes: []domain.OID{3},
		Upserts: []domain.Record{
			{OID: 4, Kind: domain.KindPublicActivity, Properties: map[string]string{"displayName": "Code review"}},
			{OID: 5, Kind: domain.KindProject, Properties: map[string]string{"displayName": "Apollo"}},
			{OID: 6, Kind: domain.KindBeneficiary, Properties: map[string]string{"displayName": "ACME"}},
		},
		Roots: map[domain.Relation][]domain.OID{
			domain.RelUsers:            {1},
			domain.RelPublicActivities: {4},
			domain.RelProjects:         {5},
			domain.RelBeneficiaries:    {6},
		},
		NextOID: 7,
	}
	if err := store.Apply(ctx, d); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want.Apply(d)

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delta mismatch:\n got %#v\nwant %#v", got, want)
	}
}
