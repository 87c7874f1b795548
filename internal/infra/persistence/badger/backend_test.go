package badger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"worktally/pkg/domain"
)

func sampleGraph() domain.Graph {
	g := domain.NewGraph()
	g.NextOID = 4
	g.Roots[domain.RelProjects] = []domain.OID{1}
	g.Roots[domain.RelBeneficiaries] = []domain.OID{3}
	g.Records[1] = domain.Record{OID: 1, Kind: domain.KindProject,
		Properties:   map[string]string{"displayName": "Apollo"},
		Aggregations: map[domain.Relation][]domain.OID{domain.RelChildren: {2}},
		Associations: map[domain.Relation][]domain.OID{domain.RelBeneficiaries: {3}}}
	g.Records[2] = domain.Record{OID: 2, Kind: domain.KindProject,
		Properties: map[string]string{"displayName": "Lander"}}
	g.Records[3] = domain.Record{OID: 3, Kind: domain.KindBeneficiary,
		Properties:   map[string]string{"displayName": "NASA"},
		Associations: map[domain.Relation][]domain.OID{domain.RelWorkloads: {1}}}
	return g
}

func TestSaveLoadRoundTripInMemory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(Config{InMemory: true, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	empty, err := b.Load(ctx)
	require.NoError(t, err)
	require.True(t, empty.Empty())
	require.Equal(t, domain.OID(1), empty.NextOID)

	want := sampleGraph()
	require.NoError(t, b.Save(ctx, want))
	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, "badger:memory", b.Location())
}

func TestApplyDeltaPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := Open(Config{Path: dir})
	require.NoError(t, err)
	want := sampleGraph()
	require.NoError(t, b.Save(ctx, want))

	d := domain.Delta{
		Deletes: []domain.OID{3},
		Upserts: []domain.Record{{OID: 1, Kind: domain.KindProject,
			Properties:   map[string]string{"displayName": "Apollo"},
			Aggregations: map[domain.Relation][]domain.OID{domain.RelChildren: {2}}}},
		Roots:   map[domain.Relation][]domain.OID{domain.RelProjects: {1}},
		NextOID: 5,
	}
	require.NoError(t, b.Apply(ctx, d))
	want.Apply(d)
	require.NoError(t, b.Close())

	reopened, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NotContains(t, got.Roots, domain.RelBeneficiaries)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestFailedSaveKeepsPreviousGraph(t *testing.T) {
	ctx := context.Background()
	b, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	want := sampleGraph()
	require.NoError(t, b.Save(ctx, want))

	// badger refuses keys this long, so the save fails after its deletes.
	bad := domain.NewGraph()
	bad.NextOID = 9
	bad.Roots[domain.Relation(strings.Repeat("r", 70000))] = []domain.OID{8}
	bad.Records[8] = domain.Record{OID: 8, Kind: domain.KindProject, Properties: map[string]string{"displayName": "X"}}
	require.Error(t, b.Save(ctx, bad))

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	smaller := domain.NewGraph()
	smaller.NextOID = 6
	smaller.Roots[domain.RelProjects] = []domain.OID{5}
	smaller.Records[5] = domain.Record{OID: 5, Kind: domain.KindProject, Properties: map[string]string{"displayName": "Gemini"}}
	require.NoError(t, b.Save(ctx, smaller))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, smaller, got)
}
