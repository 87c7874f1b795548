package archive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worktally/internal/blob"
	"worktally/internal/core"
	"worktally/internal/infra/persistence/memory"
	"worktally/internal/session"
	"worktally/pkg/domain"
)

func openStore(t *testing.T, name string) *core.Store {
	t.Helper()
	ctx := context.Background()
	s, err := core.OpenStore(ctx, memory.New(name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

// populate builds a user with an account, a project and an activity that
// works on it.
func populate(t *testing.T, s *core.Store) {
	t.Helper()
	ctx := context.Background()
	user, err := s.Create(ctx, domain.RootOID, domain.RelUsers, domain.Properties{Person: domain.Person{RealName: "Dana"}, Enabled: true})
	require.NoError(t, err)
	_, err = s.Create(ctx, user, domain.RelAccounts, domain.Properties{
		Credential: domain.Credential{Login: "dana", PasswordHash: domain.HashPassword("dana-pw"), Capabilities: domain.CapLogWork},
		Enabled:    true,
	})
	require.NoError(t, err)
	project, err := s.Create(ctx, domain.RootOID, domain.RelProjects, domain.Properties{Named: domain.Named{DisplayName: "Roadworks"}})
	require.NoError(t, err)
	activity, err := s.Create(ctx, domain.RootOID, domain.RelPublicActivities, domain.Properties{Named: domain.Named{DisplayName: "Paving"}})
	require.NoError(t, err)
	require.NoError(t, s.AddWorkload(ctx, activity, project))
}

func openSession(t *testing.T, s *core.Store, c session.Credentials) *session.Session {
	t.Helper()
	ss, err := session.Open(context.Background(), s, c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close(context.Background()) })
	return ss
}

func TestBackupAndRestoreThroughEveryDriver(t *testing.T) {
	stores := map[string]blob.Store{
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests(),
	}
	fs, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	stores["fs"] = fs

	for name, blobs := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := openStore(t, "src-"+name)
			populate(t, src)
			a := New(blobs)

			b, err := a.Backup(ctx, openSession(t, src, session.BackupCredentials()))
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(b.Key, "backups/"+src.ID()+"/"), b.Key)
			require.Positive(t, b.Size)

			dst := openStore(t, "dst-"+name)
			require.NoError(t, a.Restore(ctx, openSession(t, dst, session.RestoreCredentials()), b.Key))

			want, err := src.Export(ctx)
			require.NoError(t, err)
			got, err := dst.Export(ctx)
			require.NoError(t, err)
			require.Equal(t, want.Roots, got.Roots)
			require.Equal(t, want.Records, got.Records)

			acct, err := dst.FindAccount(ctx, "dana")
			require.NoError(t, err)
			require.NotZero(t, acct)
		})
	}
}

func TestBackupNeedsRights(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "rights")
	populate(t, src)
	a := New(blob.NewMemory())

	_, err := a.Backup(ctx, openSession(t, src, session.NewCredentials("dana", "dana-pw")))
	require.ErrorIs(t, err, session.ErrAccessDenied)

	b, err := a.Backup(ctx, openSession(t, src, session.RestoreCredentials()))
	require.NoError(t, err, "restore credentials include backup")

	other := openStore(t, "rights-other")
	err = a.Restore(ctx, openSession(t, other, session.BackupCredentials()), b.Key)
	require.ErrorIs(t, err, session.ErrAccessDenied)
}

func TestRestoreRefusesPopulatedStore(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "full")
	populate(t, src)
	a := New(blob.NewMemory())
	b, err := a.Backup(ctx, openSession(t, src, session.BackupCredentials()))
	require.NoError(t, err)

	err = a.Restore(ctx, openSession(t, src, session.RestoreCredentials()), b.Key)
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestRestoreRejectsDamagedDocuments(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	a := New(blobs)
	_, err := blobs.Put(ctx, "backups/x/broken.xml", strings.NewReader("<worktally version=\"1\"><users>"), blob.PutOptions{})
	require.NoError(t, err)

	dst := openStore(t, "damaged")
	err = a.Restore(ctx, openSession(t, dst, session.RestoreCredentials()), "backups/x/broken.xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")

	err = a.Restore(ctx, openSession(t, dst, session.RestoreCredentials()), "backups/x/missing.xml")
	require.True(t, errors.Is(err, blob.ErrNotFound), "got %v", err)
}

func TestListLatestAndPrune(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "history")
	populate(t, src)
	blobs := blob.NewMemory()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	a := New(blobs, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}))

	_, err := a.Latest(ctx, src.ID())
	require.ErrorIs(t, err, ErrNoBackups)

	ss := openSession(t, src, session.BackupCredentials())
	var keys []string
	for i := 0; i < 4; i++ {
		b, err := a.Backup(ctx, ss)
		require.NoError(t, err)
		keys = append(keys, b.Key)
	}
	_, err = blobs.Put(ctx, "backups/"+src.ID()+"/notes.txt", strings.NewReader("ignored"), blob.PutOptions{})
	require.NoError(t, err)

	list, err := a.List(ctx, src.ID())
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, b := range list {
		require.Equal(t, keys[i], b.Key)
		require.Equal(t, base.Add(time.Duration(i+1)*time.Hour), b.Created)
	}
	latest, err := a.Latest(ctx, src.ID())
	require.NoError(t, err)
	require.Equal(t, keys[3], latest.Key)

	removed, err := a.Prune(ctx, src.ID(), 1)
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	list, err = a.List(ctx, src.ID())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, keys[3], list[0].Key)

	var doc bytes.Buffer
	require.NoError(t, a.Fetch(ctx, latest.Key, &doc))
	require.Contains(t, doc.String(), "<worktally")
}

func TestParseKey(t *testing.T) {
	created := time.Date(2026, 10, 18, 12, 30, 0, 5, time.UTC)
	key := backupKey("store-1", created)
	b, ok := parseKey(key)
	require.True(t, ok)
	require.Equal(t, "store-1", b.StoreID)
	require.True(t, created.Equal(b.Created))

	for _, bad := range []string{"backups/s/x.xml", "other/s/20260101T000000.000000000Z-" + "00000000-0000-0000-0000-000000000000.xml", "backups/s/deep/k.xml"} {
		_, ok := parseKey(bad)
		require.False(t, ok, bad)
	}
}
