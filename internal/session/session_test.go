package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worktally/internal/core"
	"worktally/internal/infra/persistence/memory"
	"worktally/internal/notify"
	"worktally/pkg/domain"
)

type world struct {
	ctx   context.Context
	store *core.Store
	admin domain.OID
	alice domain.OID
	// accounts
	adminAcct domain.OID
	aliceAcct domain.OID
}

func newWorld(t *testing.T, opts ...core.Option) *world {
	t.Helper()
	ctx := context.Background()
	store, err := core.OpenStore(ctx, memory.New(t.Name()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	w := &world{ctx: ctx, store: store}
	w.admin, w.adminAcct = w.person(t, "Admin", "root", domain.CapAdministrator)
	w.alice, w.aliceAcct = w.person(t, "Alice", "alice", domain.CapLogWork)
	return w
}

func (w *world) person(t *testing.T, name, login string, caps domain.Capabilities) (domain.OID, domain.OID) {
	t.Helper()
	user, err := w.store.Create(w.ctx, domain.RootOID, domain.RelUsers, domain.Properties{
		Person:  domain.Person{RealName: name},
		Enabled: true,
	})
	require.NoError(t, err)
	acct, err := w.store.Create(w.ctx, user, domain.RelAccounts, domain.Properties{
		Credential: domain.Credential{Login: login, PasswordHash: domain.HashPassword(login + "-pw"), Capabilities: caps},
		Enabled:    true,
	})
	require.NoError(t, err)
	return user, acct
}

func (w *world) login(t *testing.T, login string) *Session {
	t.Helper()
	return w.open(t, NewCredentials(login, login+"-pw"))
}

func (w *world) open(t *testing.T, c Credentials) *Session {
	t.Helper()
	s, err := Open(w.ctx, w.store, c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(w.ctx) })
	return s
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var e *Error
	require.Truef(t, errors.As(err, &e), "expected *session.Error, got %T %v", err, err)
	require.Equalf(t, kind, e.Kind, "error %v", err)
}

func named(name string) domain.Properties {
	return domain.Properties{Named: domain.Named{DisplayName: name}}
}

func TestOpenResolvesCredentials(t *testing.T) {
	w := newWorld(t)
	s := w.login(t, "alice")
	g := s.Grant()
	require.Equal(t, ClassNormal, g.Class)
	require.Equal(t, w.aliceAcct, g.Account)
	require.Equal(t, w.alice, g.User)
	require.Equal(t, domain.CapLogWork, g.Capabilities)

	for name, c := range map[string]Credentials{
		"wrong password": NewCredentials("alice", "nope"),
		"unknown login":  NewCredentials("mallory", "x"),
		"zero value":     {},
	} {
		_, err := Open(w.ctx, w.store, c, nil)
		require.ErrorIs(t, err, ErrAccessDenied, name)
	}

	require.NoError(t, w.store.Update(w.ctx, w.alice, func(p *domain.Properties) error {
		p.Enabled = false
		return nil
	}))
	_, err := Open(w.ctx, w.store, NewCredentials("alice", "alice-pw"), nil)
	require.ErrorIs(t, err, ErrAccessDenied, "disabled user")
}

func TestCustomResolver(t *testing.T) {
	w := newWorld(t)
	resolver := ResolverFunc(func(_ context.Context, _ Accounts, c Credentials) (Grant, error) {
		if c.Login() != "robot" {
			return Grant{}, newError(AccessDenied, "open", 0, "unknown robot")
		}
		return Grant{Class: ClassRestore, Capabilities: domain.CapManageWorkloads}, nil
	})
	s, err := Open(w.ctx, w.store, NewCredentials("robot", ""), resolver)
	require.NoError(t, err)
	defer s.Close(w.ctx)
	// resolvers cannot mint maintenance classes
	require.Equal(t, ClassNormal, s.Grant().Class)
	_, err = s.CreateProject(w.ctx, named("Apollo"))
	require.NoError(t, err)
	_, err = s.CreateUser(w.ctx, domain.Properties{Person: domain.Person{RealName: "Bob"}})
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestSpecialCredentialClasses(t *testing.T) {
	w := newWorld(t)

	backup := w.open(t, BackupCredentials())
	user, err := backup.Proxy(w.ctx, w.alice)
	require.NoError(t, err)
	props, err := user.Properties(w.ctx)
	require.NoError(t, err)
	require.Equal(t, "Alice", props.RealName)
	requireKind(t, user.SetEnabled(w.ctx, false), AccessDenied)
	_, err = backup.Export(w.ctx)
	require.NoError(t, err)
	require.ErrorIs(t, backup.Restore(w.ctx, domain.NewGraph()), ErrAccessDenied)

	report := w.open(t, ReportCredentials())
	_, err = report.Export(w.ctx)
	require.ErrorIs(t, err, ErrAccessDenied)
	_, err = report.CreateProject(w.ctx, named("Nope"))
	require.ErrorIs(t, err, ErrAccessDenied)

	restore := w.open(t, RestoreCredentials())
	bob, err := restore.CreateUser(w.ctx, domain.Properties{Person: domain.Person{RealName: "Bob"}})
	require.NoError(t, err)
	require.NoError(t, bob.Destroy(w.ctx))
	_, err = restore.Account(w.ctx)
	require.ErrorIs(t, err, ErrDoesNotExist)
}

func TestProxyIdentityAndStaleness(t *testing.T) {
	w := newWorld(t)
	admin := w.login(t, "root")
	p1, err := admin.CreateProject(w.ctx, named("Apollo"))
	require.NoError(t, err)
	p2, err := admin.Proxy(w.ctx, p1.OID())
	require.NoError(t, err)
	require.Same(t, p1, p2)
	roots, err := admin.Roots(w.ctx, domain.RelProjects)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Same(t, p1, roots[0])

	other := w.login(t, "root")
	theirs, err := other.Proxy(w.ctx, p1.OID())
	require.NoError(t, err)
	require.NotSame(t, p1, theirs)
	refs, err := w.store.References(w.ctx, p1.OID())
	require.NoError(t, err)
	require.Equal(t, 4, refs, "registry, root list, and two proxies")

	require.NoError(t, theirs.Destroy(w.ctx))
	_, err = p1.Properties(w.ctx)
	require.ErrorIs(t, err, ErrInstanceDead)
	st, err := p1.State(w.ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateDead, st)
	requireKind(t, p1.SetDisplayName(w.ctx, "Zeus"), InstanceDead)

	stats, err := w.store.Stats(w.ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Reclaimed)
	require.NoError(t, other.Close(w.ctx))
	require.NoError(t, admin.Close(w.ctx))
	stats, err = w.store.Stats(w.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Reclaimed, "last proxy release reclaims the tombstone")

	_, err = admin.Roots(w.ctx, domain.RelProjects)
	require.ErrorIs(t, err, ErrStoreClosed)
	require.NoError(t, admin.Close(w.ctx))
}

func TestAccessTable(t *testing.T) {
	w := newWorld(t)
	admin := w.login(t, "root")
	alice := w.login(t, "alice")
	ctx := w.ctx

	activity, err := admin.CreatePublicActivity(ctx, named("Coding"))
	require.NoError(t, err)
	project, err := admin.CreateProject(ctx, named("Apollo"))
	require.NoError(t, err)

	_, err = alice.CreateProject(ctx, named("Mine"))
	require.ErrorIs(t, err, ErrAccessDenied)

	self, err := alice.Proxy(ctx, w.alice)
	require.NoError(t, err)
	_, err = self.Properties(ctx)
	require.NoError(t, err)
	boss, err := alice.Proxy(ctx, w.admin)
	require.NoError(t, err)
	_, err = boss.Properties(ctx)
	require.ErrorIs(t, err, ErrAccessDenied)

	private, err := self.CreateChild(ctx, domain.RelPrivateActivities, named("Secret"))
	require.NoError(t, err, "owner creates private activities")
	_, err = boss.CreateChild(ctx, domain.RelPrivateActivities, named("Secret"))
	require.ErrorIs(t, err, ErrAccessDenied)
	require.NoError(t, private.AddWorkload(ctx, mustProxy(t, alice, project.OID())))

	acct, err := alice.Account(ctx)
	require.NoError(t, err)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	work, err := acct.CreateWork(ctx, mustProxy(t, alice, activity.OID()), domain.Interval{StartedAt: start, FinishedAt: start.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, work.Update(ctx, func(p *domain.Properties) error {
		p.Comment = "pairing"
		return nil
	}))
	bossAcct := mustProxy(t, alice, w.adminAcct)
	_, err = bossAcct.CreateWork(ctx, mustProxy(t, alice, activity.OID()), domain.Interval{StartedAt: start, FinishedAt: start.Add(time.Hour)})
	require.ErrorIs(t, err, ErrAccessDenied)

	adminWork := mustProxy(t, admin, work.OID())
	props, err := adminWork.Properties(ctx)
	require.NoError(t, err)
	require.Equal(t, "pairing", props.Comment)

	require.NoError(t, acct.SetPassword(ctx, "fresh"), "own password")
	requireKind(t, acct.SetLogin(ctx, "alicia"), AccessDenied)
	_, err = Open(ctx, w.store, NewCredentials("alice", "fresh"), nil)
	require.NoError(t, err)
	require.NoError(t, mustProxy(t, admin, w.aliceAcct).SetLogin(ctx, "alicia"))
}

func mustProxy(t *testing.T, s *Session, oid domain.OID) *Proxy {
	t.Helper()
	p, err := s.Proxy(context.Background(), oid)
	require.NoError(t, err)
	return p
}

func TestErrorsDoNotLeakCoreTypes(t *testing.T) {
	w := newWorld(t)
	admin := w.login(t, "root")
	_, err := admin.CreateProject(w.ctx, named("Apollo"))
	require.NoError(t, err)

	_, err = admin.CreateProject(w.ctx, named("Apollo"))
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.False(t, errors.Is(err, core.ErrAlreadyExists))
	var invalid *core.InvalidValueError
	_, err = admin.CreateProject(w.ctx, named(""))
	require.ErrorIs(t, err, ErrInvalidPropertyValue)
	require.False(t, errors.As(err, &invalid))

	acct := mustProxy(t, admin, w.adminAcct)
	requireKind(t, acct.SetQuickPicks(w.ctx, nil), NotImplemented)
	_, err = acct.CreateEvent(w.ctx, domain.Occurrence{OccurredAt: time.Now(), Summary: "x"})
	require.ErrorIs(t, err, ErrNotImplemented)
	_, err = admin.Proxy(w.ctx, 999)
	require.ErrorIs(t, err, ErrDoesNotExist)

	other := w.login(t, "root")
	activity, err := admin.CreatePublicActivity(w.ctx, named("Coding"))
	require.NoError(t, err)
	foreign := mustProxy(t, other, activity.OID())
	_, err = acct.CreateWork(w.ctx, foreign, domain.Interval{StartedAt: time.Now(), FinishedAt: time.Now()})
	require.ErrorIs(t, err, ErrIncompatibleInstance)

	err = activity.Update(w.ctx, func(*domain.Properties) error { return errors.New("refused") })
	requireKind(t, err, InvalidPropertyValue)
}

func TestCorruptStoreClosesSession(t *testing.T) {
	w := newWorld(t)
	admin := w.login(t, "root")
	w.store.MarkCorrupt(&core.CorruptError{Address: w.store.Location(), OID: w.alice, Reason: "test"})

	_, err := admin.CreateProject(w.ctx, named("Apollo"))
	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, StoreCorrupt, e.Kind)
	require.Equal(t, w.store.Location(), e.StoreAddress)
	require.True(t, admin.Closed())

	_, err = admin.Roots(w.ctx, domain.RelUsers)
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestValidateReportsCorruption(t *testing.T) {
	w := newWorld(t)
	s := w.login(t, "root")
	require.NoError(t, s.Validate(w.ctx))
	stats, err := s.Stats(w.ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Live)
}

func TestClosedStore(t *testing.T) {
	w := newWorld(t)
	s := w.login(t, "root")
	require.NoError(t, w.store.Close(w.ctx))
	_, err := s.Roots(w.ctx, domain.RelUsers)
	require.ErrorIs(t, err, ErrStoreClosed)
	require.NoError(t, s.Close(w.ctx))
}

func TestLockTimeout(t *testing.T) {
	w := newWorld(t, core.WithLockTimeout(20*time.Millisecond))
	s := w.login(t, "root")
	_, release, err := w.store.Guard().Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = s.Roots(context.Background(), domain.RelUsers)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestRenameLoginPostsOneEvent(t *testing.T) {
	w := newWorld(t)
	admin := w.login(t, "root")
	acct := mustProxy(t, admin, w.aliceAcct)

	var (
		mu     sync.Mutex
		events []domain.Event
	)
	// setup events may still be in flight; only account modifications count
	unsubscribe := w.store.Subscribe(notify.ObserverFunc(func(_ context.Context, e domain.Event) error {
		if e.OID != w.aliceAcct || e.Type != domain.EventModified {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}))
	defer unsubscribe()

	require.NoError(t, acct.SetLogin(w.ctx, "alice2"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, time.Millisecond)
	mu.Lock()
	require.Equal(t, domain.ModifiedEvent(domain.KindAccount, w.aliceAcct).String(), events[0].String())
	mu.Unlock()

	_, err := admin.FindAccount(w.ctx, "alice")
	require.ErrorIs(t, err, ErrDoesNotExist)
	found, err := admin.FindAccount(w.ctx, "alice2")
	require.NoError(t, err)
	require.Same(t, acct, found)
}
