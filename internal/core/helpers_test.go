package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"worktally/internal/infra/persistence/memory"
	"worktally/pkg/domain"
)

// eventLog records delivered events.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Notify(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) snapshot() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Event(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// waitEvents blocks until at least n events arrived.
func (l *eventLog) waitEvents(t *testing.T, n int) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := l.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, got %v", n, got)
		}
		time.Sleep(time.Millisecond)
	}
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	s       *Store
	backend *memory.Backend
	log     *eventLog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return openFixture(t, memory.New(t.Name()), opts...)
}

func openFixture(t *testing.T, backend domain.Backend, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := OpenStore(ctx, backend, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := &eventLog{}
	s.Subscribe(log)
	t.Cleanup(func() { _ = s.Close(ctx) })
	f := &fixture{t: t, ctx: ctx, s: s, log: log}
	if mb, ok := backend.(*memory.Backend); ok {
		f.backend = mb
	}
	return f
}

func (f *fixture) create(parent domain.OID, rel domain.Relation, props domain.Properties) domain.OID {
	f.t.Helper()
	oid, err := f.s.Create(f.ctx, parent, rel, props)
	if err != nil {
		f.t.Fatalf("create %s.%s: %v", parent, rel, err)
	}
	return oid
}

func (f *fixture) user(name string) domain.OID {
	return f.create(domain.RootOID, domain.RelUsers, domain.Properties{Person: domain.Person{RealName: name}, Enabled: true})
}

func (f *fixture) account(user domain.OID, login string) domain.OID {
	return f.create(user, domain.RelAccounts, accountProps(login))
}

func accountProps(login string) domain.Properties {
	return domain.Properties{
		Credential: domain.Credential{
			Login:        login,
			PasswordHash: domain.HashPassword(login + "-secret"),
			Capabilities: domain.CapLogWork,
		},
		Enabled: true,
	}
}

func named(name string) domain.Properties {
	return domain.Properties{Named: domain.Named{DisplayName: name}}
}

func (f *fixture) named(parent domain.OID, rel domain.Relation, name string) domain.OID {
	return f.create(parent, rel, named(name))
}

func workProps(start time.Time) domain.Properties {
	return domain.Properties{Interval: domain.Interval{StartedAt: start, FinishedAt: start.Add(time.Hour)}}
}

func (f *fixture) related(oid domain.OID, rel domain.Relation) []domain.OID {
	f.t.Helper()
	out, err := f.s.Related(f.ctx, oid, rel)
	if err != nil {
		f.t.Fatalf("related %s.%s: %v", oid, rel, err)
	}
	return out
}

func (f *fixture) state(oid domain.OID) domain.State {
	f.t.Helper()
	st, err := f.s.State(f.ctx, oid)
	if err != nil {
		f.t.Fatalf("state %s: %v", oid, err)
	}
	return st
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// flakyBackend wraps a memory backend as a delta backend whose Apply and
// Save can be told to fail.
type flakyBackend struct {
	*memory.Backend
	mu        sync.Mutex
	failApply bool
	failSave  bool
	applied   []domain.Delta
}

func (b *flakyBackend) Apply(ctx context.Context, d domain.Delta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failApply {
		return errors.New("disk full")
	}
	b.applied = append(b.applied, d)
	g := b.Snapshot()
	g.Apply(d)
	return b.Backend.Save(ctx, g)
}

func (b *flakyBackend) Save(ctx context.Context, g domain.Graph) error {
	b.mu.Lock()
	fail := b.failSave
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Save(ctx, g)
}

func (b *flakyBackend) setFailApply(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failApply = v
}

func (b *flakyBackend) deltas() []domain.Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Delta(nil), b.applied...)
}
