// Package core holds the persistent object graph: the identity registry, the
// relationship engine, the graph validator, and the transactional store that
// persists through a domain.Backend and notifies observers through a bus.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"worktally/internal/notify"
	"worktally/internal/validation"
	"worktally/pkg/domain"
)

// DefaultLockTimeout bounds guard acquisition when no timeout is configured.
const DefaultLockTimeout = 30 * time.Second

type options struct {
	logger        *slog.Logger
	validator     domain.Validator
	lockTimeout   time.Duration
	queueCapacity int
	registerer    prometheus.Registerer
	metrics       MetricsRecorder
	tracer        Tracer
	orphanCheck   bool
}

// Option configures OpenStore.
type Option func(*options)

// WithLogger sets the structured logger; nil discards.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithValidator replaces the default property rules.
func WithValidator(v domain.Validator) Option { return func(o *options) { o.validator = v } }

// WithLockTimeout bounds every guard acquisition.
func WithLockTimeout(d time.Duration) Option { return func(o *options) { o.lockTimeout = d } }

// WithQueueCapacity bounds the notification queue; zero is unbounded.
func WithQueueCapacity(n int) Option { return func(o *options) { o.queueCapacity = n } }

// WithRegisterer sets where the default metrics register.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// WithMetrics replaces the Prometheus recorder.
func WithMetrics(m MetricsRecorder) Option { return func(o *options) { o.metrics = m } }

// WithTracer replaces the OpenTelemetry tracer.
func WithTracer(t Tracer) Option { return func(o *options) { o.tracer = t } }

// WithOrphanCheck toggles reachability checking during full validation.
func WithOrphanCheck(enabled bool) Option { return func(o *options) { o.orphanCheck = enabled } }

// Stats summarizes the registry.
type Stats struct {
	Live      int
	Dead      int
	Reclaimed int
	NextOID   domain.OID
	Modified  bool
	Corrupt   bool
}

// Store is one open workspace. All state is guarded by a single reentrant
// guard; events are posted while the guard is held so observers see commit
// order.
type Store struct {
	id        string
	address   string
	backend   domain.Backend
	delta     domain.DeltaBackend
	validator domain.Validator
	orphans   bool
	logger    *slog.Logger
	metrics   MetricsRecorder
	tracer    Tracer

	guard    *Guard
	bus      *notify.Bus
	state    *graphState
	modified bool

	closed  atomic.Bool
	corrupt atomic.Pointer[CorruptError]
}

// OpenStore loads the backend's graph, validates it, and starts the
// notification bus.
func OpenStore(ctx context.Context, backend domain.Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("open store: backend is nil: %w", ErrInvalidValue)
	}
	o := options{lockTimeout: DefaultLockTimeout, orphanCheck: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.validator == nil {
		o.validator = validation.New()
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = NewPrometheusRecorder(o.registerer)
	}
	address := backend.Location()
	if o.tracer == nil {
		o.tracer = NewOTelTracer(nil, attribute.String("worktally.store", address))
	}

	s := &Store{
		id:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(address)).String(),
		address:   address,
		backend:   backend,
		validator: o.validator,
		orphans:   o.orphanCheck,
		logger:    o.logger.With("component", "store", "store", address),
		metrics:   o.metrics,
		tracer:    o.tracer,
		guard:     NewGuard(o.lockTimeout),
	}
	if db, ok := backend.(domain.DeltaBackend); ok {
		s.delta = db
	}

	ctx, finish := s.instrument(ctx, "open")
	graph, err := backend.Load(ctx)
	if err != nil {
		err = fmt.Errorf("load %s: %w: %w", address, ErrBackend, err)
		finish(err)
		return nil, err
	}
	state, cerr := buildState(graph, s.validator, address, s.orphans)
	if cerr != nil {
		s.logger.Error("store failed validation on load", "oid", cerr.OID, "reason", cerr.Reason)
		finish(cerr)
		return nil, cerr
	}
	s.state = state
	s.bus = notify.New(notify.Options{
		Capacity:   o.queueCapacity,
		Logger:     o.logger,
		Registerer: o.registerer,
		Name:       address,
	})
	s.bus.Start()
	s.recordLive()
	finish(nil)
	s.logger.Info("store opened", "id", s.id, "live", len(state.reg.live), "next_oid", state.reg.nextOID())
	return s, nil
}

// ID is a name-based UUID of the backend location, stable across reopens.
func (s *Store) ID() string { return s.id }

// Location returns the backend address used in diagnostics.
func (s *Store) Location() string { return s.address }

// Guard exposes the store guard so sessions can span several operations.
func (s *Store) Guard() *Guard { return s.guard }

// Subscribe registers an observer on the store's bus.
func (s *Store) Subscribe(o notify.Observer) (unsubscribe func()) {
	return s.bus.Subscribe(o)
}

// Corrupt returns the first recorded corruption, if any.
func (s *Store) Corrupt() *CorruptError { return s.corrupt.Load() }

// MarkCorrupt records a corruption; mutations fail from then on while reads
// continue.
func (s *Store) MarkCorrupt(err *CorruptError) {
	if err == nil {
		return
	}
	if s.corrupt.CompareAndSwap(nil, err) {
		s.logger.Error("store marked corrupt", "oid", err.OID, "reason", err.Reason)
	}
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool { return s.closed.Load() }

func (s *Store) begin(ctx context.Context) (context.Context, func(), error) {
	if s.closed.Load() {
		return ctx, func() {}, ErrStoreClosed
	}
	ctx, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return ctx, release, err
	}
	if s.closed.Load() {
		release()
		return ctx, func() {}, ErrStoreClosed
	}
	return ctx, release, nil
}

// view runs fn under the guard without mutating.
func (s *Store) view(ctx context.Context, operation string, fn func(g *graphState) error) error {
	ctx, finish := s.instrument(ctx, operation)
	_, release, err := s.begin(ctx)
	if err != nil {
		finish(err)
		return err
	}
	defer release()
	err = fn(s.state)
	finish(err)
	return err
}

// update runs fn as one atomic transaction. Any error rolls the undo log back
// and no event is posted.
func (s *Store) update(ctx context.Context, operation string, fn func(ctx context.Context, tx *txn) error) error {
	ctx, finish := s.instrument(ctx, operation)
	err := s.updateLocked(ctx, fn)
	finish(err)
	return err
}

func (s *Store) updateLocked(ctx context.Context, fn func(ctx context.Context, tx *txn) error) error {
	ctx, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()
	if c := s.corrupt.Load(); c != nil {
		return c
	}
	tx := newTxn()
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return s.commit(ctx, tx)
}

func (s *Store) commit(ctx context.Context, tx *txn) error {
	if tx.empty() {
		return nil
	}
	if s.delta != nil {
		if err := s.delta.Apply(ctx, tx.delta(s.state)); err != nil {
			tx.rollback()
			s.logger.Warn("backend rejected delta", "error", err)
			return fmt.Errorf("apply delta to %s: %w: %w", s.address, ErrBackend, err)
		}
	} else {
		s.modified = true
	}
	s.post(ctx, tx.events())
	for _, oid := range tx.destroyedOIDs() {
		if e, ok := s.state.reg.graveyard[oid]; ok {
			s.state.reg.reclaim(e)
		}
	}
	s.recordLive()
	return nil
}

func (s *Store) post(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		ev.Store = s.address
		if err := s.bus.Post(ctx, ev); err != nil {
			s.logger.Warn("event dropped", "event", ev.String(), "error", err)
		}
	}
}

func (s *Store) recordLive() {
	if g, ok := s.metrics.(liveGauge); ok {
		g.SetLiveEntities(len(s.state.reg.live))
	}
}

// Get returns a copy of a live entity.
func (s *Store) Get(ctx context.Context, oid domain.OID) (domain.Object, error) {
	var out domain.Object
	err := s.view(ctx, "get", func(g *graphState) error {
		e, err := g.reg.lookup(oid)
		if err != nil {
			return err
		}
		out = e.object()
		return nil
	})
	return out, err
}

// Kind returns the kind of any known OID, live or dead.
func (s *Store) Kind(ctx context.Context, oid domain.OID) (domain.Kind, error) {
	var out domain.Kind
	err := s.view(ctx, "kind", func(g *graphState) error {
		if oid == domain.RootOID {
			out = domain.KindRoot
			return nil
		}
		e, ok := g.reg.any(oid)
		if !ok {
			return notFound(oid)
		}
		out = e.kind
		return nil
	})
	return out, err
}

// State reports the lifecycle state of oid; unknown OIDs are ErrNotFound.
func (s *Store) State(ctx context.Context, oid domain.OID) (domain.State, error) {
	var out domain.State
	err := s.view(ctx, "state", func(g *graphState) error {
		e, ok := g.reg.any(oid)
		if !ok {
			return notFound(oid)
		}
		out = e.state
		return nil
	})
	return out, err
}

// Children lists the ordered members of an aggregation.
func (s *Store) Children(ctx context.Context, oid domain.OID, rel domain.Relation) ([]domain.OID, error) {
	var out []domain.OID
	err := s.view(ctx, "children", func(g *graphState) error {
		if _, err := g.relationOf(oid, rel, domain.Aggregation); err != nil {
			return err
		}
		out = g.childrenOf(oid, rel)
		return nil
	})
	return out, err
}

// Roots lists a top-level aggregation.
func (s *Store) Roots(ctx context.Context, rel domain.Relation) ([]domain.OID, error) {
	return s.Children(ctx, domain.RootOID, rel)
}

// Parent returns the owning entity and relation of a live entity.
func (s *Store) Parent(ctx context.Context, oid domain.OID) (domain.OID, domain.Relation, error) {
	var key slot
	err := s.view(ctx, "parent", func(g *graphState) error {
		if _, err := g.reg.lookup(oid); err != nil {
			return err
		}
		key = g.parents[oid]
		return nil
	})
	return key.oid, key.rel, err
}

// Related lists the members of an association, ascending by OID.
func (s *Store) Related(ctx context.Context, oid domain.OID, rel domain.Relation) ([]domain.OID, error) {
	var out []domain.OID
	err := s.view(ctx, "related", func(g *graphState) error {
		if _, err := g.relationOf(oid, rel, domain.Association); err != nil {
			return err
		}
		out = g.membersOf(oid, rel)
		return nil
	})
	return out, err
}

// FindAccount resolves an account by exact login.
func (s *Store) FindAccount(ctx context.Context, login string) (domain.OID, error) {
	var out domain.OID
	err := s.view(ctx, "find_account", func(g *graphState) error {
		oid, ok := g.findLogin(login)
		if !ok {
			return fmt.Errorf("account %q: %w", login, ErrNotFound)
		}
		out = oid
		return nil
	})
	return out, err
}

// FindByDisplayName resolves a child of parent.rel by exact display name.
func (s *Store) FindByDisplayName(ctx context.Context, parent domain.OID, rel domain.Relation, name string) (domain.OID, error) {
	var out domain.OID
	err := s.view(ctx, "find_by_name", func(g *graphState) error {
		if _, err := g.relationOf(parent, rel, domain.Aggregation); err != nil {
			return err
		}
		oid, ok := g.findSibling(parent, rel, name)
		if !ok {
			return fmt.Errorf("%s.%s %q: %w", parent, rel, name, ErrNotFound)
		}
		out = oid
		return nil
	})
	return out, err
}

// AccountUser returns the user owning an account.
func (s *Store) AccountUser(ctx context.Context, account domain.OID) (domain.OID, error) {
	var out domain.OID
	err := s.view(ctx, "account_user", func(g *graphState) error {
		e, err := g.reg.lookup(account)
		if err != nil {
			return err
		}
		if e.kind != domain.KindAccount {
			return incompatible("oid %s is a %s, not an account", account, e.kind)
		}
		out = g.parents[account].oid
		return nil
	})
	return out, err
}

// Owner returns the user that owns oid: the user itself, the user of an
// account, or the user above a private item, work, or event.
func (s *Store) Owner(ctx context.Context, oid domain.OID) (domain.OID, bool, error) {
	var (
		out domain.OID
		ok  bool
	)
	err := s.view(ctx, "owner", func(g *graphState) error {
		if _, err := g.reg.lookup(oid); err != nil {
			return err
		}
		out, ok = g.ownerUser(oid)
		return nil
	})
	return out, ok, err
}

// Stats reports registry counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := s.view(ctx, "stats", func(g *graphState) error {
		out = Stats{
			Live:      len(g.reg.live),
			Dead:      len(g.reg.graveyard),
			Reclaimed: g.reg.reclaimed,
			NextOID:   g.reg.nextOID(),
			Modified:  s.modified,
			Corrupt:   s.corrupt.Load() != nil,
		}
		return nil
	})
	return out, err
}

// Validate runs the full graph validator. The first violation marks the
// store corrupt and is returned as *CorruptError.
func (s *Store) Validate(ctx context.Context) error {
	return s.view(ctx, "validate", func(g *graphState) error {
		if c := g.check(s.validator, s.address, s.orphans); c != nil {
			s.MarkCorrupt(c)
			return c
		}
		return nil
	})
}

// Export serializes the live graph.
func (s *Store) Export(ctx context.Context) (domain.Graph, error) {
	var out domain.Graph
	err := s.view(ctx, "export", func(g *graphState) error {
		out = g.graph()
		return nil
	})
	return out, err
}

// Restore installs a serialized graph into an empty store. The graph is
// rebuilt and validated in isolation first; one Created event is posted per
// restored entity.
func (s *Store) Restore(ctx context.Context, graph domain.Graph) error {
	ctx, finish := s.instrument(ctx, "restore")
	err := s.restore(ctx, graph)
	finish(err)
	return err
}

func (s *Store) restore(ctx context.Context, graph domain.Graph) error {
	ctx, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()
	if c := s.corrupt.Load(); c != nil {
		return c
	}
	if n := len(s.state.reg.live); n > 0 {
		return alreadyExists("restore into store holding %d entities", n)
	}
	next, cerr := buildState(graph, s.validator, s.address, s.orphans)
	if cerr != nil {
		return cerr
	}
	for oid, tomb := range s.state.reg.graveyard {
		if _, clash := next.reg.live[oid]; clash {
			return incompatible("restored graph reuses destroyed oid %s", oid)
		}
		next.reg.graveyard[oid] = tomb
	}
	next.reg.reclaimed = s.state.reg.reclaimed
	next.reg.seed(s.state.reg.nextOID())

	if s.delta != nil {
		if err := s.backend.Save(ctx, next.graph()); err != nil {
			return fmt.Errorf("save restored graph to %s: %w: %w", s.address, ErrBackend, err)
		}
	} else {
		s.modified = true
	}
	s.state = next
	events := make([]domain.Event, 0, len(next.reg.live))
	for _, oid := range slices.Sorted(maps.Keys(next.reg.live)) {
		events = append(events, domain.CreatedEvent(next.reg.live[oid].kind, oid))
	}
	s.post(ctx, events)
	s.recordLive()
	s.logger.Info("graph restored", "live", len(next.reg.live))
	return nil
}

// Retain adds a reference held outside the graph, such as a session proxy.
func (s *Store) Retain(ctx context.Context, oid domain.OID) error {
	_, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	e, err := s.state.reg.lookup(oid)
	if err != nil {
		return err
	}
	s.state.reg.retain(e)
	return nil
}

// Release drops a reference taken with Retain. A dead entity whose last
// reference goes is reclaimed. Release works on closed stores so sessions
// can always clean up.
func (s *Store) Release(ctx context.Context, oid domain.OID) error {
	_, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	e, ok := s.state.reg.any(oid)
	if !ok {
		return notFound(oid)
	}
	s.state.reg.release(e)
	s.state.reg.reclaim(e)
	return nil
}

// References reports the current reference count of oid.
func (s *Store) References(ctx context.Context, oid domain.OID) (int, error) {
	var out int
	err := s.view(ctx, "references", func(g *graphState) error {
		e, ok := g.reg.any(oid)
		if !ok {
			return notFound(oid)
		}
		out = e.refs
		return nil
	})
	return out, err
}

// Flush writes the whole graph to a full-graph backend when it changed.
// Delta backends are always current, so Flush is a no-op for them.
func (s *Store) Flush(ctx context.Context) error {
	ctx, finish := s.instrument(ctx, "flush")
	ctx, release, err := s.begin(ctx)
	if err != nil {
		finish(err)
		return err
	}
	defer release()
	if s.delta != nil || !s.modified {
		finish(nil)
		return nil
	}
	if c := s.corrupt.Load(); c != nil {
		finish(c)
		return c
	}
	if err = s.save(ctx, s.state.graph()); err == nil {
		s.modified = false
	}
	finish(err)
	return err
}

func (s *Store) save(ctx context.Context, g domain.Graph) error {
	if err := s.backend.Save(ctx, g); err != nil {
		s.logger.Warn("save failed", "error", err)
		return fmt.Errorf("save %s: %w: %w", s.address, ErrBackend, err)
	}
	s.logger.Debug("graph saved", "records", len(g.Records))
	return nil
}

// Close flushes a modified full-graph store and drains the notification
// bus concurrently, then closes the backend. Later calls fail with
// ErrStoreClosed.
func (s *Store) Close(ctx context.Context) error {
	ctx, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Swap(true) {
		release()
		return ErrStoreClosed
	}
	var pending *domain.Graph
	switch {
	case s.corrupt.Load() != nil:
		s.logger.Warn("closing corrupt store without saving")
	case s.delta == nil && s.modified:
		g := s.state.graph()
		pending = &g
	}
	s.post(ctx, []domain.Event{domain.ClosedEvent(s.address)})
	release()

	// A failed save must not cut the drain short.
	var eg errgroup.Group
	eg.Go(func() error {
		if pending == nil {
			return nil
		}
		return s.save(ctx, *pending)
	})
	eg.Go(func() error { return s.bus.Close(ctx) })
	err = eg.Wait()
	if cerr := s.backend.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close %s: %w: %w", s.address, ErrBackend, cerr))
	}
	if err != nil {
		s.logger.Error("store closed with errors", "error", err)
		return err
	}
	s.logger.Info("store closed")
	return nil
}
