// Package session is the caller-facing layer over a core store. A session
// resolves credentials to a grant, hands out one cached proxy per entity,
// checks capabilities on every operation, and reports failures as *Error.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"worktally/internal/core"
	"worktally/pkg/domain"
)

type options struct {
	logger *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the session logger; nil discards.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Session is one authenticated view of a store. Its proxy cache is only
// touched while the store guard is held.
type Session struct {
	store   *core.Store
	grant   Grant
	logger  *slog.Logger
	proxies map[domain.OID]*Proxy
	closed  atomic.Bool
}

// Open authenticates c against store. Maintenance classes skip the resolver;
// a nil resolver means DefaultResolver.
func Open(ctx context.Context, store *core.Store, c Credentials, resolver Resolver, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if store == nil {
		return nil, newError(DoesNotExist, "open", 0, "no store")
	}
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	ctx, release, err := store.Guard().Acquire(ctx)
	if err != nil {
		return nil, translate("open", 0, err)
	}
	defer release()

	grant := Grant{Class: c.Class()}
	if c.Class() == ClassNormal {
		grant, err = resolver.Resolve(ctx, store, c)
		if err != nil {
			o.logger.Debug("credentials rejected", "login", c.Login(), "error", err)
			return nil, translate("open", 0, err)
		}
		grant.Class = ClassNormal
	}
	s := &Session{
		store:   store,
		grant:   grant,
		proxies: make(map[domain.OID]*Proxy),
		logger:  o.logger.With("component", "session", "store", store.Location(), "class", grant.Class.String()),
	}
	s.logger.Debug("session opened", "account", grant.Account, "capabilities", grant.Capabilities.String())
	return s, nil
}

// Grant reports what the session may do.
func (s *Session) Grant() Grant { return s.grant }

// StoreID identifies the open store instance.
func (s *Session) StoreID() string { return s.store.ID() }

// StoreAddress is the backend location of the store.
func (s *Session) StoreAddress() string { return s.store.Location() }

// Closed reports whether the session is closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// do runs fn under the store guard after checking the session is open. Any
// error leaves as *Error; a corrupt store closes the session.
func (s *Session) do(ctx context.Context, op string, oid domain.OID, fn func(ctx context.Context) error) error {
	ctx, release, err := s.store.Guard().Acquire(ctx)
	if err != nil {
		return translate(op, oid, err)
	}
	defer release()
	if s.closed.Load() {
		return newError(StoreClosed, op, oid, "session is closed")
	}
	if err := fn(ctx); err != nil {
		return s.fail(ctx, op, oid, err)
	}
	return nil
}

func (s *Session) fail(ctx context.Context, op string, oid domain.OID, err error) error {
	e := translate(op, oid, err)
	if e.Kind == StoreCorrupt {
		var c *core.CorruptError
		if errors.As(err, &c) {
			s.store.MarkCorrupt(c)
		}
		s.logger.Error("store corrupt, closing session", "op", op, "error", e.Msg)
		if cerr := s.shutdown(ctx); cerr != nil {
			s.logger.Warn("releasing proxies failed", "error", cerr)
		}
	}
	return e
}

// Close releases every cached proxy. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	ctx, release, err := s.store.Guard().Acquire(ctx)
	if err != nil {
		return translate("close", 0, err)
	}
	defer release()
	if err := s.shutdown(ctx); err != nil {
		return translate("close", 0, err)
	}
	return nil
}

func (s *Session) shutdown(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, oid := range slices.Sorted(maps.Keys(s.proxies)) {
		if err := s.store.Release(ctx, oid); err != nil {
			errs = append(errs, err)
		}
	}
	clear(s.proxies)
	s.logger.Debug("session closed")
	return errors.Join(errs...)
}

// proxy returns the cached proxy for oid, creating it and taking a reference
// on first use. Guard held.
func (s *Session) proxy(ctx context.Context, oid domain.OID) (*Proxy, error) {
	if p, ok := s.proxies[oid]; ok {
		return p, nil
	}
	kind, err := s.store.Kind(ctx, oid)
	if err != nil {
		return nil, err
	}
	if err := s.store.Retain(ctx, oid); err != nil {
		return nil, err
	}
	p := &Proxy{s: s, oid: oid, kind: kind}
	s.proxies[oid] = p
	return p, nil
}

func (s *Session) proxyList(ctx context.Context, oids []domain.OID) ([]*Proxy, error) {
	out := make([]*Proxy, 0, len(oids))
	for _, oid := range oids {
		p, err := s.proxy(ctx, oid)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Proxy returns the session's proxy for a live entity. The same OID always
// yields the same *Proxy until the session closes.
func (s *Session) Proxy(ctx context.Context, oid domain.OID) (*Proxy, error) {
	var out *Proxy
	err := s.do(ctx, "proxy", oid, func(ctx context.Context) error {
		if oid == domain.RootOID {
			return newError(IncompatibleInstance, "proxy", oid, "the root has no proxy")
		}
		p, err := s.proxy(ctx, oid)
		out = p
		return err
	})
	return out, err
}

// subject describes a live entity for an access decision.
func (s *Session) subject(ctx context.Context, oid domain.OID) (subject, error) {
	kind, err := s.store.Kind(ctx, oid)
	if err != nil {
		return subject{}, err
	}
	owner, owned, err := s.store.Owner(ctx, oid)
	if err != nil {
		return subject{}, err
	}
	return subject{kind: kind, oid: oid, owner: owner, owned: owned}, nil
}

// prospective describes the entity that creating in parent.rel would add.
func (s *Session) prospective(ctx context.Context, parent domain.OID, rel domain.Relation) (subject, error) {
	parentKind, err := s.store.Kind(ctx, parent)
	if err != nil {
		return subject{}, err
	}
	spec, ok := domain.LookupRelation(parentKind, rel)
	if !ok || spec.Type != domain.Aggregation {
		return subject{}, newError(IncompatibleInstance, "create", parent, "%s has no aggregation %q", parentKind, rel)
	}
	out := subject{kind: spec.Targets[0]}
	if parent != domain.RootOID {
		out.owner, out.owned, err = s.store.Owner(ctx, parent)
	}
	return out, err
}

func (s *Session) authorize(op string, subj subject, allowed bool) error {
	if allowed {
		return nil
	}
	s.logger.Debug("access denied", "op", op, "kind", subj.kind, "oid", subj.oid)
	return newError(AccessDenied, op, subj.oid, "%s on %s not permitted", op, subj.kind)
}

func (s *Session) readable(ctx context.Context, op string, oid domain.OID) error {
	subj, err := s.subject(ctx, oid)
	if err != nil {
		return err
	}
	return s.authorize(op, subj, s.grant.canRead(subj))
}

func (s *Session) create(ctx context.Context, op string, parent domain.OID, rel domain.Relation, props domain.Properties) (*Proxy, error) {
	var out *Proxy
	err := s.do(ctx, op, parent, func(ctx context.Context) error {
		subj, err := s.prospective(ctx, parent, rel)
		if err != nil {
			return err
		}
		if err := s.authorize(op, subj, s.grant.canModify(subj)); err != nil {
			return err
		}
		oid, err := s.store.Create(ctx, parent, rel, props)
		if err != nil {
			return err
		}
		out, err = s.proxy(ctx, oid)
		return err
	})
	return out, err
}

// CreateUser adds a user.
func (s *Session) CreateUser(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_user", domain.RootOID, domain.RelUsers, props)
}

// CreateActivityType adds an activity type.
func (s *Session) CreateActivityType(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_activity_type", domain.RootOID, domain.RelActivityTypes, props)
}

// CreatePublicActivity adds a public activity.
func (s *Session) CreatePublicActivity(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_public_activity", domain.RootOID, domain.RelPublicActivities, props)
}

// CreatePublicTask adds a top-level public task.
func (s *Session) CreatePublicTask(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_public_task", domain.RootOID, domain.RelPublicTasks, props)
}

// CreateProject adds a top-level project.
func (s *Session) CreateProject(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_project", domain.RootOID, domain.RelProjects, props)
}

// CreateWorkStream adds a work stream.
func (s *Session) CreateWorkStream(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_work_stream", domain.RootOID, domain.RelWorkStreams, props)
}

// CreateBeneficiary adds a beneficiary.
func (s *Session) CreateBeneficiary(ctx context.Context, props domain.Properties) (*Proxy, error) {
	return s.create(ctx, "create_beneficiary", domain.RootOID, domain.RelBeneficiaries, props)
}

// Roots lists a top-level aggregation.
func (s *Session) Roots(ctx context.Context, rel domain.Relation) ([]*Proxy, error) {
	var out []*Proxy
	err := s.do(ctx, "roots", domain.RootOID, func(ctx context.Context) error {
		oids, err := s.store.Roots(ctx, rel)
		if err != nil {
			return err
		}
		out, err = s.proxyList(ctx, oids)
		return err
	})
	return out, err
}

// FindAccount resolves an account by login. The account must be readable.
func (s *Session) FindAccount(ctx context.Context, login string) (*Proxy, error) {
	var out *Proxy
	err := s.do(ctx, "find_account", domain.RootOID, func(ctx context.Context) error {
		oid, err := s.store.FindAccount(ctx, login)
		if err != nil {
			return err
		}
		if err := s.readable(ctx, "find_account", oid); err != nil {
			return err
		}
		out, err = s.proxy(ctx, oid)
		return err
	})
	return out, err
}

// Account returns the proxy of the account the session logged in with.
func (s *Session) Account(ctx context.Context) (*Proxy, error) {
	if s.grant.Class != ClassNormal {
		return nil, newError(DoesNotExist, "account", 0, "%s sessions have no account", s.grant.Class)
	}
	return s.Proxy(ctx, s.grant.Account)
}

// Export serializes the whole graph. Requires backup rights.
func (s *Session) Export(ctx context.Context) (domain.Graph, error) {
	var out domain.Graph
	err := s.do(ctx, "export", domain.RootOID, func(ctx context.Context) error {
		if !s.grant.canBackup() {
			return newError(AccessDenied, "export", 0, "backup rights required")
		}
		g, err := s.store.Export(ctx)
		out = g
		return err
	})
	return out, err
}

// Restore installs graph into the empty store. Requires restore credentials.
func (s *Session) Restore(ctx context.Context, graph domain.Graph) error {
	return s.do(ctx, "restore", domain.RootOID, func(ctx context.Context) error {
		if !s.grant.canRestore() {
			return newError(AccessDenied, "restore", 0, "restore credentials required")
		}
		return s.store.Restore(ctx, graph)
	})
}

// Validate runs the full graph validator. A violation marks the store
// corrupt and closes the session.
func (s *Session) Validate(ctx context.Context) error {
	return s.do(ctx, "validate", domain.RootOID, func(ctx context.Context) error {
		return s.store.Validate(ctx)
	})
}

// Stats reports the store counters.
func (s *Session) Stats(ctx context.Context) (core.Stats, error) {
	var out core.Stats
	err := s.do(ctx, "stats", domain.RootOID, func(ctx context.Context) error {
		st, err := s.store.Stats(ctx)
		out = st
		return err
	})
	return out, err
}
