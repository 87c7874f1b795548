package session

import (
	"context"

	"worktally/pkg/domain"
)

// Proxy is a session's handle on one entity. It holds a reference on the
// entity, so a destroyed entity's proxy keeps reporting InstanceDead instead
// of resolving to something else.
type Proxy struct {
	s    *Session
	oid  domain.OID
	kind domain.Kind
}

// OID returns the entity identifier.
func (p *Proxy) OID() domain.OID { return p.oid }

// Kind returns the entity kind.
func (p *Proxy) Kind() domain.Kind { return p.kind }

// Session returns the owning session.
func (p *Proxy) Session() *Session { return p.s }

func (p *Proxy) String() string { return string(p.kind) + " " + p.oid.String() }

// State reports whether the entity is still live. It needs no read right.
func (p *Proxy) State(ctx context.Context) (domain.State, error) {
	var out domain.State
	err := p.s.do(ctx, "state", p.oid, func(ctx context.Context) error {
		st, err := p.s.store.State(ctx, p.oid)
		out = st
		return err
	})
	return out, err
}

// Properties returns a copy of the entity's properties.
func (p *Proxy) Properties(ctx context.Context) (domain.Properties, error) {
	var out domain.Properties
	err := p.s.do(ctx, "properties", p.oid, func(ctx context.Context) error {
		if err := p.s.readable(ctx, "properties", p.oid); err != nil {
			return err
		}
		obj, err := p.s.store.Get(ctx, p.oid)
		out = obj.Properties
		return err
	})
	return out, err
}

// Update applies mutate to a copy of the properties and commits the result.
// An error from mutate is reported as InvalidPropertyValue.
func (p *Proxy) Update(ctx context.Context, mutate func(*domain.Properties) error) error {
	return p.s.do(ctx, "update", p.oid, func(ctx context.Context) error {
		subj, err := p.s.subject(ctx, p.oid)
		if err != nil {
			return err
		}
		obj, err := p.s.store.Get(ctx, p.oid)
		if err != nil {
			return err
		}
		next := obj.Properties.Clone()
		if err := mutate(&next); err != nil {
			return newError(InvalidPropertyValue, "update", p.oid, "%v", err)
		}
		allowed := p.s.grant.canModify(subj) || p.s.grant.canChangeOwnPassword(subj, obj.Properties, next)
		if err := p.s.authorize("update", subj, allowed); err != nil {
			return err
		}
		return p.s.store.Update(ctx, p.oid, func(props *domain.Properties) error {
			*props = next
			return nil
		})
	})
}

// SetDisplayName renames a named entity.
func (p *Proxy) SetDisplayName(ctx context.Context, name string) error {
	return p.Update(ctx, func(props *domain.Properties) error {
		props.DisplayName = name
		return nil
	})
}

// SetLogin changes an account's login.
func (p *Proxy) SetLogin(ctx context.Context, login string) error {
	return p.Update(ctx, func(props *domain.Properties) error {
		props.Login = login
		return nil
	})
}

// SetPassword stores the hash of plain. An account may always change its
// own password.
func (p *Proxy) SetPassword(ctx context.Context, plain string) error {
	return p.Update(ctx, func(props *domain.Properties) error {
		props.PasswordHash = domain.HashPassword(plain)
		return nil
	})
}

// SetEnabled enables or disables a user or account.
func (p *Proxy) SetEnabled(ctx context.Context, enabled bool) error {
	return p.Update(ctx, func(props *domain.Properties) error {
		props.Enabled = enabled
		return nil
	})
}

// Children lists an aggregation in insertion order.
func (p *Proxy) Children(ctx context.Context, rel domain.Relation) ([]*Proxy, error) {
	var out []*Proxy
	err := p.s.do(ctx, "children", p.oid, func(ctx context.Context) error {
		if err := p.s.readable(ctx, "children", p.oid); err != nil {
			return err
		}
		oids, err := p.s.store.Children(ctx, p.oid, rel)
		if err != nil {
			return err
		}
		out, err = p.s.proxyList(ctx, oids)
		return err
	})
	return out, err
}

// Parent returns the owning entity and relation. Top-level entities return
// a nil proxy.
func (p *Proxy) Parent(ctx context.Context) (*Proxy, domain.Relation, error) {
	var (
		out *Proxy
		rel domain.Relation
	)
	err := p.s.do(ctx, "parent", p.oid, func(ctx context.Context) error {
		if err := p.s.readable(ctx, "parent", p.oid); err != nil {
			return err
		}
		parent, r, err := p.s.store.Parent(ctx, p.oid)
		if err != nil {
			return err
		}
		rel = r
		if parent == domain.RootOID {
			return nil
		}
		out, err = p.s.proxy(ctx, parent)
		return err
	})
	return out, rel, err
}

// Related lists an association in OID order.
func (p *Proxy) Related(ctx context.Context, rel domain.Relation) ([]*Proxy, error) {
	var out []*Proxy
	err := p.s.do(ctx, "related", p.oid, func(ctx context.Context) error {
		if err := p.s.readable(ctx, "related", p.oid); err != nil {
			return err
		}
		oids, err := p.s.store.Related(ctx, p.oid, rel)
		if err != nil {
			return err
		}
		out, err = p.s.proxyList(ctx, oids)
		return err
	})
	return out, err
}

// associate checks modify on p and read on every counterpart.
func (p *Proxy) associate(ctx context.Context, op string, targets []*Proxy) error {
	subj, err := p.s.subject(ctx, p.oid)
	if err != nil {
		return err
	}
	if err := p.s.authorize(op, subj, p.s.grant.canModify(subj)); err != nil {
		return err
	}
	for _, t := range targets {
		if t == nil || t.s != p.s {
			return newError(IncompatibleInstance, op, p.oid, "target belongs to another session")
		}
		if err := p.s.readable(ctx, op, t.oid); err != nil {
			return err
		}
	}
	return nil
}

// Link adds target to the association rel.
func (p *Proxy) Link(ctx context.Context, rel domain.Relation, target *Proxy) error {
	return p.s.do(ctx, "link", p.oid, func(ctx context.Context) error {
		if err := p.associate(ctx, "link", []*Proxy{target}); err != nil {
			return err
		}
		return p.s.store.Link(ctx, p.oid, rel, target.oid)
	})
}

// Unlink removes target from the association rel.
func (p *Proxy) Unlink(ctx context.Context, rel domain.Relation, target *Proxy) error {
	return p.s.do(ctx, "unlink", p.oid, func(ctx context.Context) error {
		if err := p.associate(ctx, "unlink", []*Proxy{target}); err != nil {
			return err
		}
		return p.s.store.Unlink(ctx, p.oid, rel, target.oid)
	})
}

// SetRelated replaces the members of rel with targets.
func (p *Proxy) SetRelated(ctx context.Context, rel domain.Relation, targets []*Proxy) error {
	return p.s.do(ctx, "set_related", p.oid, func(ctx context.Context) error {
		if err := p.associate(ctx, "set_related", targets); err != nil {
			return err
		}
		oids := make([]domain.OID, len(targets))
		for i, t := range targets {
			oids[i] = t.oid
		}
		return p.s.store.SetRelated(ctx, p.oid, rel, oids)
	})
}

// AddWorkload attaches a project or work stream to this activity.
func (p *Proxy) AddWorkload(ctx context.Context, workload *Proxy) error {
	return p.Link(ctx, domain.RelWorkloads, workload)
}

// RemoveWorkload detaches a workload from this activity.
func (p *Proxy) RemoveWorkload(ctx context.Context, workload *Proxy) error {
	return p.Unlink(ctx, domain.RelWorkloads, workload)
}

// SetWorkloads replaces the workloads of this activity.
func (p *Proxy) SetWorkloads(ctx context.Context, workloads []*Proxy) error {
	return p.SetRelated(ctx, domain.RelWorkloads, workloads)
}

// SetActivityType binds this activity to a type; nil clears it.
func (p *Proxy) SetActivityType(ctx context.Context, activityType *Proxy) error {
	if activityType == nil {
		return p.SetRelated(ctx, domain.RelActivityType, nil)
	}
	return p.SetRelated(ctx, domain.RelActivityType, []*Proxy{activityType})
}

// SetQuickPicks is not supported.
func (p *Proxy) SetQuickPicks(ctx context.Context, _ []*Proxy) error {
	return p.s.do(ctx, "set_quick_picks", p.oid, func(ctx context.Context) error {
		return p.s.store.SetQuickPicks(ctx, p.oid, nil)
	})
}

// CreateChild adds an entity to the aggregation rel of this entity.
func (p *Proxy) CreateChild(ctx context.Context, rel domain.Relation, props domain.Properties) (*Proxy, error) {
	return p.s.create(ctx, "create_child", p.oid, rel, props)
}

// CreateAccount adds an enabled account to this user.
func (p *Proxy) CreateAccount(ctx context.Context, login, password string, caps domain.Capabilities) (*Proxy, error) {
	props := domain.Properties{
		Credential: domain.Credential{
			Login:        login,
			PasswordHash: domain.HashPassword(password),
			Capabilities: caps,
		},
		Enabled: true,
	}
	return p.s.create(ctx, "create_account", p.oid, domain.RelAccounts, props)
}

// CreateWork logs a unit of work on this account against activity.
func (p *Proxy) CreateWork(ctx context.Context, activity *Proxy, interval domain.Interval) (*Proxy, error) {
	var out *Proxy
	err := p.s.do(ctx, "create_work", p.oid, func(ctx context.Context) error {
		subj, err := p.s.prospective(ctx, p.oid, domain.RelWorks)
		if err != nil {
			return err
		}
		if err := p.s.authorize("create_work", subj, p.s.grant.canModify(subj)); err != nil {
			return err
		}
		if activity == nil || activity.s != p.s {
			return newError(IncompatibleInstance, "create_work", p.oid, "activity belongs to another session")
		}
		if err := p.s.readable(ctx, "create_work", activity.oid); err != nil {
			return err
		}
		oid, err := p.s.store.CreateWork(ctx, p.oid, activity.oid, domain.Properties{Interval: interval})
		if err != nil {
			return err
		}
		out, err = p.s.proxy(ctx, oid)
		return err
	})
	return out, err
}

// CreateEvent is not supported.
func (p *Proxy) CreateEvent(ctx context.Context, occurrence domain.Occurrence) (*Proxy, error) {
	err := p.s.do(ctx, "create_event", p.oid, func(ctx context.Context) error {
		_, err := p.s.store.CreateEvent(ctx, p.oid, domain.Properties{Occurrence: occurrence})
		return err
	})
	return nil, err
}

// Destroy removes the entity and everything it owns.
func (p *Proxy) Destroy(ctx context.Context) error {
	return p.s.do(ctx, "destroy", p.oid, func(ctx context.Context) error {
		subj, err := p.s.subject(ctx, p.oid)
		if err != nil {
			return err
		}
		if err := p.s.authorize("destroy", subj, p.s.grant.canDestroy(subj)); err != nil {
			return err
		}
		return p.s.store.Destroy(ctx, p.oid)
	})
}
