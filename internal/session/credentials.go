package session

import (
	"context"
	"crypto/subtle"
	"errors"

	"worktally/internal/core"
	"worktally/pkg/domain"
)

// Class distinguishes ordinary logins from the maintenance classes.
type Class uint8

// Credential classes. Only NewCredentials builds ClassNormal; the others
// come from their own constructors and bypass capability checks.
const (
	ClassNormal Class = iota
	ClassRestore
	ClassBackup
	ClassReport
)

func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassRestore:
		return "restore"
	case ClassBackup:
		return "backup"
	case ClassReport:
		return "report"
	default:
		return "unknown"
	}
}

// Credentials identify who opens a session. The zero value is a normal
// credential with an empty login, which never resolves.
type Credentials struct {
	class    Class
	login    string
	password string
}

// NewCredentials returns normal login credentials.
func NewCredentials(login, password string) Credentials {
	return Credentials{class: ClassNormal, login: login, password: password}
}

// RestoreCredentials may read, modify, and destroy anything.
func RestoreCredentials() Credentials { return Credentials{class: ClassRestore} }

// BackupCredentials may read anything and never mutate.
func BackupCredentials() Credentials { return Credentials{class: ClassBackup} }

// ReportCredentials may read anything and never mutate.
func ReportCredentials() Credentials { return Credentials{class: ClassReport} }

// Class reports the credential class.
func (c Credentials) Class() Class { return c.class }

// Login returns the login of normal credentials.
func (c Credentials) Login() string { return c.login }

// Grant is what a session is allowed to do.
type Grant struct {
	Class        Class
	Account      domain.OID
	User         domain.OID
	Capabilities domain.Capabilities
}

// Accounts is the lookup surface a Resolver needs. *core.Store satisfies it.
type Accounts interface {
	FindAccount(ctx context.Context, login string) (domain.OID, error)
	AccountUser(ctx context.Context, account domain.OID) (domain.OID, error)
	Get(ctx context.Context, oid domain.OID) (domain.Object, error)
}

// Resolver turns normal credentials into a grant.
type Resolver interface {
	Resolve(ctx context.Context, accounts Accounts, c Credentials) (Grant, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, accounts Accounts, c Credentials) (Grant, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, accounts Accounts, c Credentials) (Grant, error) {
	return f(ctx, accounts, c)
}

// errBadCredentials keeps unknown logins, wrong passwords, and disabled
// accounts indistinguishable to the caller.
var errBadCredentials = &Error{Kind: AccessDenied, Op: "open", Msg: "invalid credentials"}

// DefaultResolver looks the account up by login, compares password hashes,
// and requires both the account and its user to be enabled.
type DefaultResolver struct{}

// Resolve implements Resolver.
func (DefaultResolver) Resolve(ctx context.Context, accounts Accounts, c Credentials) (Grant, error) {
	if c.login == "" {
		return Grant{}, errBadCredentials
	}
	acct, err := accounts.FindAccount(ctx, c.login)
	if errors.Is(err, core.ErrNotFound) {
		return Grant{}, errBadCredentials
	}
	if err != nil {
		return Grant{}, err
	}
	obj, err := accounts.Get(ctx, acct)
	if err != nil {
		return Grant{}, err
	}
	want := []byte(obj.Properties.PasswordHash)
	got := []byte(domain.HashPassword(c.password))
	if !obj.Properties.Enabled || subtle.ConstantTimeCompare(want, got) != 1 {
		return Grant{}, errBadCredentials
	}
	user, err := accounts.AccountUser(ctx, acct)
	if err != nil {
		return Grant{}, err
	}
	owner, err := accounts.Get(ctx, user)
	if err != nil {
		return Grant{}, err
	}
	if !owner.Properties.Enabled {
		return Grant{}, errBadCredentials
	}
	return Grant{
		Class:        ClassNormal,
		Account:      acct,
		User:         user,
		Capabilities: obj.Properties.Capabilities,
	}, nil
}
