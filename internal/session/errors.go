package session

import (
	"errors"
	"fmt"

	"worktally/internal/core"
	"worktally/pkg/domain"
)

// ErrorKind classifies every failure a session reports.
type ErrorKind uint8

// Error kinds.
const (
	InstanceDead ErrorKind = iota + 1
	AccessDenied
	InvalidPropertyValue
	AlreadyExists
	DoesNotExist
	IncompatibleInstance
	StoreCorrupt
	StoreClosed
	NotImplemented
	LockTimeout
	BackendFailure
)

var kindNames = map[ErrorKind]string{
	InstanceDead:         "instance dead",
	AccessDenied:         "access denied",
	InvalidPropertyValue: "invalid property value",
	AlreadyExists:        "already exists",
	DoesNotExist:         "does not exist",
	IncompatibleInstance: "incompatible instance",
	StoreCorrupt:         "store corrupt",
	StoreClosed:          "store closed",
	NotImplemented:       "not implemented",
	LockTimeout:          "could not acquire lock",
	BackendFailure:       "backend failure",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", uint8(k))
}

// Error is the only error type a session returns. It carries a copy of the
// failure details and never wraps the store's own errors.
type Error struct {
	Kind ErrorKind
	Op   string
	OID  domain.OID
	Msg  string
	// StoreAddress is set for StoreCorrupt.
	StoreAddress string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	switch {
	case e.Op == "":
		return "session: " + msg
	case e.OID != domain.RootOID:
		return fmt.Sprintf("session: %s oid %s: %s", e.Op, e.OID, msg)
	default:
		return fmt.Sprintf("session: %s: %s", e.Op, msg)
	}
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInstanceDead         = &Error{Kind: InstanceDead}
	ErrAccessDenied         = &Error{Kind: AccessDenied}
	ErrInvalidPropertyValue = &Error{Kind: InvalidPropertyValue}
	ErrAlreadyExists        = &Error{Kind: AlreadyExists}
	ErrDoesNotExist         = &Error{Kind: DoesNotExist}
	ErrIncompatibleInstance = &Error{Kind: IncompatibleInstance}
	ErrStoreCorrupt         = &Error{Kind: StoreCorrupt}
	ErrStoreClosed          = &Error{Kind: StoreClosed}
	ErrNotImplemented       = &Error{Kind: NotImplemented}
	ErrLockTimeout          = &Error{Kind: LockTimeout}
	ErrBackendFailure       = &Error{Kind: BackendFailure}
)

func newError(kind ErrorKind, op string, oid domain.OID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, OID: oid, Msg: fmt.Sprintf(format, args...)}
}

var coreKinds = []struct {
	target error
	kind   ErrorKind
}{
	{core.ErrStoreClosed, StoreClosed},
	{core.ErrLockTimeout, LockTimeout},
	{core.ErrInstanceDead, InstanceDead},
	{core.ErrNotFound, DoesNotExist},
	{core.ErrAlreadyExists, AlreadyExists},
	{core.ErrInvalidValue, InvalidPropertyValue},
	{core.ErrIncompatible, IncompatibleInstance},
	{core.ErrNotImplemented, NotImplemented},
	{core.ErrBackend, BackendFailure},
}

// translate converts a store error into a session *Error.
func translate(op string, oid domain.OID, err error) *Error {
	if err == nil {
		return nil
	}
	var own *Error
	if errors.As(err, &own) {
		return own
	}
	var corrupt *core.CorruptError
	if errors.As(err, &corrupt) {
		return &Error{Kind: StoreCorrupt, Op: op, OID: oid, Msg: corrupt.Error(), StoreAddress: corrupt.Address}
	}
	for _, m := range coreKinds {
		if errors.Is(err, m.target) {
			return &Error{Kind: m.kind, Op: op, OID: oid, Msg: err.Error()}
		}
	}
	return &Error{Kind: BackendFailure, Op: op, OID: oid, Msg: err.Error()}
}
