package core

import (
	"errors"
	"fmt"

	"worktally/pkg/domain"
)

// Sentinel errors returned by store operations. Callers test them with
// errors.Is; the session layer maps each onto its own taxonomy.
var (
	ErrInstanceDead   = errors.New("instance is dead")
	ErrInvalidValue   = errors.New("invalid property value")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotFound       = errors.New("does not exist")
	ErrIncompatible   = errors.New("incompatible instance")
	ErrStoreCorrupt   = errors.New("store corrupt")
	ErrStoreClosed    = errors.New("store closed")
	ErrNotImplemented = errors.New("not implemented")
	ErrLockTimeout    = errors.New("could not acquire lock")
	ErrBackend        = errors.New("backend failure")
)

// CorruptError identifies the first broken invariant found in a store.
type CorruptError struct {
	Address string
	OID     domain.OID
	Reason  string
}

func (e *CorruptError) Error() string {
	if e.OID == domain.RootOID {
		return fmt.Sprintf("store %s corrupt: %s", e.Address, e.Reason)
	}
	return fmt.Sprintf("store %s corrupt at oid %s: %s", e.Address, e.OID, e.Reason)
}

// Is makes every CorruptError match ErrStoreCorrupt.
func (e *CorruptError) Is(target error) bool { return target == ErrStoreCorrupt }

// InvalidValueError reports a property rejected by the Validator.
type InvalidValueError struct {
	Kind     domain.Kind
	Property string
	Value    string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s.%s value %q", e.Kind, e.Property, e.Value)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInvalidValue }

func notFound(oid domain.OID) error {
	return fmt.Errorf("oid %s: %w", oid, ErrNotFound)
}

func dead(oid domain.OID) error {
	return fmt.Errorf("oid %s: %w", oid, ErrInstanceDead)
}

func incompatible(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrIncompatible)
}

func alreadyExists(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrAlreadyExists)
}
