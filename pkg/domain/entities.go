// Package domain defines the persistent entity kinds, their typed properties,
// the relationship catalogue, and the persistence and notification contracts
// shared by the worktally store, its backends, and its sessions.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// OID identifies a persistent entity within one store. OIDs are assigned
// monotonically from 1 and never reused while the store is open.
type OID uint64

// RootOID is the pseudo-entity that owns every top-level aggregation.
const RootOID OID = 0

func (o OID) String() string { return strconv.FormatUint(uint64(o), 10) }

// ParseOID parses the decimal representation produced by OID.String.
func ParseOID(s string) (OID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse oid %q: %w", s, err)
	}
	return OID(v), nil
}

// Kind discriminates the concrete entity type of a record.
type Kind string

// Entity kinds stored in a workspace.
const (
	// KindRoot names the store itself when used as an aggregation owner.
	KindRoot Kind = "root"

	KindUser            Kind = "user"
	KindAccount         Kind = "account"
	KindActivityType    Kind = "activity_type"
	KindPublicActivity  Kind = "public_activity"
	KindPrivateActivity Kind = "private_activity"
	KindPublicTask      Kind = "public_task"
	KindPrivateTask     Kind = "private_task"
	KindProject         Kind = "project"
	KindWorkStream      Kind = "work_stream"
	KindBeneficiary     Kind = "beneficiary"
	KindWork            Kind = "work"
	KindEvent           Kind = "event"
)

// Trait is a capability field group carried by a kind.
type Trait uint16

// Traits composed into the flat Properties struct.
const (
	TraitNamed Trait = 1 << iota
	TraitPerson
	TraitEnablement
	TraitContact
	TraitLogin
	TraitTimeout
	TraitReminders
	TraitCompletion
	TraitInterval
	TraitOccurrence
)

const activityTraits = TraitNamed | TraitTimeout | TraitReminders

var kindTraits = map[Kind]Trait{
	KindUser:            TraitPerson | TraitEnablement | TraitContact,
	KindAccount:         TraitLogin | TraitEnablement | TraitContact,
	KindActivityType:    TraitNamed,
	KindPublicActivity:  activityTraits,
	KindPrivateActivity: activityTraits,
	KindPublicTask:      activityTraits | TraitCompletion,
	KindPrivateTask:     activityTraits | TraitCompletion,
	KindProject:         TraitNamed | TraitCompletion,
	KindWorkStream:      TraitNamed,
	KindBeneficiary:     TraitNamed,
	KindWork:            TraitInterval,
	KindEvent:           TraitOccurrence,
}

var orderedKinds = []Kind{
	KindUser, KindAccount, KindActivityType,
	KindPublicActivity, KindPrivateActivity, KindPublicTask, KindPrivateTask,
	KindProject, KindWorkStream, KindBeneficiary, KindWork, KindEvent,
}

// Kinds returns every entity kind in catalogue order.
func Kinds() []Kind {
	return append([]Kind(nil), orderedKinds...)
}

// Valid reports whether k names an entity kind (the root is not one).
func (k Kind) Valid() bool {
	_, ok := kindTraits[k]
	return ok
}

// Traits returns the capability field groups the kind carries.
func (k Kind) Traits() Trait { return kindTraits[k] }

// Has reports whether the kind carries trait t.
func (k Kind) Has(t Trait) bool { return kindTraits[k]&t == t }

// IsActivity reports whether work can be logged against the kind.
func (k Kind) IsActivity() bool { return k.Has(TraitTimeout) }

// IsTask reports whether the kind is a public or private task.
func (k Kind) IsTask() bool { return k == KindPublicTask || k == KindPrivateTask }

// IsWorkload reports whether activities and beneficiaries can attach to the kind.
func (k Kind) IsWorkload() bool { return k == KindProject || k == KindWorkStream }

// IsPrivate reports whether instances are owned by a single user.
func (k Kind) IsPrivate() bool { return k == KindPrivateActivity || k == KindPrivateTask }

// State is the lifecycle state of an entity.
type State uint8

// Lifecycle states. Live to Dead is the only transition after registration.
const (
	StatePending State = iota
	StateLive
	StateDead
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLive:
		return "live"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Object is a read-only copy of an entity taken under the store guard.
type Object struct {
	OID        OID
	Kind       Kind
	State      State
	Properties Properties
}

// Live reports whether the entity was live when the copy was taken.
func (o Object) Live() bool { return o.State == StateLive }

// Timeout returns the activity timeout when the kind carries one and it is set.
func (o Object) Timeout() (time.Duration, bool) {
	if !o.Kind.Has(TraitTimeout) || o.Properties.Timeout == nil {
		return 0, false
	}
	return *o.Properties.Timeout, true
}

// Completed reports the completion flag for kinds that carry it.
func (o Object) Completed() (completed bool, ok bool) {
	if !o.Kind.Has(TraitCompletion) {
		return false, false
	}
	return o.Properties.Completed, true
}
