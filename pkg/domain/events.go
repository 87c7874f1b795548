package domain

import "fmt"

// EventType enumerates change notifications.
type EventType uint8

// Event types.
const (
	EventClosed EventType = iota + 1
	EventCreated
	EventDestroyed
	EventModified
)

func (t EventType) String() string {
	switch t {
	case EventClosed:
		return "closed"
	case EventCreated:
		return "created"
	case EventDestroyed:
		return "destroyed"
	case EventModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Event is one change notification. Closed events carry no entity.
type Event struct {
	Type  EventType
	Kind  Kind
	OID   OID
	Store string
}

func (e Event) String() string {
	if e.Type == EventClosed {
		return fmt.Sprintf("%s(%s)", e.Type, e.Store)
	}
	return fmt.Sprintf("%s(%s %s)", e.Type, e.Kind, e.OID)
}

// CreatedEvent reports a new live entity.
func CreatedEvent(kind Kind, oid OID) Event {
	return Event{Type: EventCreated, Kind: kind, OID: oid}
}

// DestroyedEvent reports an entity that became dead.
func DestroyedEvent(kind Kind, oid OID) Event {
	return Event{Type: EventDestroyed, Kind: kind, OID: oid}
}

// ModifiedEvent reports an observable change to an entity.
func ModifiedEvent(kind Kind, oid OID) Event {
	return Event{Type: EventModified, Kind: kind, OID: oid}
}

// ClosedEvent reports that a store was closed.
func ClosedEvent(store string) Event {
	return Event{Type: EventClosed, Store: store}
}
