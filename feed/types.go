package feed

import (
	"context"
	"fmt"
)

// Table names a table carried by the change feed
type Table string

// TableListItems is the only table the collaboration layer listens to
const TableListItems Table = "list_items"

// Operation is the row-level change kind
type Operation uint8

// Operation types for change events
const (
	OpInsert Operation = 0
	OpUpdate Operation = 1
	OpDelete Operation = 2
)

// AllOperations lists every operation in wire order
var AllOperations = []Operation{OpInsert, OpUpdate, OpDelete}

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// ParseOperation parses the string form of an operation
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "insert":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// RowSnapshot holds the list item fields the collaboration layer needs
type RowSnapshot struct {
	ID             string `msgpack:"id"`
	ListID         string `msgpack:"list_id"`
	Name           string `msgpack:"name"`
	IsChecked      bool   `msgpack:"is_checked"`
	LastModifiedBy string `msgpack:"last_modified_by"`
}

// ChangeEvent is a single row-level change pushed by the backend.
// Old is the previous row image for updates, when the backend sends one.
// An empty ActorID means the actor is unknown.
type ChangeEvent struct {
	Table     Table        `msgpack:"tbl"`
	Operation Operation    `msgpack:"op"`
	Row       RowSnapshot  `msgpack:"row"`
	Old       *RowSnapshot `msgpack:"old,omitempty"`
	ActorID   string       `msgpack:"actor,omitempty"`
	CommitTS  int64        `msgpack:"ts"` // unix ms
}

// Clone returns a copy that shares no memory with e
func (e ChangeEvent) Clone() ChangeEvent {
	if e.Old != nil {
		old := *e.Old
		e.Old = &old
	}
	return e
}

// Handler receives change events for one subscription
type Handler func(ChangeEvent)

// Subscription is the transport-level handle for one registered predicate
type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe() error
}

// Transport establishes push-side filtered subscriptions
type Transport interface {
	Subscribe(ctx context.Context, p Predicate, h Handler) (Subscription, error)
}

// Publisher emits change events onto the feed
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// ReconnectNotifier is implemented by transports that can report a
// reconnect after which subscriptions should be re-issued
type ReconnectNotifier interface {
	OnReconnect(fn func())
}
