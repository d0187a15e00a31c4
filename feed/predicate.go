package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Channel names for the two subscription shapes
const (
	ListChannelPrefix   = "list_items:"
	NotificationChannel = "list_items_notifications"
)

// ErrNilHandler is returned when subscribing without a handler
var ErrNilHandler = errors.New("handler is required")

// Predicate describes which change events a subscription wants.
// It is registered at the transport, not applied after delivery.
type Predicate struct {
	Channel string      // Human-readable channel name
	Table   string      // Glob pattern over table names; empty matches all
	Events  []Operation // Empty matches all operations
	ListID  string      // Empty matches all lists
}

// ListPredicate matches every operation on one list's items
func ListPredicate(listID string) Predicate {
	return Predicate{
		Channel: ListChannelPrefix + listID,
		Table:   string(TableListItems),
		ListID:  listID,
	}
}

// GlobalPredicate matches inserts and updates on every list.
// Membership filtering happens after delivery.
func GlobalPredicate() Predicate {
	return Predicate{
		Channel: NotificationChannel,
		Table:   string(TableListItems),
		Events:  []Operation{OpInsert, OpUpdate},
	}
}

// AllEvents reports whether the predicate accepts every operation
func (p Predicate) AllEvents() bool {
	if len(p.Events) == 0 {
		return true
	}
	for _, op := range AllOperations {
		if !p.hasEvent(op) {
			return false
		}
	}
	return true
}

func (p Predicate) hasEvent(op Operation) bool {
	for _, e := range p.Events {
		if e == op {
			return true
		}
	}
	return false
}

func (p Predicate) String() string {
	events := "*"
	if !p.AllEvents() {
		names := make([]string, 0, len(p.Events))
		for _, e := range p.Events {
			names = append(names, e.String())
		}
		events = strings.Join(names, "|")
	}
	filter := ""
	if p.ListID != "" {
		filter = fmt.Sprintf(", filter: list_id = %s", p.ListID)
	}
	return fmt.Sprintf("{event: %s, table: %s%s}", events, p.Table, filter)
}

// Matcher is a compiled Predicate
type Matcher struct {
	pred      Predicate
	tableGlob glob.Glob
}

// Compile validates the predicate and compiles its table pattern
func (p Predicate) Compile() (*Matcher, error) {
	m := &Matcher{pred: p}
	if p.Table != "" {
		g, err := glob.Compile(p.Table)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", p.Table, err)
		}
		m.tableGlob = g
	}
	return m, nil
}

// Predicate returns the source predicate
func (m *Matcher) Predicate() Predicate {
	return m.pred
}

// Match returns true if the event satisfies the predicate
func (m *Matcher) Match(event ChangeEvent) bool {
	if m.tableGlob != nil && !m.tableGlob.Match(string(event.Table)) {
		return false
	}
	if !m.pred.AllEvents() && !m.pred.hasEvent(event.Operation) {
		return false
	}
	if m.pred.ListID != "" && event.Row.ListID != m.pred.ListID {
		return false
	}
	return true
}
