// Package filter classifies change events against the current session.
//
// Classify is pure: it reads only its arguments, so every decision can be
// checked against literal event and context fixtures.
package filter

import (
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/notify"
)

// Notification constants shown to collaborators
const (
	AppTitle       = "ShopWise"
	TagItemAdded   = "list-item-added"
	TagItemChecked = "list-item-checked"
)

// Action is what the session should do with a change event
type Action uint8

const (
	// Ignore drops the event
	Ignore Action = iota
	// Reconcile refetches the affected list
	Reconcile
	// Notify refetches the affected list and raises a notification
	Notify
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Reconcile:
		return "reconcile"
	case Notify:
		return "notify"
	default:
		return "unknown"
	}
}

// Context is the current-session state an event is classified against
type Context struct {
	CurrentUserID  string
	WatchedListIDs map[string]struct{}
	IsForeground   bool
}

// NewContext builds a Context watching the given lists
func NewContext(userID string, foreground bool, listIDs ...string) Context {
	watched := make(map[string]struct{}, len(listIDs))
	for _, id := range listIDs {
		watched[id] = struct{}{}
	}
	return Context{
		CurrentUserID:  userID,
		WatchedListIDs: watched,
		IsForeground:   foreground,
	}
}

// Watches reports whether listID is in the watched set
func (c Context) Watches(listID string) bool {
	_, ok := c.WatchedListIDs[listID]
	return ok
}

// Decision is the result of Classify. Intent is set only for Notify.
type Decision struct {
	Action Action
	Intent *notify.Intent
}

// ShouldReconcile reports whether the affected list must be refetched.
// Notify implies Reconcile.
func (d Decision) ShouldReconcile() bool {
	return d.Action == Reconcile || d.Action == Notify
}

// ShouldNotify reports whether a notification intent was produced
func (d Decision) ShouldNotify() bool {
	return d.Action == Notify && d.Intent != nil
}

// Classify decides what to do with event. First match wins:
//
//  1. list not watched (or not a list item) -> Ignore
//  2. authored by the current user -> Reconcile
//  3. insert -> Notify(list-item-added)
//  4. update checking an item off -> Notify(list-item-checked); other updates -> Reconcile
//  5. foregrounded view -> Notify downgraded to Reconcile
//
// Deletes always reconcile.
func Classify(event feed.ChangeEvent, ctx Context) Decision {
	if event.Table != feed.TableListItems || !ctx.Watches(event.Row.ListID) {
		return Decision{Action: Ignore}
	}

	if IsSelfOriginated(event, ctx.CurrentUserID) {
		return Decision{Action: Reconcile}
	}

	var intent *notify.Intent
	switch event.Operation {
	case feed.OpInsert:
		intent = &notify.Intent{
			Title: AppTitle,
			Body:  `Someone added "` + event.Row.Name + `" to a shared list`,
			Tag:   TagItemAdded,
			RowID: event.Row.ID,
		}
	case feed.OpUpdate:
		if IsCheckTransition(event) {
			intent = &notify.Intent{
				Title: AppTitle,
				Body:  `Someone checked off "` + event.Row.Name + `"`,
				Tag:   TagItemChecked,
				RowID: event.Row.ID,
			}
		}
	}

	if intent == nil || ctx.IsForeground {
		return Decision{Action: Reconcile}
	}
	return Decision{Action: Notify, Intent: intent}
}

// IsSelfOriginated reports whether userID authored the event. The row's
// last_modified_by stands in when the transport did not report an actor.
func IsSelfOriginated(event feed.ChangeEvent, userID string) bool {
	if userID == "" {
		return false
	}
	actor := event.ActorID
	if actor == "" {
		actor = event.Row.LastModifiedBy
	}
	return actor == userID
}

// IsCheckTransition reports an update moving an item from unchecked to
// checked. Without the previous row image the transition cannot be proven.
func IsCheckTransition(event feed.ChangeEvent) bool {
	if event.Operation != feed.OpUpdate || event.Old == nil {
		return false
	}
	return !event.Old.IsChecked && event.Row.IsChecked
}
