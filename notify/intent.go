package notify

import "time"

// Intent is a notification ready to be shown. Tag is the coalescing key:
// a second intent with the same tag replaces an unseen earlier one.
type Intent struct {
	Title string `msgpack:"title" json:"title"`
	Body  string `msgpack:"body" json:"body"`
	Tag   string `msgpack:"tag" json:"tag"`

	// RowID identifies the row behind the intent. It scopes the local dedup
	// cache and is not sent to the platform.
	RowID string `msgpack:"-" json:"-"`
}

// Handle identifies a dispatched notification
type Handle struct {
	ID       string
	Tag      string
	IssuedAt time.Time
}
