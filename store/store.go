package store

import (
	"context"
	"sort"
	"sync"
)

// Item is one row of list_items as the app caches it
type Item struct {
	ID             string `db:"id" json:"id"`
	ListID         string `db:"list_id" json:"list_id"`
	Name           string `db:"name" json:"name"`
	IsChecked      bool   `db:"is_checked" json:"is_checked"`
	LastModifiedBy string `db:"last_modified_by" json:"last_modified_by"`
}

// Reconciler refetches authoritative list state. Change events only signal
// that something changed; the refetched rows replace whatever was cached.
type Reconciler interface {
	RefetchListItems(ctx context.Context, listID string) error
}

// snapshots is the replace-on-read cache shared by the store implementations
type snapshots struct {
	mu    sync.RWMutex
	lists map[string][]Item
}

func newSnapshots() *snapshots {
	return &snapshots{lists: make(map[string][]Item)}
}

func (s *snapshots) replace(listID string, items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	s.mu.Lock()
	s.lists[listID] = items
	s.mu.Unlock()
}

func (s *snapshots) get(listID string) ([]Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.lists[listID]
	if !ok {
		return nil, false
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out, true
}
