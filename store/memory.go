package store

import (
	"context"
	"sync"
)

// MemoryStore is a Reconciler over an in-memory table. It counts refetches
// per list, which the session tests rely on.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]Item
	refetches map[string]int
	err       error

	snap *snapshots
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      make(map[string]Item),
		refetches: make(map[string]int),
		snap:      newSnapshots(),
	}
}

// Put writes an item
func (s *MemoryStore) Put(item Item) {
	s.mu.Lock()
	s.rows[item.ID] = item
	s.mu.Unlock()
}

// Delete removes an item
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.rows, id)
	s.mu.Unlock()
}

// FailWith makes subsequent refetches return err; nil clears it
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// RefetchListItems copies the list's rows into the cached snapshot
func (s *MemoryStore) RefetchListItems(ctx context.Context, listID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.refetches[listID]++
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	var items []Item
	for _, it := range s.rows {
		if it.ListID == listID {
			items = append(items, it)
		}
	}
	s.mu.Unlock()

	s.snap.replace(listID, items)
	return nil
}

// Items returns the last refetched items of a list
func (s *MemoryStore) Items(listID string) ([]Item, bool) {
	return s.snap.get(listID)
}

// Refetches returns how many times the list was refetched
func (s *MemoryStore) Refetches(listID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refetches[listID]
}
