package permission

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// MemoryStore is a PreferenceStore that lives as long as the process
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewMemoryStore creates an empty in-memory preference store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]bool)}
}

// GetBool returns the stored value, false when unset
func (s *MemoryStore) GetBool(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// SetBool stores value under key
func (s *MemoryStore) SetBool(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// PebbleStore is a PreferenceStore persisted with Pebble.
// Keys are namespaced under /prefs/.
type PebbleStore struct {
	db *pebble.DB
}

const prefixPrefs = "/prefs/"

// OpenPebbleStore opens or creates a preference store in dir
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// GetBool returns the stored value, false when unset
func (s *PebbleStore) GetBool(key string) (bool, error) {
	val, closer, err := s.db.Get([]byte(prefixPrefs + key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if len(val) != 1 {
		return false, fmt.Errorf("corrupted preference %s: invalid length %d", key, len(val))
	}
	return val[0] == 1, nil
}

// SetBool stores value under key, synced to disk
func (s *PebbleStore) SetBool(key string, value bool) error {
	b := byte(0)
	if value {
		b = 1
	}
	if err := s.db.Set([]byte(prefixPrefs+key), []byte{b}, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
