package sink

import (
	"context"
	"sync"
	"time"

	"github.com/shopwise/listsync/notify"
)

// MockSink records intents for testing
type MockSink struct {
	Intents  []notify.Intent
	SendErr  error
	Coalesce bool
	Delay    time.Duration // Simulated delivery latency
	mu       sync.Mutex
}

// Send records an intent for later inspection in tests
func (m *MockSink) Send(_ context.Context, intent notify.Intent) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	m.Intents = append(m.Intents, intent)
	return nil
}

// CoalescesByTag returns Coalesce
func (m *MockSink) CoalescesByTag() bool {
	return m.Coalesce
}

// Sent returns the number of recorded intents
func (m *MockSink) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Intents)
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded intents
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Intents = nil
}
