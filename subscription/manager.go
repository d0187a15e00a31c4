package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/telemetry"
)

// Key identifies a logical subscription owned by the session
type Key string

// GlobalKey is the key of the notification-wide subscription
const GlobalKey Key = Key(feed.NotificationChannel)

// ListKey returns the key of a single list's subscription. List keys carry
// the list channel prefix so no list id can collide with GlobalKey.
func ListKey(listID string) Key {
	return Key(feed.ListChannelPrefix + listID)
}

// ErrClosed is returned by Watch after Close
var ErrClosed = errors.New("subscription manager closed")

// Handle is the caller's reference to a registered subscription. It stays
// valid across reconnects.
type Handle struct {
	key       Key
	predicate feed.Predicate
	onEvent   feed.Handler
	sub       feed.Subscription // guarded by Manager.mu
	released  atomic.Bool
}

// Key returns the key the handle was registered under
func (h *Handle) Key() Key {
	return h.key
}

// Predicate returns the predicate registered at the transport
func (h *Handle) Predicate() feed.Predicate {
	return h.predicate
}

// Active reports whether the handle still owns a live subscription
func (h *Handle) Active() bool {
	return !h.released.Load()
}

func (h *Handle) deliver(ev feed.ChangeEvent) {
	if h.released.Load() {
		return
	}
	h.onEvent(ev)
}

// Manager owns the key -> subscription registry. At most one live transport
// subscription exists per key.
type Manager struct {
	transport feed.Transport
	registry  *xsync.MapOf[Key, *Handle]

	mu     sync.Mutex // serializes registry mutations and transport calls
	closed bool
}

// NewManager creates a manager over transport. If the transport reports
// reconnects, live subscriptions are re-issued automatically.
func NewManager(transport feed.Transport) *Manager {
	m := &Manager{
		transport: transport,
		registry:  xsync.NewMapOf[Key, *Handle](),
	}

	if rn, ok := transport.(feed.ReconnectNotifier); ok {
		rn.OnReconnect(func() {
			m.Resubscribe(context.Background())
		})
	}

	return m
}

// Watch registers predicate under key, tearing down any live subscription
// already registered under the same key.
func (m *Manager) Watch(ctx context.Context, key Key, predicate feed.Predicate, onEvent feed.Handler) (*Handle, error) {
	if onEvent == nil {
		return nil, feed.ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if old, ok := m.registry.LoadAndDelete(key); ok {
		m.release(old)
		log.Debug().Str("key", string(key)).Msg("Replaced existing subscription")
	}

	h := &Handle{key: key, predicate: predicate, onEvent: onEvent}
	sub, err := m.transport.Subscribe(ctx, predicate, h.deliver)
	if err != nil {
		h.released.Store(true)
		telemetry.SubscribeTotal.With("failed").Inc()
		log.Warn().Err(err).Str("key", string(key)).Str("predicate", predicate.String()).Msg("Failed to subscribe")
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}
	h.sub = sub

	m.registry.Store(key, h)
	telemetry.SubscribeTotal.With("success").Inc()
	telemetry.ActiveSubscriptions.Inc()

	log.Debug().Str("key", string(key)).Str("predicate", predicate.String()).Msg("Subscribed")

	return h, nil
}

// Unwatch tears down the subscription behind h. Calling it again, or with a
// handle that a later Watch replaced, does nothing.
func (m *Manager) Unwatch(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released.Load() {
		return
	}

	m.registry.Compute(h.key, func(cur *Handle, loaded bool) (*Handle, bool) {
		return cur, !loaded || cur == h
	})
	m.release(h)

	log.Debug().Str("key", string(h.key)).Msg("Unsubscribed")
}

// release unsubscribes h once. Caller holds m.mu.
func (m *Manager) release(h *Handle) {
	if h.released.Swap(true) {
		return
	}
	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("key", string(h.key)).Msg("Failed to unsubscribe")
		}
	}
	telemetry.ActiveSubscriptions.Dec()
}

// Resubscribe re-issues every live subscription under the same key. Keys
// whose subscribe fails are dropped from the registry.
func (m *Manager) Resubscribe(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	var handles []*Handle
	m.registry.Range(func(_ Key, h *Handle) bool {
		handles = append(handles, h)
		return true
	})

	for _, h := range handles {
		if h.sub != nil {
			if err := h.sub.Unsubscribe(); err != nil {
				log.Warn().Err(err).Str("key", string(h.key)).Msg("Failed to unsubscribe before resubscribe")
			}
			h.sub = nil
		}

		sub, err := m.transport.Subscribe(ctx, h.predicate, h.deliver)
		if err != nil {
			m.registry.Delete(h.key)
			h.released.Store(true)
			telemetry.ActiveSubscriptions.Dec()
			telemetry.SubscribeTotal.With("failed").Inc()
			log.Error().Err(err).Str("key", string(h.key)).Msg("Failed to resubscribe")
			continue
		}
		h.sub = sub
		telemetry.ResubscribesTotal.Inc()
	}

	log.Info().Int("subscriptions", len(handles)).Msg("Resubscribed after reconnect")
}

// Lookup returns the live handle for key
func (m *Manager) Lookup(key Key) (*Handle, bool) {
	return m.registry.Load(key)
}

// Keys returns the live keys in sorted order
func (m *Manager) Keys() []Key {
	keys := make([]Key, 0, m.registry.Size())
	m.registry.Range(func(k Key, _ *Handle) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of live subscriptions
func (m *Manager) Len() int {
	return m.registry.Size()
}

// Close tears down every live subscription. Further Watch calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	m.registry.Range(func(_ Key, h *Handle) bool {
		m.release(h)
		return true
	})
	m.registry.Clear()
}
