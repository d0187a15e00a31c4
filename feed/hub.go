package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/telemetry"
)

// DefaultBufferSize is the per-subscription delivery buffer.
// Events for a subscriber whose buffer is full are dropped (non-blocking send).
const DefaultBufferSize = 64

// ErrHubClosed is returned by Subscribe and Publish after Close
var ErrHubClosed = errors.New("hub closed")

// hubSubscription represents a single subscriber.
type hubSubscription struct {
	id      uint64
	hub     *Hub
	matcher *Matcher
	handler Handler
	ch      chan ChangeEvent
	closed  atomic.Bool
}

// Unsubscribe removes the subscription from its hub. Idempotent.
func (s *hubSubscription) Unsubscribe() error {
	s.hub.unsubscribe(s.id)
	return nil
}

// close closes the delivery channel if not already closed.
func (s *hubSubscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// deliver runs the handler for each queued event until the channel closes.
// Events still queued at unsubscribe time are discarded.
func (s *hubSubscription) deliver(wg *sync.WaitGroup) {
	defer wg.Done()
	for ev := range s.ch {
		if s.closed.Load() {
			continue
		}
		s.handler(ev)
	}
}

// Hub is an in-process Transport and Publisher.
// Thread-safe fan-out of change events to matching subscribers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*hubSubscription
	nextID        atomic.Uint64
	bufferSize    int
	closed        bool
	wg            sync.WaitGroup

	reconnectMu  sync.Mutex
	reconnectFns []func()
}

// NewHub creates a new in-process change feed hub.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subscriptions: make(map[uint64]*hubSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe registers a predicate and handler.
func (h *Hub) Subscribe(_ context.Context, p Predicate, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	matcher, err := p.Compile()
	if err != nil {
		return nil, err
	}

	sub := &hubSubscription{
		id:      h.nextID.Add(1),
		hub:     h,
		matcher: matcher,
		handler: handler,
		ch:      make(chan ChangeEvent, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subscriptions[sub.id] = sub
	h.wg.Add(1)
	h.mu.Unlock()

	go sub.deliver(&h.wg)

	return sub, nil
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish sends a copy of the event to every matching subscriber (non-blocking).
func (h *Hub) Publish(_ context.Context, event ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}

	telemetry.ChangeEventsTotal.With(event.Operation.String()).Inc()

	for _, sub := range h.subscriptions {
		if !sub.matcher.Match(event) {
			continue
		}

		select {
		case sub.ch <- event.Clone():
		default:
			log.Warn().
				Uint64("subscription", sub.id).
				Str("channel", sub.matcher.Predicate().Channel).
				Msg("Subscriber buffer full, dropping change event")
		}
	}
	return nil
}

// OnReconnect registers a callback fired by Reconnect.
func (h *Hub) OnReconnect(fn func()) {
	h.reconnectMu.Lock()
	h.reconnectFns = append(h.reconnectFns, fn)
	h.reconnectMu.Unlock()
}

// Reconnect simulates a transport reconnect by firing reconnect callbacks.
func (h *Hub) Reconnect() {
	h.reconnectMu.Lock()
	fns := make([]func(), len(h.reconnectFns))
	copy(fns, h.reconnectFns)
	h.reconnectMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close removes every subscription and waits for delivery goroutines to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*hubSubscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.wg.Wait()
	return nil
}
