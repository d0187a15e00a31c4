package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingTransport records every subscribe and unsubscribe
type countingTransport struct {
	mu           sync.Mutex
	subscribes   int
	unsubscribes int
	live         map[*countingSub]struct{}
	failNext     error
	reconnectFns []func()
}

type countingSub struct {
	t         *countingTransport
	predicate feed.Predicate
	handler   feed.Handler
	done      bool
}

func (s *countingSub) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.t.unsubscribes++
	delete(s.t.live, s)
	return nil
}

func newCountingTransport() *countingTransport {
	return &countingTransport{live: make(map[*countingSub]struct{})}
}

func (t *countingTransport) Subscribe(_ context.Context, p feed.Predicate, h feed.Handler) (feed.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return nil, err
	}
	t.subscribes++
	s := &countingSub{t: t, predicate: p, handler: h}
	t.live[s] = struct{}{}
	return s, nil
}

func (t *countingTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	t.reconnectFns = append(t.reconnectFns, fn)
	t.mu.Unlock()
}

func (t *countingTransport) reconnect() {
	t.mu.Lock()
	fns := append([]func(){}, t.reconnectFns...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// emit delivers ev to every live subscription matching its channel
func (t *countingTransport) emit(channel string, ev feed.ChangeEvent) {
	t.mu.Lock()
	var handlers []feed.Handler
	for s := range t.live {
		if s.predicate.Channel == channel {
			handlers = append(handlers, s.handler)
		}
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (t *countingTransport) liveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *countingTransport) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribes, t.unsubscribes
}

func noop(feed.ChangeEvent) {}

func TestWatchRegistersAtTransport(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	h, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, ListKey("abc"), h.Key())
	assert.Equal(t, "list_items:abc", h.Predicate().Channel)
	assert.True(t, h.Active())
	assert.Equal(t, 1, tr.liveCount())
	assert.Equal(t, []Key{ListKey("abc")}, m.Keys())
}

func TestWatchSameKeyTwiceKeepsOneLiveSubscription(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	first, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)
	second, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)

	subs, unsubs := tr.counts()
	assert.Equal(t, 2, subs)
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, tr.liveCount())
	assert.Equal(t, 1, m.Len())
	assert.False(t, first.Active())
	assert.True(t, second.Active())
}

func TestUnwatchIsIdempotent(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	h, err := m.Watch(context.Background(), GlobalKey, feed.GlobalPredicate(), noop)
	require.NoError(t, err)

	m.Unwatch(h)
	m.Unwatch(h)
	m.Unwatch(nil)

	_, unsubs := tr.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, tr.liveCount())
}

func TestUnwatchSupersededHandleKeepsNewer(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	old, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)
	newer, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)

	m.Unwatch(old)

	cur, ok := m.Lookup(ListKey("abc"))
	require.True(t, ok)
	assert.Same(t, newer, cur)
	assert.True(t, newer.Active())
	assert.Equal(t, 1, tr.liveCount())
}

func TestSupersededHandleStopsDelivering(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	var oldHits, newHits int
	old, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), func(feed.ChangeEvent) { oldHits++ })
	require.NoError(t, err)

	// A transport may still hold a reference to the old handler
	oldDeliver := old.deliver

	_, err = m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), func(feed.ChangeEvent) { newHits++ })
	require.NoError(t, err)

	ev := feed.ChangeEvent{Table: feed.TableListItems, Operation: feed.OpInsert, Row: feed.RowSnapshot{ListID: "abc"}}
	oldDeliver(ev)
	tr.emit("list_items:abc", ev)

	assert.Equal(t, 0, oldHits)
	assert.Equal(t, 1, newHits)
}

func TestWatchSubscribeFailure(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	tr.failNext = errors.New("connection refused")
	h, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 0, m.Len())

	_, ok := m.Lookup(ListKey("abc"))
	assert.False(t, ok)
}

func TestWatchNilHandler(t *testing.T) {
	m := NewManager(newCountingTransport())
	defer m.Close()

	_, err := m.Watch(context.Background(), GlobalKey, feed.GlobalPredicate(), nil)
	require.ErrorIs(t, err, feed.ErrNilHandler)
}

func TestResubscribeOnReconnect(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	var hits int
	h, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), func(feed.ChangeEvent) { hits++ })
	require.NoError(t, err)
	_, err = m.Watch(context.Background(), GlobalKey, feed.GlobalPredicate(), noop)
	require.NoError(t, err)

	tr.reconnect()

	subs, unsubs := tr.counts()
	assert.Equal(t, 4, subs)
	assert.Equal(t, 2, unsubs)
	assert.Equal(t, 2, tr.liveCount())
	assert.Equal(t, []Key{ListKey("abc"), GlobalKey}, m.Keys())
	assert.True(t, h.Active())

	tr.emit("list_items:abc", feed.ChangeEvent{Row: feed.RowSnapshot{ListID: "abc"}})
	assert.Equal(t, 1, hits)

	// The original handle still tears down the re-issued subscription
	m.Unwatch(h)
	assert.Equal(t, 1, tr.liveCount())
}

func TestResubscribeDropsFailedKeys(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	h, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)

	tr.failNext = errors.New("not yet connected")
	m.Resubscribe(context.Background())

	assert.Equal(t, 0, m.Len())
	assert.False(t, h.Active())
	assert.Equal(t, 0, tr.liveCount())
}

func TestCloseTearsDownEverything(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Watch(context.Background(), ListKey(id), feed.ListPredicate(id), noop)
		require.NoError(t, err)
	}

	m.Close()
	m.Close()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, tr.liveCount())

	_, err := m.Watch(context.Background(), GlobalKey, feed.GlobalPredicate(), noop)
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentWatchSameKey(t *testing.T) {
	tr := newCountingTransport()
	m := NewManager(tr)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tr.liveCount())
	assert.Equal(t, 1, m.Len())
}

func TestWithHub(t *testing.T) {
	hub := feed.NewHub(8)
	defer hub.Close()

	m := NewManager(hub)
	defer m.Close()

	got := make(chan feed.ChangeEvent, 1)
	_, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), func(ev feed.ChangeEvent) { got <- ev })
	require.NoError(t, err)

	hub.Reconnect()
	assert.Equal(t, 1, hub.Len())

	require.NoError(t, hub.Publish(context.Background(), feed.ChangeEvent{
		Table:     feed.TableListItems,
		Operation: feed.OpInsert,
		Row:       feed.RowSnapshot{ID: "r1", ListID: "abc", Name: "Milk"},
	}))

	select {
	case ev := <-got:
		assert.Equal(t, "Milk", ev.Row.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestActiveSubscriptionsGaugeFollowsRegistry(t *testing.T) {
	saved := telemetry.ActiveSubscriptions
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_active_subscriptions"})
	telemetry.ActiveSubscriptions = gauge
	defer func() { telemetry.ActiveSubscriptions = saved }()

	tr := newCountingTransport()
	m := NewManager(tr)

	_, err := m.Watch(context.Background(), GlobalKey, feed.GlobalPredicate(), noop)
	require.NoError(t, err)
	h, err := m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)
	_, err = m.Watch(context.Background(), ListKey("abc"), feed.ListPredicate("abc"), noop)
	require.NoError(t, err)
	assert.Equal(t, float64(m.Len()), testutil.ToFloat64(gauge))

	m.Unwatch(h)
	assert.Equal(t, float64(m.Len()), testutil.ToFloat64(gauge))

	m.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))
}
