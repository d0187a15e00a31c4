package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func collect(ch chan ChangeEvent) Handler {
	return func(ev ChangeEvent) { ch <- ev }
}

func TestHub_BasicSubscribePublish(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	events := make(chan ChangeEvent, 1)
	sub, err := hub.Subscribe(context.Background(), ListPredicate("abc"), collect(events))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), itemEvent(OpInsert, "abc")))

	select {
	case ev := <-events:
		assert.Equal(t, "abc", ev.Row.ListID)
		assert.Equal(t, OpInsert, ev.Operation)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_PredicateFiltersAtPublish(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	events := make(chan ChangeEvent, 4)
	_, err := hub.Subscribe(context.Background(), ListPredicate("abc"), collect(events))
	require.NoError(t, err)

	hub.Publish(context.Background(), itemEvent(OpInsert, "xyz"))

	select {
	case ev := <-events:
		t.Errorf("should not receive event for xyz, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FanOutCopiesEvents(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	a := make(chan ChangeEvent, 1)
	b := make(chan ChangeEvent, 1)
	_, err := hub.Subscribe(context.Background(), ListPredicate("abc"), func(ev ChangeEvent) {
		ev.Old.Name = "mutated"
		a <- ev
	})
	require.NoError(t, err)
	_, err = hub.Subscribe(context.Background(), GlobalPredicate(), collect(b))
	require.NoError(t, err)

	ev := itemEvent(OpUpdate, "abc")
	ev.Old = &RowSnapshot{ListID: "abc", Name: "original"}
	require.NoError(t, hub.Publish(context.Background(), ev))

	<-a
	got := <-b
	assert.Equal(t, "original", got.Old.Name)
	assert.Equal(t, "original", ev.Old.Name)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(0)
	events := make(chan ChangeEvent, 4)
	sub, err := hub.Subscribe(context.Background(), ListPredicate("abc"), collect(events))
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Len())

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, hub.Len())

	hub.Publish(context.Background(), itemEvent(OpInsert, "abc"))
	select {
	case <-events:
		t.Error("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, hub.Close())
}

func TestHub_DoubleUnsubscribe(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background(), GlobalPredicate(), func(ChangeEvent) {})
	require.NoError(t, err)

	assert.NoError(t, sub.Unsubscribe())
	assert.NoError(t, sub.Unsubscribe())
}

func TestHub_NilHandler(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	_, err := hub.Subscribe(context.Background(), GlobalPredicate(), nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestHub_ClosedHubRejects(t *testing.T) {
	hub := NewHub(0)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, err := hub.Subscribe(context.Background(), GlobalPredicate(), func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, hub.Publish(context.Background(), itemEvent(OpInsert, "a")), ErrHubClosed)
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	release := make(chan struct{})
	var received atomic.Int32
	_, err := hub.Subscribe(context.Background(), GlobalPredicate(), func(ChangeEvent) {
		<-release
		received.Add(1)
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			hub.Publish(context.Background(), itemEvent(OpInsert, "a"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)

	assert.Eventually(t, func() bool { return received.Load() >= 4 }, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, received.Load(), int32(5))
}

func TestHub_Reconnect(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	var calls atomic.Int32
	hub.OnReconnect(func() { calls.Add(1) })
	hub.OnReconnect(func() { calls.Add(1) })

	hub.Reconnect()
	assert.Equal(t, int32(2), calls.Load())
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(256)
	const subscribers = 10
	const published = 100

	var wg sync.WaitGroup
	var total atomic.Int64
	for i := 0; i < subscribers; i++ {
		sub, err := hub.Subscribe(context.Background(), ListPredicate("abc"), func(ChangeEvent) {
			total.Add(1)
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < published; i++ {
			hub.Publish(context.Background(), itemEvent(OpUpdate, "abc"))
		}
	}()
	wg.Wait()

	assert.Eventually(t, func() bool { return total.Load() == subscribers*published }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Close())
}
