package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/filter"
	"github.com/shopwise/listsync/notify"
	"github.com/shopwise/listsync/store"
	"github.com/shopwise/listsync/subscription"
	"github.com/shopwise/listsync/telemetry"
)

// DefaultRefetchTimeout bounds one refetch round-trip
const DefaultRefetchTimeout = 5 * time.Second

// ErrClosed is returned by Start and WatchList after Close
var ErrClosed = errors.New("session closed")

// Dispatcher shows notification intents
type Dispatcher interface {
	Dispatch(ctx context.Context, intent notify.Intent) (*notify.Handle, error)
}

// Config describes the signed-in user on this device
type Config struct {
	UserID         string
	Foreground     bool
	MemberLists    []string
	RefetchTimeout time.Duration
	Debounce       time.Duration // Coalesce refetches per list; 0 refetches on every event
}

// Session connects the change feed to the filter, the reconciler and the
// notification dispatcher for one user.
//
// Events from the global channel may raise notifications. Events from a
// list channel only refresh that list; while a list channel is live the
// global channel does not refetch it again.
type Session struct {
	userID         string
	refetchTimeout time.Duration
	debounce       time.Duration

	manager    *subscription.Manager
	dispatcher Dispatcher
	reconciler store.Reconciler

	mu         sync.RWMutex
	closed     bool
	foreground bool
	members    map[string]struct{}
	viewed     map[string]*subscription.Handle
	global     *subscription.Handle

	pending *xsync.MapOf[string, *debounceTimer]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session. Call Start to subscribe to the global channel.
func NewSession(config Config, manager *subscription.Manager, dispatcher Dispatcher, reconciler store.Reconciler) (*Session, error) {
	if config.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if manager == nil || dispatcher == nil || reconciler == nil {
		return nil, fmt.Errorf("manager, dispatcher and reconciler are required")
	}

	timeout := config.RefetchTimeout
	if timeout <= 0 {
		timeout = DefaultRefetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		userID:         config.UserID,
		refetchTimeout: timeout,
		debounce:       config.Debounce,
		manager:        manager,
		dispatcher:     dispatcher,
		reconciler:     reconciler,
		foreground:     config.Foreground,
		members:        toSet(config.MemberLists),
		viewed:         make(map[string]*subscription.Handle),
		pending:        xsync.NewMapOf[string, *debounceTimer](),
		ctx:            ctx,
		cancel:         cancel,
	}

	return s, nil
}

// Start subscribes to notification-worthy events across all lists
func (s *Session) Start(ctx context.Context) error {
	h, err := s.manager.Watch(ctx, subscription.GlobalKey, feed.GlobalPredicate(), s.handler(true))
	if err != nil {
		return err
	}

	if !s.track(h, func() { s.global = h }) {
		return ErrClosed
	}

	log.Info().
		Str("user_id", s.userID).
		Int("member_lists", len(s.MemberLists())).
		Msg("Realtime session started")
	return nil
}

// WatchList subscribes to every change of one list, typically while its
// detail view is open. Watching an already watched list re-subscribes it.
func (s *Session) WatchList(ctx context.Context, listID string) error {
	if listID == "" {
		return fmt.Errorf("list id is required")
	}

	h, err := s.manager.Watch(ctx, subscription.ListKey(listID), feed.ListPredicate(listID), s.handler(false))
	if err != nil {
		return err
	}

	if !s.track(h, func() { s.viewed[listID] = h }) {
		return ErrClosed
	}
	return nil
}

// track records h through record unless the session closed while the
// subscription was being made, in which case h is released instead. A
// handle already superseded by a newer Watch on the same key is not stored.
func (s *Session) track(h *subscription.Handle, record func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.manager.Unwatch(h)
		return false
	}
	if h.Active() {
		record()
	}
	s.mu.Unlock()
	return true
}

// UnwatchList drops the list subscription. Refetches already running complete.
func (s *Session) UnwatchList(listID string) {
	s.mu.Lock()
	h, ok := s.viewed[listID]
	delete(s.viewed, listID)
	s.mu.Unlock()

	if ok {
		s.manager.Unwatch(h)
	}
}

// SetForeground records whether the app view is visible
func (s *Session) SetForeground(foreground bool) {
	s.mu.Lock()
	s.foreground = foreground
	s.mu.Unlock()
}

// Foreground reports whether the app view is visible
func (s *Session) Foreground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.foreground
}

// SetMemberLists replaces the lists the user belongs to
func (s *Session) SetMemberLists(listIDs []string) {
	members := toSet(listIDs)
	s.mu.Lock()
	s.members = members
	s.mu.Unlock()
}

// MemberLists returns the lists the user belongs to, sorted
func (s *Session) MemberLists() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.members)
}

// ViewedLists returns the lists with a live list subscription, sorted
func (s *Session) ViewedLists() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.viewed))
	for id := range s.viewed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FilterContext returns the classification context for the current state.
// Watched lists are the member lists plus the viewed lists.
func (s *Session) FilterContext() filter.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watched := make(map[string]struct{}, len(s.members)+len(s.viewed))
	for id := range s.members {
		watched[id] = struct{}{}
	}
	for id := range s.viewed {
		watched[id] = struct{}{}
	}
	return filter.Context{
		CurrentUserID:  s.userID,
		WatchedListIDs: watched,
		IsForeground:   s.foreground,
	}
}

func (s *Session) isViewed(listID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.viewed[listID]
	return ok
}

// handler returns the callback for one channel
func (s *Session) handler(global bool) feed.Handler {
	return func(ev feed.ChangeEvent) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("list_id", ev.Row.ListID).Msg("Recovered from panic in change event handler")
			}
		}()

		d := filter.Classify(ev, s.FilterContext())
		telemetry.DecisionsTotal.With(d.Action.String()).Inc()

		if !d.ShouldReconcile() {
			return
		}

		listID := ev.Row.ListID
		if !global || !s.isViewed(listID) {
			s.scheduleRefetch(listID)
		}

		if global && d.ShouldNotify() {
			s.dispatch(*d.Intent)
		}
	}
}

// scheduleRefetch starts a refetch now, or after the debounce window
// restarting it on every call.
func (s *Session) scheduleRefetch(listID string) {
	if s.debounce <= 0 {
		s.spawn(func(ctx context.Context) { s.refetch(ctx, listID) })
		return
	}

	s.pending.Compute(listID, func(d *debounceTimer, loaded bool) (*debounceTimer, bool) {
		// A timer that already fired has a refetch on its way that may
		// predate this event, so a fresh window starts instead.
		if loaded && d.timer.Stop() {
			d.timer.Reset(s.debounce)
			telemetry.RefetchTotal.With("debounced").Inc()
			return d, false
		}
		return s.newDebounceTimer(listID), false
	})
}

type debounceTimer struct {
	timer *time.Timer
}

func (s *Session) newDebounceTimer(listID string) *debounceTimer {
	d := &debounceTimer{}
	d.timer = time.AfterFunc(s.debounce, func() {
		// Only the timer still registered for the list clears the entry
		s.pending.Compute(listID, func(cur *debounceTimer, loaded bool) (*debounceTimer, bool) {
			return cur, !loaded || cur == d
		})
		s.spawn(func(ctx context.Context) { s.refetch(ctx, listID) })
	})
	return d
}

func (s *Session) refetch(ctx context.Context, listID string) {
	ctx, cancel := context.WithTimeout(ctx, s.refetchTimeout)
	defer cancel()

	telemetry.RefetchInFlight.Inc()
	defer telemetry.RefetchInFlight.Dec()

	start := time.Now()
	err := s.reconciler.RefetchListItems(ctx, listID)
	telemetry.RefetchDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.RefetchTotal.With("failed").Inc()
		log.Warn().Err(err).Str("list_id", listID).Msg("Failed to refetch list items")
		return
	}
	telemetry.RefetchTotal.With("success").Inc()
}

func (s *Session) dispatch(intent notify.Intent) {
	s.spawn(func(ctx context.Context) {
		if _, err := s.dispatcher.Dispatch(ctx, intent); err != nil {
			log.Debug().Err(err).Str("tag", intent.Tag).Msg("Notification not shown")
		}
	})
}

// spawn runs fn on a tracked goroutine unless the session is closed
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in session task")
			}
		}()
		fn(s.ctx)
	}()
}

// Close drops every subscription the session made and waits for running
// refetches and dispatches.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	global := s.global
	viewed := s.viewed
	s.global = nil
	s.viewed = make(map[string]*subscription.Handle)
	s.mu.Unlock()

	s.manager.Unwatch(global)
	for _, h := range viewed {
		s.manager.Unwatch(h)
	}

	s.pending.Range(func(_ string, d *debounceTimer) bool {
		d.timer.Stop()
		return true
	})
	s.pending.Clear()

	s.cancel()
	s.wg.Wait()

	log.Info().Str("user_id", s.userID).Msg("Realtime session closed")
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
