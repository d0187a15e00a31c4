package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/telemetry"
)

// DismissedKey is the storage key of the in-app prompt dismissal flag
const DismissedKey = "shopwise.notifications.dismissed"

// Gate answers whether notifications may be shown and tracks whether the
// user dismissed the in-app prompt. Dismissal is independent of the OS
// permission; it only controls whether the prompt is offered again.
type Gate struct {
	platform Platform
	prefs    PreferenceStore

	mu        sync.Mutex
	status    Status
	dismissed bool
	pending   *future.Future[Status]
}

// NewGate creates a gate over the platform and loads the dismissal flag.
func NewGate(platform Platform, prefs PreferenceStore) (*Gate, error) {
	if platform == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if prefs == nil {
		return nil, fmt.Errorf("preference store is required")
	}

	dismissed, err := prefs.GetBool(DismissedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load dismissal preference: %w", err)
	}

	g := &Gate{
		platform:  platform,
		prefs:     prefs,
		status:    platform.Status(),
		dismissed: dismissed,
	}

	platform.OnChange(g.observe)

	return g, nil
}

// observe records a permission change reported by the platform
func (g *Gate) observe(s Status) {
	g.mu.Lock()
	old := g.status
	g.status = s
	g.mu.Unlock()

	if old != s {
		log.Info().Str("from", string(old)).Str("to", string(s)).Msg("Notification permission changed")
	}
}

// Status returns the last known OS-level permission
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Granted reports whether notifications may be shown
func (g *Gate) Granted() bool {
	return g.Status() == StatusGranted
}

// Request asks the user for permission. Once the user has answered, the
// answer is final and Request resolves immediately without prompting.
// Concurrent requests share one prompt.
func (g *Gate) Request(ctx context.Context) *future.Future[Status] {
	g.mu.Lock()
	if g.status != StatusDefault {
		status := g.status
		g.mu.Unlock()
		p := future.NewPromise[Status]()
		p.Set(status, nil)
		return p.Future()
	}
	if g.pending != nil {
		pending := g.pending
		g.mu.Unlock()
		return pending
	}

	p := future.NewPromise[Status]()
	fut := p.Future()
	g.pending = fut
	g.mu.Unlock()

	go func() {
		status, err := g.platform.Prompt(ctx)

		g.mu.Lock()
		if err == nil {
			g.status = status
		} else {
			status = g.status
		}
		g.pending = nil
		g.mu.Unlock()

		if err != nil {
			log.Debug().Err(err).Msg("Notification permission prompt abandoned")
			telemetry.PermissionRequestsTotal.With("abandoned").Inc()
		} else {
			telemetry.PermissionRequestsTotal.With(string(status)).Inc()
		}
		p.Set(status, err)
	}()

	return fut
}

// IsDismissed reports whether the user dismissed the in-app prompt
func (g *Gate) IsDismissed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dismissed
}

// Dismiss hides the in-app prompt until ResetDismissal
func (g *Gate) Dismiss() error {
	return g.setDismissed(true)
}

// ResetDismissal offers the in-app prompt again
func (g *Gate) ResetDismissal() error {
	return g.setDismissed(false)
}

func (g *Gate) setDismissed(v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.prefs.SetBool(DismissedKey, v); err != nil {
		return fmt.Errorf("failed to persist dismissal preference: %w", err)
	}
	g.dismissed = v
	return nil
}

// ShouldPrompt reports whether the in-app permission prompt should be shown
func (g *Gate) ShouldPrompt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status == StatusDefault && !g.dismissed
}
