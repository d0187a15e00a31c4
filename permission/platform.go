package permission

import (
	"context"
	"sync"
)

// HeadlessPlatform is a Platform for processes without a native
// notification API. The "user" answers prompts through Respond, which the
// admin API exposes; Respond also models changes made in system settings.
type HeadlessPlatform struct {
	mu        sync.Mutex
	status    Status
	waiters   []chan Status
	listeners []func(Status)
}

// NewHeadlessPlatform creates a platform starting at the given status
func NewHeadlessPlatform(initial Status) *HeadlessPlatform {
	if initial == "" {
		initial = StatusDefault
	}
	return &HeadlessPlatform{status: initial}
}

// Status returns the current permission
func (p *HeadlessPlatform) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Prompt waits for Respond unless the user already answered.
func (p *HeadlessPlatform) Prompt(ctx context.Context) (Status, error) {
	p.mu.Lock()
	if p.status != StatusDefault {
		s := p.status
		p.mu.Unlock()
		return s, nil
	}
	ch := make(chan Status, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		p.removeWaiter(ch)
		return StatusDefault, ctx.Err()
	}
}

func (p *HeadlessPlatform) removeWaiter(ch chan Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// PendingPrompts returns the number of prompts waiting for an answer
func (p *HeadlessPlatform) PendingPrompts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// OnChange registers a permission change listener
func (p *HeadlessPlatform) OnChange(fn func(Status)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Respond sets the permission, answering pending prompts when the new
// status is final, and notifies listeners.
func (p *HeadlessPlatform) Respond(s Status) {
	p.mu.Lock()
	p.status = s
	var waiters []chan Status
	if s != StatusDefault {
		waiters = p.waiters
		p.waiters = nil
	}
	listeners := make([]func(Status), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, w := range waiters {
		w <- s
	}
	for _, fn := range listeners {
		fn(s)
	}
}
