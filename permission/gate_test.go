package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) GetBool(string) (bool, error) { return false, nil }
func (failingStore) SetBool(string, bool) error   { return errors.New("disk full") }

func waitForPrompts(t *testing.T, p *HeadlessPlatform, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return p.PendingPrompts() == n }, time.Second, 5*time.Millisecond)
}

func TestNewGateRequiresDependencies(t *testing.T) {
	_, err := NewGate(nil, NewMemoryStore())
	require.Error(t, err)

	_, err = NewGate(NewHeadlessPlatform(StatusDefault), nil)
	require.Error(t, err)
}

func TestGrantedReflectsPlatform(t *testing.T) {
	for _, tc := range []struct {
		initial Status
		granted bool
	}{
		{StatusDefault, false},
		{StatusGranted, true},
		{StatusDenied, false},
	} {
		t.Run(string(tc.initial), func(t *testing.T) {
			g, err := NewGate(NewHeadlessPlatform(tc.initial), NewMemoryStore())
			require.NoError(t, err)
			assert.Equal(t, tc.initial, g.Status())
			assert.Equal(t, tc.granted, g.Granted())
		})
	}
}

func TestRequestResolvesWithAnswer(t *testing.T) {
	platform := NewHeadlessPlatform(StatusDefault)
	g, err := NewGate(platform, NewMemoryStore())
	require.NoError(t, err)

	fut := g.Request(context.Background())
	waitForPrompts(t, platform, 1)

	platform.Respond(StatusGranted)

	status, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, status)
	assert.True(t, g.Granted())
}

func TestRequestDoesNotRepromptAfterAnswer(t *testing.T) {
	platform := NewHeadlessPlatform(StatusDenied)
	g, err := NewGate(platform, NewMemoryStore())
	require.NoError(t, err)

	status, err := g.Request(context.Background()).Get()
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, status)
	assert.Equal(t, 0, platform.PendingPrompts())
	assert.False(t, g.ShouldPrompt())
}

func TestConcurrentRequestsSharePrompt(t *testing.T) {
	platform := NewHeadlessPlatform(StatusDefault)
	g, err := NewGate(platform, NewMemoryStore())
	require.NoError(t, err)

	first := g.Request(context.Background())
	second := g.Request(context.Background())
	waitForPrompts(t, platform, 1)

	platform.Respond(StatusDenied)

	s1, err := first.Get()
	require.NoError(t, err)
	s2, err := second.Get()
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, s1)
	assert.Equal(t, StatusDenied, s2)
}

func TestRequestAbandoned(t *testing.T) {
	platform := NewHeadlessPlatform(StatusDefault)
	g, err := NewGate(platform, NewMemoryStore())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fut := g.Request(ctx)
	waitForPrompts(t, platform, 1)
	cancel()

	status, err := fut.Get()
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusDefault, status)
	assert.Equal(t, 0, platform.PendingPrompts())
	assert.True(t, g.ShouldPrompt())
}

func TestGateObservesSettingsChange(t *testing.T) {
	platform := NewHeadlessPlatform(StatusGranted)
	g, err := NewGate(platform, NewMemoryStore())
	require.NoError(t, err)
	require.True(t, g.Granted())

	platform.Respond(StatusDenied)
	assert.False(t, g.Granted())
	assert.Equal(t, StatusDenied, g.Status())
}

func TestDismissal(t *testing.T) {
	prefs := NewMemoryStore()
	g, err := NewGate(NewHeadlessPlatform(StatusDefault), prefs)
	require.NoError(t, err)

	assert.False(t, g.IsDismissed())
	assert.True(t, g.ShouldPrompt())

	require.NoError(t, g.Dismiss())
	assert.True(t, g.IsDismissed())
	assert.False(t, g.ShouldPrompt())

	stored, err := prefs.GetBool(DismissedKey)
	require.NoError(t, err)
	assert.True(t, stored)

	// A new gate over the same store remembers the choice
	g2, err := NewGate(NewHeadlessPlatform(StatusDefault), prefs)
	require.NoError(t, err)
	assert.True(t, g2.IsDismissed())

	require.NoError(t, g2.ResetDismissal())
	assert.False(t, g2.IsDismissed())
	assert.True(t, g2.ShouldPrompt())
}

func TestDismissalDoesNotAffectPermission(t *testing.T) {
	g, err := NewGate(NewHeadlessPlatform(StatusGranted), NewMemoryStore())
	require.NoError(t, err)

	require.NoError(t, g.Dismiss())
	assert.True(t, g.Granted())
}

func TestDismissPersistFailure(t *testing.T) {
	g, err := NewGate(NewHeadlessPlatform(StatusDefault), failingStore{})
	require.NoError(t, err)

	require.Error(t, g.Dismiss())
	assert.False(t, g.IsDismissed())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("granted")
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, s)

	_, err = ParseStatus("maybe")
	require.Error(t, err)
}
