package permission

import (
	"context"
	"fmt"
)

// Status is the OS-level notification permission
type Status string

const (
	StatusDefault Status = "default" // User has not answered yet
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// ParseStatus parses the string form of a Status
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDefault, StatusGranted, StatusDenied:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown permission status %q", s)
	}
}

// Platform is the native notification permission API.
type Platform interface {
	// Status returns the current OS-level permission
	Status() Status
	// Prompt shows the OS permission dialog and blocks until the user
	// answers or ctx ends
	Prompt(ctx context.Context) (Status, error)
	// OnChange registers a listener for permission changes made outside
	// the app (e.g. in system settings)
	OnChange(fn func(Status))
}

// PreferenceStore persists user preferences across process lifetimes
type PreferenceStore interface {
	GetBool(key string) (bool, error)
	SetBool(key string, value bool) error
}
