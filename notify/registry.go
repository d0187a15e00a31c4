package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopwise/listsync/cfg"
)

// Sink delivers notification intents to whatever shows them
type Sink interface {
	// Send shows or forwards the intent
	Send(ctx context.Context, intent Intent) error
	// CoalescesByTag reports whether a later intent with the same tag
	// replaces an earlier one at the destination
	CoalescesByTag() bool
	// Close releases any resources held by the sink
	Close() error
}

// SinkFactory creates a Sink from the notifications configuration
type SinkFactory func(config cfg.NotificationConfiguration, deviceID string) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates the sink named by config.Sink
func NewSink(config cfg.NotificationConfiguration, deviceID string) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown notification sink: %s", config.Sink)
	}

	return factory(config, deviceID)
}
