package sink

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/cfg"
	"github.com/shopwise/listsync/notify"
)

func init() {
	notify.RegisterSink(cfg.SinkLog, func(config cfg.NotificationConfiguration, deviceID string) (notify.Sink, error) {
		return NewLogSink(deviceID), nil
	})
}

// LogSink shows notifications as log lines. It keeps the latest intent per
// tag so a repeat replaces the visible one, like a system notification tray.
type LogSink struct {
	deviceID string

	mu      sync.Mutex
	visible map[string]notify.Intent
}

// NewLogSink creates a log sink for the device
func NewLogSink(deviceID string) *LogSink {
	return &LogSink{
		deviceID: deviceID,
		visible:  make(map[string]notify.Intent),
	}
}

// Send logs the intent, replacing any visible intent with the same tag
func (s *LogSink) Send(_ context.Context, intent notify.Intent) error {
	s.mu.Lock()
	_, replaced := s.visible[intent.Tag]
	s.visible[intent.Tag] = intent
	s.mu.Unlock()

	log.Info().
		Str("device_id", s.deviceID).
		Str("tag", intent.Tag).
		Str("title", intent.Title).
		Bool("replaced", replaced).
		Msg(intent.Body)

	return nil
}

// CoalescesByTag is always true
func (s *LogSink) CoalescesByTag() bool {
	return true
}

// Visible returns the intents currently shown, one per tag
func (s *LogSink) Visible() map[string]notify.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]notify.Intent, len(s.visible))
	for k, v := range s.visible {
		out[k] = v
	}
	return out
}

// Close is a no-op for LogSink
func (s *LogSink) Close() error {
	return nil
}
