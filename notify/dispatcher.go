package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/telemetry"
)

// Gate reports whether notifications may be shown
type Gate interface {
	Granted() bool
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Gate     Gate
	Sink     Sink
	DedupTTL time.Duration // Window for suppressing repeats when the sink does not coalesce
	DedupMax int
}

const (
	DefaultDedupTTL = 10 * time.Second
	DefaultDedupMax = 1024
)

// Dispatcher shows notification intents through a sink when permission
// has been granted.
type Dispatcher struct {
	gate     Gate
	sink     Sink
	dedup    *expirable.LRU[uint64, *Handle] // nil when the sink coalesces by tag
	inflight *xsync.MapOf[uint64, *send]     // sends holding a dedup key
}

// send is a reservation on a dedup key while the sink call runs
type send struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// NewDispatcher creates a dispatcher. A dedup cache keyed by (tag, row) is
// kept only for sinks that cannot replace notifications by tag.
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Gate == nil {
		return nil, fmt.Errorf("permission gate is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("notification sink is required")
	}

	d := &Dispatcher{
		gate: config.Gate,
		sink: config.Sink,
	}

	if !config.Sink.CoalescesByTag() {
		ttl := config.DedupTTL
		if ttl <= 0 {
			ttl = DefaultDedupTTL
		}
		size := config.DedupMax
		if size <= 0 {
			size = DefaultDedupMax
		}
		d.dedup = expirable.NewLRU[uint64, *Handle](size, nil, ttl)
		d.inflight = xsync.NewMapOf[uint64, *send]()
	}

	return d, nil
}

// Dispatch shows the intent. It returns a nil handle and no error when
// permission is not granted; the sink is not called in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) (*Handle, error) {
	if !d.gate.Granted() {
		telemetry.NotificationsTotal.With("no_permission").Inc()
		log.Debug().Str("tag", intent.Tag).Msg("Notification dropped, permission not granted")
		return nil, nil
	}

	if d.dedup == nil {
		return d.send(ctx, intent)
	}
	return d.sendOnce(ctx, intent, dedupKey(intent))
}

// sendOnce sends the intent unless the key was sent within the dedup window
// or is being sent right now. Concurrent duplicates wait for the running
// send and share its handle; if that send fails the next caller retries.
func (d *Dispatcher) sendOnce(ctx context.Context, intent Intent, key uint64) (*Handle, error) {
	for {
		if h, ok := d.dedup.Get(key); ok {
			telemetry.NotificationsTotal.With("deduplicated").Inc()
			return h, nil
		}

		mine := &send{done: make(chan struct{})}
		cur, loaded := d.inflight.LoadOrStore(key, mine)
		if loaded {
			select {
			case <-cur.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if cur.err == nil {
				telemetry.NotificationsTotal.With("deduplicated").Inc()
				return cur.handle, nil
			}
			continue
		}

		// The previous holder adds to the cache before releasing the key
		if h, ok := d.dedup.Get(key); ok {
			mine.handle = h
			d.inflight.Delete(key)
			close(mine.done)
			telemetry.NotificationsTotal.With("deduplicated").Inc()
			return h, nil
		}

		h, err := d.send(ctx, intent)
		if err == nil {
			d.dedup.Add(key, h)
		}
		mine.handle, mine.err = h, err
		d.inflight.Delete(key)
		close(mine.done)
		return h, err
	}
}

func (d *Dispatcher) send(ctx context.Context, intent Intent) (*Handle, error) {
	if err := d.sink.Send(ctx, intent); err != nil {
		telemetry.NotificationsTotal.With("failed").Inc()
		log.Warn().Err(err).Str("tag", intent.Tag).Msg("Failed to dispatch notification")
		return nil, fmt.Errorf("dispatch %s: %w", intent.Tag, err)
	}

	telemetry.NotificationsTotal.With("sent").Inc()
	return &Handle{
		ID:       uuid.NewString(),
		Tag:      intent.Tag,
		IssuedAt: time.Now(),
	}, nil
}

// DedupLen returns the number of entries in the dedup cache
func (d *Dispatcher) DedupLen() int {
	if d.dedup == nil {
		return 0
	}
	return d.dedup.Len()
}

// Close closes the sink
func (d *Dispatcher) Close() error {
	return d.sink.Close()
}

// dedupKey hashes (tag, row). Intents without a row fall back to the body.
func dedupKey(intent Intent) uint64 {
	h := xxhash.New()
	h.WriteString(intent.Tag)
	h.WriteString("\x00")
	if intent.RowID != "" {
		h.WriteString(intent.RowID)
	} else {
		h.WriteString(intent.Body)
	}
	return h.Sum64()
}
