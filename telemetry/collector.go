package telemetry

import (
	"sync"
	"time"
)

// DedupStats is implemented by dispatchers that keep a local dedup cache
type DedupStats interface {
	DedupLen() int
}

// MetricsCollector periodically samples sizes that change without an
// event to count, such as dedup entries expiring. ActiveSubscriptions is
// maintained by the subscription manager itself.
type MetricsCollector struct {
	dedup    DedupStats
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector. dedup may be nil.
func NewMetricsCollector(dedup DedupStats, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		dedup:    dedup,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector. Safe to call more than once.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.dedup != nil {
		DedupEntries.Set(float64(mc.dedup.DedupLen()))
	}
}
