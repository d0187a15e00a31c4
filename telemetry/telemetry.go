package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/cfg"
)

const (
	namespace = "listsync"
	subsystem = "realtime"
)

// registry is nil until InitializeTelemetry runs with Prometheus enabled.
// Every constructor returns a noop metric in that case.
var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	SetToCurrentTime()
}

type Histogram interface {
	Observe(float64)
}

// CounterVec is a counter partitioned by label values
type CounterVec interface {
	With(labels ...string) Counter
}

// NoopStat satisfies Counter, Gauge and Histogram and records nothing
type NoopStat struct{}

func (NoopStat) Inc()              {}
func (NoopStat) Dec()              {}
func (NoopStat) Add(float64)       {}
func (NoopStat) Sub(float64)       {}
func (NoopStat) Set(float64)       {}
func (NoopStat) SetToCurrentTime() {}
func (NoopStat) Observe(float64)   {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// opts carries the naming shared by every metric of this process. The
// device id label keeps series from several devices apart on one scraper.
func opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"device_id": cfg.Config.Session.DeviceID},
	}
}

func register[T prometheus.Collector](c T) T {
	registry.MustRegister(c)
	return c
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewCounter(prometheus.CounterOpts(opts(name, help))))
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help))))
}

// NewHistogram creates a histogram. Nil buckets use the Prometheus defaults.
func NewHistogram(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	o := opts(name, help)
	return register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	vec := register(prometheus.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels))
	return &prometheusCounterVec{vec: vec}
}

// InitializeTelemetry creates the registry when Prometheus is enabled
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served on the admin port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics, or nil
// when Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
