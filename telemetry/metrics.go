package telemetry

// Histogram bucket definitions
var (
	// RefetchBuckets for list item refetch round-trips to the data store
	RefetchBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Change feed metrics
var (
	// ChangeEventsTotal counts change events delivered by the transport, by operation
	ChangeEventsTotal CounterVec = noopCounterVec{}

	// DecodeFailuresTotal counts payloads the transport could not decode
	DecodeFailuresTotal Counter = NoopStat{}

	// DecisionsTotal counts classification results by action (ignore, reconcile, notify)
	DecisionsTotal CounterVec = noopCounterVec{}
)

// Subscription metrics
var (
	// ActiveSubscriptions tracks live transport subscriptions
	ActiveSubscriptions Gauge = NoopStat{}

	// SubscribeTotal counts subscribe attempts by result (success, failed)
	SubscribeTotal CounterVec = noopCounterVec{}

	// ResubscribesTotal counts subscriptions re-issued after a transport reconnect
	ResubscribesTotal Counter = NoopStat{}
)

// Notification metrics
var (
	// NotificationsTotal counts dispatch outcomes (sent, no_permission, deduplicated, failed)
	NotificationsTotal CounterVec = noopCounterVec{}

	// DedupEntries tracks entries in the local notification dedup cache
	DedupEntries Gauge = NoopStat{}

	// PermissionRequestsTotal counts permission prompts by outcome
	PermissionRequestsTotal CounterVec = noopCounterVec{}
)

// Reconcile metrics
var (
	// RefetchTotal counts refetches by result (success, failed, debounced)
	RefetchTotal CounterVec = noopCounterVec{}

	// RefetchDurationSeconds measures refetch latency
	RefetchDurationSeconds Histogram = NoopStat{}

	// RefetchInFlight tracks refetches currently running
	RefetchInFlight Gauge = NoopStat{}
)

// InitMetrics creates all metrics against the registry. Call after InitializeTelemetry.
func InitMetrics() {
	ChangeEventsTotal = NewCounterVec(
		"change_events_total",
		"Change events delivered by the feed transport",
		[]string{"operation"},
	)
	DecodeFailuresTotal = NewCounter(
		"decode_failures_total",
		"Change feed payloads that failed to decode",
	)
	DecisionsTotal = NewCounterVec(
		"decisions_total",
		"Change event classification results",
		[]string{"action"},
	)

	ActiveSubscriptions = NewGauge(
		"active_subscriptions",
		"Live change feed subscriptions",
	)
	SubscribeTotal = NewCounterVec(
		"subscribe_total",
		"Change feed subscribe attempts by result",
		[]string{"result"},
	)
	ResubscribesTotal = NewCounter(
		"resubscribes_total",
		"Subscriptions re-issued after a transport reconnect",
	)

	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Notification dispatch outcomes",
		[]string{"result"},
	)
	DedupEntries = NewGauge(
		"notification_dedup_entries",
		"Entries held by the notification dedup cache",
	)
	PermissionRequestsTotal = NewCounterVec(
		"permission_requests_total",
		"Notification permission requests by outcome",
		[]string{"status"},
	)

	RefetchTotal = NewCounterVec(
		"refetch_total",
		"List item refetches by result",
		[]string{"result"},
	)
	RefetchDurationSeconds = NewHistogram(
		"refetch_duration_seconds",
		"List item refetch duration in seconds",
		RefetchBuckets,
	)
	RefetchInFlight = NewGauge(
		"refetch_in_flight",
		"List item refetches currently running",
	)
}
