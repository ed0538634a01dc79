package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook receiver metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_webhooks_total",
			Help: "Total number of webhook deliveries received",
		},
		[]string{"vendor", "status"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_webhook_bytes_total",
			Help: "Total bytes of webhook payload data received",
		},
	)

	SignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_signature_failures_total",
			Help: "Total number of webhook deliveries rejected for bad signatures",
		},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_duplicates_suppressed_total",
			Help: "Total number of duplicate webhook deliveries suppressed by the dedupe marker",
		},
	)

	// Sync worker metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_messages_processed_total",
			Help: "Total number of queue messages processed by outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crmsync_processing_duration_seconds",
			Help:    "Duration of per-message sync processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_conflicts_detected_total",
			Help: "Total number of stale updates recorded as conflicts",
		},
		[]string{"entity_type"},
	)

	PendingSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_pending_swept_total",
			Help: "Total number of orphaned pending log entries requeued by the sweep",
		},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_dlq_writes_total",
			Help: "Total number of messages written to the dead-letter queue",
		},
		[]string{"reason"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmsync_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	FallbackInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_breaker_fallback_invocations_total",
			Help: "Total number of circuit breaker fallback invocations",
		},
		[]string{"dependency", "result"},
	)

	FallbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmsync_breaker_fallback_duration_seconds",
			Help:    "Duration of circuit breaker fallback invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"},
	)

	// Schema registry metrics
	SchemaReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_schema_reloads_total",
			Help: "Total number of schema registry reloads applied",
		},
	)

	NormalizationWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_normalization_warnings_total",
			Help: "Total number of fields dropped or passed through by the normalizer",
		},
		[]string{"entity_type", "field"},
	)
)
