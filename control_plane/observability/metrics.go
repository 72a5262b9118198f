package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsSubmitted tracks accepted command submissions.
	CommandsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_commands_submitted_total",
		Help: "Total number of operational commands accepted for execution",
	}, []string{"command_type"})

	// CommandsRejected tracks submissions rejected before the command log.
	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_commands_rejected_total",
		Help: "Command submissions rejected at the API boundary",
	}, []string{"reason"}) // validation, authorization

	// CommandsExecuted tracks command completions by terminal outcome.
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_commands_executed_total",
		Help: "Total number of commands driven to a terminal state",
	}, []string{"command_type", "outcome"}) // outcome: SUCCESS, ERROR

	// CommandDuration tracks handler execution time.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ops_command_duration_seconds",
		Help:    "Handler execution time per command type",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"command_type"})

	// FeedBatchSize tracks how many events arrive per change-feed batch.
	FeedBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ops_feed_batch_size",
		Help:    "Number of change events per dispatched batch",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	})

	// FeedRedeliveries tracks duplicate deliveries absorbed by the
	// transition guards (read but not executed again).
	FeedRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ops_feed_redeliveries_total",
		Help: "Change-feed events skipped because the command already left PENDING",
	})

	// AuditWriteFailures tracks audit appends that failed and were dropped.
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ops_audit_write_failures_total",
		Help: "Audit log writes that failed (logged, never retried)",
	})

	// PermissionDenials tracks gate denials by resource type.
	PermissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_permission_denials_total",
		Help: "Permission gate denials",
	}, []string{"resource_type", "action"})

	// APIRateLimited tracks API requests rejected by the rate limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})

	// ConnectedConsoleClients tracks live operator console websocket clients.
	ConnectedConsoleClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ops_connected_console_clients",
		Help: "Current number of connected operator console stream clients",
	})

	// QueueMessagesRedelivered tracks REPROCESS_QUEUE redeliveries.
	QueueMessagesRedelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_queue_messages_redelivered_total",
		Help: "Messages moved from a dead-letter list back onto its queue",
	}, []string{"queue"})
)
