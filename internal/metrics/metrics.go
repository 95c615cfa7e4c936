// Package metrics provides Prometheus metrics for authd.
// It tracks message publishing and consumption, retry escalation,
// scheduled job execution and storage latencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "authd"
)

// Message metrics track the event pipeline.
var (
	// MessagesPublishedTotal counts publish attempts by topic and result.
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published",
		},
		[]string{"topic", "result"}, // result: success, failure
	)

	// MessagePublishLatency measures time to publish a message.
	MessagePublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_publish_latency_seconds",
			Help:      "Time to publish a message in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"topic"},
	)

	// MessagesConsumedTotal counts consumed records by outcome.
	MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed",
		},
		[]string{"consumer", "result"}, // result: ok, failed, poison
	)

	// MessageProcessingLatency measures handler time for a single record.
	MessageProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_latency_seconds",
			Help:      "Time to process a single message in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"consumer"},
	)

	// MessageQueueLatency measures time from envelope creation to consumption.
	MessageQueueLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_queue_latency_seconds",
			Help:      "Time a message spent between creation and consumption in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"consumer"},
	)

	// FailuresRoutedTotal counts failed messages by escalation destination.
	FailuresRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_routed_total",
			Help:      "Total number of failed messages routed to retry, dead-letter or dropped",
		},
		[]string{"destination"}, // destination: retry, dlq, dropped
	)

	// ConsumerReconnectsTotal counts re-subscriptions after stream failures.
	ConsumerReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_reconnects_total",
			Help:      "Total number of consumer reconnect attempts",
		},
		[]string{"consumer"},
	)
)

// Scheduler metrics track distributed job execution.
var (
	// SchedulerTicksTotal counts job ticks by outcome.
	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Total number of scheduler ticks",
		},
		[]string{"job", "result"}, // result: success, failure, skipped
	)

	// SchedulerTaskLatency measures task duration while holding the lock.
	SchedulerTaskLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_task_latency_seconds",
			Help:      "Time spent running a scheduled task in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job"},
	)
)

// Business metrics.
var (
	// RegistrationsTotal counts registration requests by result.
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of client registrations",
		},
		[]string{"result"},
	)

	// MailsSentTotal counts welcome mails.
	MailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mails_sent_total",
			Help:      "Total number of mails sent",
		},
		[]string{"status"}, // status: success, failure, duplicate
	)

	// RevokedAuthorizationsPurgedTotal counts expired revocations removed.
	RevokedAuthorizationsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revoked_authorizations_purged_total",
			Help:      "Total number of expired revoked authorizations deleted",
		},
	)

	// RegisteredClients tracks the client count seen by the last audit.
	RegisteredClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_clients",
			Help:      "Number of registered clients at the last audit",
		},
	)
)

// Storage metrics track database and cache operations.
var (
	// StorageOperationLatency measures latency of storage operations.
	StorageOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_latency_seconds",
			Help:      "Latency of storage operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"store", "operation"}, // store: postgres, redis, memory
	)

	// StorageOperationsTotal counts storage operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"store", "operation", "status"}, // status: success, failure
	)
)
