// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for Todograph:
// mirror write outcomes, reconciliation queue depth, dead letters,
// circuit breaker state, and API latency/throughput.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mirror write metrics

	MirrorWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_writes_total",
			Help: "Total number of graph mirror write attempts",
		},
		[]string{"operation", "outcome"}, // operation: upsert|delete; outcome: success|failure|rejected
	)

	MirrorWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_write_duration_seconds",
			Help:    "Duration of graph mirror writes in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// Reconciliation queue metrics

	ReconcileQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_queue_depth",
			Help: "Current number of entries pending reconciliation",
		},
	)

	ReconcileDeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_dead_letters",
			Help: "Current number of dead-letter entries awaiting operator attention",
		},
	)

	ReconcileSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_sweep_duration_seconds",
			Help:    "Duration of reconcile sweeps in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	ReconcileAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_attempts_total",
			Help: "Total number of reconcile attempts per entry outcome",
		},
		[]string{"outcome"}, // resolved|retried|dead_letter
	)

	QueueEnqueuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_enqueues_total",
			Help: "Total number of entries enqueued for reconciliation",
		},
		[]string{"reason"}, // error classification from the failed mirror write
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Store metrics

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_duration_seconds",
			Help:    "Duration of system-of-record queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_query_errors_total",
			Help: "Total number of system-of-record query errors",
		},
		[]string{"operation", "table"},
	)
)

// RecordMirrorWrite records one mirror write attempt.
func RecordMirrorWrite(operation, outcome string, duration time.Duration) {
	MirrorWritesTotal.WithLabelValues(operation, outcome).Inc()
	if outcome != "rejected" {
		MirrorWriteDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordStoreQuery records one system-of-record query.
func RecordStoreQuery(operation, table string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// UpdateQueueGauges sets the reconciliation queue gauges to current values.
func UpdateQueueGauges(pending, deadLetters int) {
	ReconcileQueueDepth.Set(float64(pending))
	ReconcileDeadLetters.Set(float64(deadLetters))
}
