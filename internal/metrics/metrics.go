// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion pipeline:
// - Upstream request outcomes per source
// - Killmail save/skip/error tallies
// - Circuit breaker state per upstream
// - Queue publish/consume outcomes
// - Database write latency (DuckDB)

var (
	// Upstream Metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_upstream_requests_total",
			Help: "Total upstream HTTP requests by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "success", "transient", "rate_limited", "not_found", "auth", "malformed"
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "killfeed_upstream_request_duration_seconds",
			Help:    "Duration of upstream HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Ingestion Metrics
	KillmailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_killmails_processed_total",
			Help: "Killmails processed by source and result",
		},
		[]string{"source", "result"}, // result: "saved", "skipped", "error"
	)

	SyncJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_sync_jobs_total",
			Help: "Sync jobs completed by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "acked", "requeued", "dropped"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "killfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"breaker", "result"}, // result: "success", "failure", "rejected"
	)

	// Queue Metrics
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_queue_messages_total",
			Help: "Work queue messages by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "published", "acked", "requeued", "dropped"
	)

	// Database Metrics
	DBWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "killfeed_db_write_duration_seconds",
			Help:    "Duration of DuckDB write transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_db_query_errors_total",
			Help: "DuckDB query errors by operation",
		},
		[]string{"operation"},
	)

	// HTTP API Metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_http_requests_total",
			Help: "HTTP API requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "killfeed_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killfeed_http_active_requests",
			Help: "HTTP API requests currently in flight",
		},
	)
)

// RecordHTTPRequest records one completed API request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstreamRequest records one upstream call's outcome and timing.
func ObserveUpstreamRequest(source, outcome string, start time.Time) {
	UpstreamRequests.WithLabelValues(source, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// TimeDBWrite records the latency of one database write operation.
func TimeDBWrite(operation string, start time.Time) {
	DBWriteDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
