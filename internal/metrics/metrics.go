package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtledger"

var (
	// AccessDecisions counts per-operation access checks by the rule that settled them.
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_decisions_total",
		Help:      "Operation access checks by action, result and deciding rule.",
	}, []string{"action", "result", "reason"})

	// ListFilters counts list predicates built, split by whether they restrict anything.
	ListFilters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "list_filters_total",
		Help:      "Operation list predicates built.",
	}, []string{"scope"})

	// RateLimitDecisions counts admission decisions per named policy.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Rate limiter admission decisions.",
	}, []string{"policy", "result"})

	// RateLimitEntries tracks identifiers currently held by the in-memory store.
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ratelimit_entries",
		Help:      "Client identifiers currently tracked by the rate limiter.",
	})

	// RateLimitSwept counts expired entries removed by the background sweep.
	RateLimitSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_swept_total",
		Help:      "Expired rate limit entries removed by the sweep.",
	})

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by route and status.",
	}, []string{"route", "method", "status"})

	// HTTPDuration records API latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"route"})

	// AuditEnqueued counts audit events placed into the worker queue.
	AuditEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_enqueued_total",
		Help:      "Audit events placed into the worker queue.",
	}, []string{"action"})

	// AuditDropped counts audit events discarded before persistence.
	AuditDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_dropped_total",
		Help:      "Audit events discarded before persistence.",
	}, []string{"reason"})

	// AuditProcessed counts audit worker completions.
	AuditProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_processed_total",
		Help:      "Audit worker completions.",
	}, []string{"status"})

	// AuditQueueDepth tracks current audit channel length.
	AuditQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Current audit channel buffer depth.",
	})

	// LoginAttempts counts token issuance attempts.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Token issuance attempts by result.",
	}, []string{"result"})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
