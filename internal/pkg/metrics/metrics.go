// Package metrics provides Prometheus metrics for the resource map service (RED + pipeline + WebSocket).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kubilitics"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// ResourceMapBuildDurationSeconds covers filter, group, collapse and layout of one map.
	ResourceMapBuildDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_map_build_duration_seconds",
			Help:      "Resource map build duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"cluster"},
	)

	// LayoutDurationSeconds is the time spent in the layout engine.
	LayoutDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_map_layout_duration_seconds",
			Help:      "Layout engine duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
	)

	// LayoutNodes is the number of laid out nodes per map.
	LayoutNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_map_layout_nodes",
			Help:      "Number of nodes in a laid out resource map.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// LayoutCacheHitsTotal counts layout cache hits.
	LayoutCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_map_layout_cache_hits_total",
			Help:      "Total number of layout cache hits.",
		},
	)

	// LayoutCacheMissesTotal counts layout cache misses.
	LayoutCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_map_layout_cache_misses_total",
			Help:      "Total number of layout cache misses.",
		},
	)

	SourceRecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_map_source_recompute_total",
			Help:      "Total number of merged graph recomputations.",
		},
		[]string{"cluster"},
	)

	SourceRecomputeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_map_source_recompute_duration_seconds",
			Help:      "Duration of merging sources and evaluating relations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
		[]string{"cluster"},
	)

	// StaleMapsDroppedTotal counts maps discarded because a newer generation arrived while they were built.
	StaleMapsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_map_stale_dropped_total",
			Help:      "Total number of resource maps dropped because they were stale.",
		},
	)

	// DBQueryDurationSeconds is snapshot repository query latency by operation.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Duration of snapshot repository queries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// WebSocketConnectionsActive is current number of WebSocket clients (capacity planning).
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "k8s_circuit_breaker_state",
			Help:      "Circuit breaker state per cluster (0 closed, 1 open, 2 half-open).",
		},
		[]string{"cluster"},
	)

	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "k8s_circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions.",
		},
		[]string{"cluster", "from", "to"},
	)

	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "k8s_circuit_breaker_failures_total",
			Help:      "Total number of retryable Kubernetes API failures seen by the circuit breaker.",
		},
		[]string{"cluster"},
	)
)
