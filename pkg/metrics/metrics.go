// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteCallDuration tracks outbound API call duration.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Outbound API call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "status"},
	)

	// RemoteCallsTotal tracks total outbound API calls by method and status.
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_calls_total",
			Help: "Total outbound API calls",
		},
		[]string{"method", "status"},
	)

	// RemoteCacheHits tracks gateway response cache hits and misses.
	RemoteCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_cache_lookups_total",
			Help: "Gateway response cache lookups",
		},
		[]string{"result"},
	)

	// QuotaRetriesTotal tracks retries after quota-exceeded responses.
	QuotaRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_quota_retries_total",
			Help: "Retries performed after quota-exceeded responses",
		},
	)

	// BatchSize tracks the number of logical calls per composite dispatch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Logical calls coalesced per composite dispatch",
			Buckets: []float64{1, 2, 3, 5, 10, 15, 25},
		},
	)

	// BatchEntriesTotal tracks batch entry outcomes.
	BatchEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_entries_total",
			Help: "Batch scheduler entry outcomes",
		},
		[]string{"outcome"},
	)

	// LongPollUpdatesTotal tracks decoded long-poll updates by type.
	LongPollUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "longpoll_updates_total",
			Help: "Decoded long-poll updates",
		},
		[]string{"type"},
	)

	// LongPollSessionsTotal tracks long-poll session acquisitions.
	LongPollSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "longpoll_sessions_total",
			Help: "Long-poll sessions acquired",
		},
	)

	// ConversationsGauge tracks conversations held in the store.
	ConversationsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_conversations",
			Help: "Conversations currently in the store",
		},
	)

	// MessagesGauge tracks messages held in the store.
	MessagesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_messages",
			Help: "Messages currently in the store",
		},
	)

	// IdentityCacheSize tracks resolved identities held for the session.
	IdentityCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_cache_entries",
			Help: "Resolved identities held for the session",
		},
	)

	// StreamConnectionsActive tracks active SSE connections.
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// WSConnectionsActive tracks active websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// RequestDuration tracks local API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Local API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total local API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total local API requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRemoteCall records metrics for one outbound API call.
func RecordRemoteCall(method, status string, duration float64) {
	RemoteCallDuration.WithLabelValues(method, status).Observe(duration)
	RemoteCallsTotal.WithLabelValues(method, status).Inc()
}

// RecordRequest records metrics for a local API request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
