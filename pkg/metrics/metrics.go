// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnectionsActive tracks active WebSocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// EventsDispatched tracks events dispatched by the resolver.
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_dispatched_total",
			Help: "Total events dispatched by event type",
		},
		[]string{"type"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMChunksTotal tracks streamed chunks by provider.
	LLMChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_chunks_total",
			Help: "Total streamed chunks relayed",
		},
		[]string{"provider", "model"},
	)

	// RedisSubscribersActive tracks open duplicated subscriber connections.
	RedisSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_subscribers_active",
			Help: "Open Redis subscriber connections",
		},
	)

	// HeartbeatFailures tracks failed liveness probes.
	HeartbeatFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_failures_total",
			Help: "Failed liveness probes",
		},
		[]string{"target"},
	)

	// StreamsResumed tracks stream resume replays.
	StreamsResumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streams_resumed_total",
			Help: "Stream states replayed to resuming clients",
		},
	)

	// RequestDuration tracks HTTP request duration for the non-WS surface.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(provider, model, status string, duration float64) {
	LLMStreamDuration.WithLabelValues(provider, model, status).Observe(duration)
}
