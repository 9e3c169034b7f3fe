// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamDuration tracks how long event streams stay open, per terminal state.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_stream_duration_seconds",
			Help:    "Event stream duration from open to close",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"status"},
	)

	// StreamEventsTotal tracks events received per kind.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_stream_events_total",
			Help: "Total stream events received",
		},
		[]string{"kind"},
	)

	// StreamParseFailuresTotal tracks frames that could not be decoded.
	StreamParseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_stream_parse_failures_total",
			Help: "Total stream frames dropped due to decode failure",
		},
	)

	// StreamReconnectsTotal tracks reconnect attempts.
	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_stream_reconnects_total",
			Help: "Total stream reconnect attempts",
		},
	)

	// StreamsActive tracks currently open event streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_streams_active",
			Help: "Number of open event streams",
		},
	)

	// TurnsTotal tracks submitted turns per outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_turns_total",
			Help: "Total turns submitted",
		},
		[]string{"status"},
	)

	// TurnTokensTotal tracks tokens reported by completed turns.
	TurnTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_turn_tokens_total",
			Help: "Total tokens reported across completed turns",
		},
	)

	// BackendRequestDuration tracks backend HTTP request duration.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_backend_request_duration_seconds",
			Help:    "Backend HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// BackendRequestsTotal tracks total backend HTTP requests.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_backend_requests_total",
			Help: "Total backend HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks messages appended to conversations per role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)

	// StateSaveDuration tracks persisted state save duration per store kind.
	StateSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_state_save_duration_seconds",
			Help:    "Persisted state save duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"store"},
	)

	// StubRequestDuration tracks stub server HTTP request duration.
	StubRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_stub_request_duration_seconds",
			Help:    "Stub server HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// StubRequestsTotal tracks total stub server HTTP requests.
	StubRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_stub_requests_total",
			Help: "Total stub server HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StubSubscribersActive tracks live stub stream subscribers.
	StubSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_stub_subscribers_active",
			Help: "Number of connected stub stream subscribers",
		},
	)
)

// RecordStream records metrics for a finished event stream.
func RecordStream(status string, duration float64) {
	StreamDuration.WithLabelValues(status).Observe(duration)
}

// RecordTurn records metrics for a finished turn.
func RecordTurn(status string, tokens int) {
	TurnsTotal.WithLabelValues(status).Inc()
	if tokens > 0 {
		TurnTokensTotal.Add(float64(tokens))
	}
}

// RecordBackendRequest records metrics for a backend HTTP request.
func RecordBackendRequest(method, path, status string, duration float64) {
	BackendRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	BackendRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStubRequest records metrics for a stub server HTTP request.
func RecordStubRequest(method, path, status string, duration float64) {
	StubRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	StubRequestsTotal.WithLabelValues(method, path, status).Inc()
}
