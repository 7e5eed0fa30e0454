package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Soga.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Chat turn metrics.
	ChatTurnsTotal   *prometheus.CounterVec
	ChatTurnDuration *prometheus.HistogramVec

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket metrics.
	WSConnections prometheus.Gauge

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ChatTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soga",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns processed.",
		}, []string{"status"}),

		ChatTurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soga",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end chat turn duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soga",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soga",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soga",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soga",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soga",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soga",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of open WebSocket chat connections.",
		}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soga",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.ChatTurnsTotal,
		m.ChatTurnDuration,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WSConnections,
		m.ActiveRequests,
	)

	return m
}

// ObserveTurn records the outcome and duration of one chat turn.
// Safe to call on a nil collector.
func (m *MetricsCollector) ObserveTurn(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(status).Inc()
	m.ChatTurnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
