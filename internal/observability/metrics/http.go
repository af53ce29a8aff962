package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the API handlers
type HTTPMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	sseMessagesSent     *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilesync_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tilesync_http_request_duration_seconds",
			Help:    "HTTP request latency by route. Streaming routes measure the whole stream.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sseMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilesync_sse_messages_total",
			Help: "Server-sent events written, by event type.",
		}, []string{"event"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

// RecordHTTPRequest records a finished request
func (m *HTTPMetrics) RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordSSEMessageSent counts one server-sent event; an empty type is recorded as "message"
func (m *HTTPMetrics) RecordSSEMessageSent(event string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "message"
	}
	m.sseMessagesSent.WithLabelValues(event).Inc()
}

// Describe implements the prometheus.Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	m.sseMessagesSent.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	m.sseMessagesSent.Collect(ch)
}
