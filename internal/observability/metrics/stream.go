package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains the metrics for progress streams and sync runs.
type StreamMetrics struct {
	ActiveStreams prometheus.Gauge
	Runs          *prometheus.CounterVec
	Items         *prometheus.CounterVec
}

// NewStreamMetrics creates and registers the stream metrics.
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tilesync_streams_active",
			Help: "Progress streams currently connected.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilesync_runs_total",
			Help: "Sync and bulk download runs by kind and terminal state.",
		}, []string{"kind", "result"}),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilesync_run_items_total",
			Help: "Per-tile outcomes emitted by runs.",
		}, []string{"kind", "outcome"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

// StreamOpened increments the active stream gauge.
func (m *StreamMetrics) StreamOpened() {
	if m != nil {
		m.ActiveStreams.Inc()
	}
}

// StreamClosed decrements the active stream gauge.
func (m *StreamMetrics) StreamClosed() {
	if m != nil {
		m.ActiveStreams.Dec()
	}
}

// ObserveRun records the terminal state of a run ("completed", "synchronized", "error", "cancelled").
func (m *StreamMetrics) ObserveRun(kind, result string) {
	if m != nil {
		m.Runs.WithLabelValues(kind, result).Inc()
	}
}

// ObserveItem records one per-tile outcome.
func (m *StreamMetrics) ObserveItem(kind, outcome string) {
	if m != nil {
		m.Items.WithLabelValues(kind, outcome).Inc()
	}
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ActiveStreams
	m.Runs.Collect(ch)
	m.Items.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ActiveStreams.Desc()
	m.Runs.Describe(ch)
	m.Items.Describe(ch)
}
