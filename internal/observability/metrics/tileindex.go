// Package metrics provides the Prometheus collectors for tilesync components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexMetrics contains the metrics for the on-disk tile indices.
type IndexMetrics struct {
	Rebuilds        *prometheus.CounterVec
	RebuildErrors   *prometheus.CounterVec
	RebuildDuration *prometheus.HistogramVec
	Entries         *prometheus.GaugeVec
	SelfHeals       *prometheus.CounterVec
	Skipped         *prometheus.CounterVec
}

// NewIndexMetrics creates and registers the index metrics.
func NewIndexMetrics(registry prometheus.Registerer) (*IndexMetrics, error) {
	m := &IndexMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register index metrics: %w", err)
	}
	return m, nil
}

func (m *IndexMetrics) initMetrics() {
	m.Rebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_index_rebuilds_total",
		Help: "Total number of completed index rebuilds.",
	}, []string{"index"})
	m.RebuildErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_index_rebuild_errors_total",
		Help: "Total number of failed index rebuilds.",
	}, []string{"index"})
	m.RebuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilesync_index_rebuild_duration_seconds",
		Help:    "Duration of full directory walks.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"index"})
	m.Entries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilesync_index_entries",
		Help: "Number of keys held by each index.",
	}, []string{"index"})
	m.SelfHeals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_index_self_heals_total",
		Help: "Lookups that missed the index but found the file on disk.",
	}, []string{"index"})
	m.Skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_index_skipped_entries_total",
		Help: "Files ignored during a rebuild because their name or content was malformed.",
	}, []string{"index"})
}

// ObserveRebuild records one rebuild of the named index.
func (m *IndexMetrics) ObserveRebuild(index string, d time.Duration, entries, skipped int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RebuildErrors.WithLabelValues(index).Inc()
		return
	}
	m.Rebuilds.WithLabelValues(index).Inc()
	m.RebuildDuration.WithLabelValues(index).Observe(d.Seconds())
	m.Entries.WithLabelValues(index).Set(float64(entries))
	if skipped > 0 {
		m.Skipped.WithLabelValues(index).Add(float64(skipped))
	}
}

// SetEntries updates the entry gauge after an incremental mutation.
func (m *IndexMetrics) SetEntries(index string, entries int) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(index).Set(float64(entries))
}

// IncSelfHeal counts a lookup repaired from disk.
func (m *IndexMetrics) IncSelfHeal(index string) {
	if m == nil {
		return
	}
	m.SelfHeals.WithLabelValues(index).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *IndexMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Rebuilds.Collect(ch)
	m.RebuildErrors.Collect(ch)
	m.RebuildDuration.Collect(ch)
	m.Entries.Collect(ch)
	m.SelfHeals.Collect(ch)
	m.Skipped.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *IndexMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Rebuilds.Describe(ch)
	m.RebuildErrors.Describe(ch)
	m.RebuildDuration.Describe(ch)
	m.Entries.Describe(ch)
	m.SelfHeals.Describe(ch)
	m.Skipped.Describe(ch)
}
