package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics contains the metrics for remote tile fetches.
type ProviderMetrics struct {
	Downloads        prometheus.Counter
	Skipped          prometheus.Counter
	FetchErrors      *prometheus.CounterVec
	DownloadDuration prometheus.Histogram
	DownloadedBytes  prometheus.Counter
}

// NewProviderMetrics creates and registers the provider metrics.
func NewProviderMetrics(registry prometheus.Registerer) (*ProviderMetrics, error) {
	m := &ProviderMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register provider metrics: %w", err)
	}
	return m, nil
}

func (m *ProviderMetrics) initMetrics() {
	m.Downloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilesync_provider_downloads_total",
		Help: "Tiles fetched from the remote provider and written to disk.",
	})
	m.Skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilesync_provider_skipped_total",
		Help: "Fetches skipped because the tile already existed.",
	})
	m.FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_provider_fetch_errors_total",
		Help: "Failed fetches by HTTP status, or \"io\"/\"network\" for local failures.",
	}, []string{"status"})
	m.DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilesync_provider_download_duration_seconds",
		Help:    "Duration of successful tile downloads.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	m.DownloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilesync_provider_downloaded_bytes_total",
		Help: "Bytes written for downloaded tiles.",
	})
}

// ObserveDownload records a successful fetch.
func (m *ProviderMetrics) ObserveDownload(d time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.Downloads.Inc()
	m.DownloadDuration.Observe(d.Seconds())
	m.DownloadedBytes.Add(float64(bytes))
}

// IncSkipped counts a fetch short-circuited by an existing file.
func (m *ProviderMetrics) IncSkipped() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}

// IncFetchError counts a failed fetch. status 0 is recorded under reason.
func (m *ProviderMetrics) IncFetchError(status int, reason string) {
	if m == nil {
		return
	}
	label := reason
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.FetchErrors.WithLabelValues(label).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ProviderMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Downloads
	ch <- m.Skipped
	m.FetchErrors.Collect(ch)
	ch <- m.DownloadDuration
	ch <- m.DownloadedBytes
}

// Describe implements the prometheus.Collector interface.
func (m *ProviderMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Downloads.Desc()
	ch <- m.Skipped.Desc()
	m.FetchErrors.Describe(ch)
	ch <- m.DownloadDuration.Desc()
	ch <- m.DownloadedBytes.Desc()
}
