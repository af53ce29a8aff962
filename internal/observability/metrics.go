// Package observability wires the Prometheus registry and exposes it over HTTP.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glyphmap/tilesync/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Index    *metrics.IndexMetrics
	Provider *metrics.ProviderMetrics
	Streams  *metrics.StreamMetrics
	HTTP     *metrics.HTTPMetrics
	Disk     *metrics.DiskMetrics
}

// NewMetrics creates a registry with process collectors and every tilesync collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	indexMetrics, err := metrics.NewIndexMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create index metrics: %w", err)
	}
	providerMetrics, err := metrics.NewProviderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider metrics: %w", err)
	}
	streamMetrics, err := metrics.NewStreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream metrics: %w", err)
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	diskMetrics, err := metrics.NewDiskMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Index:    indexMetrics,
		Provider: providerMetrics,
		Streams:  streamMetrics,
		HTTP:     httpMetrics,
		Disk:     diskMetrics,
	}, nil
}

// Handler returns the /metrics handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Registry exposes the underlying registry, used by tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
