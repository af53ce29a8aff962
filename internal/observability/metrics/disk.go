package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DiskMetrics contains the space gauges for the mounts holding collections.
type DiskMetrics struct {
	FreeBytes   *prometheus.GaugeVec
	UsedPercent *prometheus.GaugeVec
}

// NewDiskMetrics creates and registers the disk metrics.
func NewDiskMetrics(registry prometheus.Registerer) (*DiskMetrics, error) {
	m := &DiskMetrics{
		FreeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tilesync_disk_free_bytes",
			Help: "Free bytes on each mount holding a tile collection.",
		}, []string{"mount"}),
		UsedPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tilesync_disk_used_percent",
			Help: "Used space percentage on each mount holding a tile collection.",
		}, []string{"mount"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register disk metrics: %w", err)
	}
	return m, nil
}

// SetDiskUsage records the latest check of one mount.
func (m *DiskMetrics) SetDiskUsage(mount string, free uint64, usedPercent float64) {
	if m == nil {
		return
	}
	m.FreeBytes.WithLabelValues(mount).Set(float64(free))
	m.UsedPercent.WithLabelValues(mount).Set(usedPercent)
}

// Collect implements the prometheus.Collector interface.
func (m *DiskMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FreeBytes.Collect(ch)
	m.UsedPercent.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *DiskMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FreeBytes.Describe(ch)
	m.UsedPercent.Describe(ch)
}
