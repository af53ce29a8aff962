package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewIndexMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRebuild("satellite", 10*time.Millisecond, 42, 2, nil)
	m.ObserveRebuild("satellite", time.Millisecond, 0, 0, errors.New("walk failed"))
	m.IncSelfHeal("satellite")

	assert.InDelta(t, 1, testutil.ToFloat64(m.Rebuilds.WithLabelValues("satellite")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RebuildErrors.WithLabelValues("satellite")), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.Entries.WithLabelValues("satellite")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Skipped.WithLabelValues("satellite")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SelfHeals.WithLabelValues("satellite")), 0)
}

func TestProviderMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewProviderMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveDownload(time.Second, 1024)
	m.IncSkipped()
	m.IncFetchError(403, "")
	m.IncFetchError(0, "io")

	assert.InDelta(t, 1, testutil.ToFloat64(m.Downloads), 0)
	assert.InDelta(t, 1024, testutil.ToFloat64(m.DownloadedBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchErrors.WithLabelValues("403")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchErrors.WithLabelValues("io")), 0)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	var im *IndexMetrics
	var pm *ProviderMetrics
	var sm *StreamMetrics
	var hm *HTTPMetrics

	assert.NotPanics(t, func() {
		im.ObserveRebuild("x", 0, 0, 0, nil)
		im.IncSelfHeal("x")
		pm.ObserveDownload(0, 0)
		pm.IncFetchError(500, "")
		sm.StreamOpened()
		sm.ObserveRun("sync", "completed")
		hm.RecordHTTPRequest("GET", "/", 200, 0)
		hm.RecordSSEMessageSent("")
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewStreamMetrics(registry)
	require.NoError(t, err)
	_, err = NewStreamMetrics(registry)
	require.Error(t, err)
}

func TestDiskMetrics(t *testing.T) {
	m, err := NewDiskMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetDiskUsage("/mnt/data", 2048, 91.5)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.FreeBytes.WithLabelValues("/mnt/data")), 0)
	assert.InDelta(t, 91.5, testutil.ToFloat64(m.UsedPercent.WithLabelValues("/mnt/data")), 0)

	var nilMetrics *DiskMetrics
	assert.NotPanics(t, func() { nilMetrics.SetDiskUsage("/", 1, 1) })
}
