package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/conf"
)

// NewMetrics builds a private registry, so concurrent callers never collide
// on registration.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				errs <- err
				return
			}
			if m.Index == nil || m.Provider == nil || m.Streams == nil || m.HTTP == nil || m.Disk == nil {
				errs <- assert.AnError
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.HTTP.RecordHTTPRequest(http.MethodGet, "/api/v2/health", http.StatusOK, 0.01)
	m.HTTP.RecordSSEMessageSent("total")
	m.Streams.StreamOpened()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tilesync_http_requests_total")
	assert.Contains(t, string(body), "tilesync_sse_messages_total")
	assert.Contains(t, string(body), "tilesync_streams_active 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewEndpoint(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	settings := &conf.Settings{}
	_, err = NewEndpoint(settings, m)
	require.Error(t, err, "metrics disabled")

	settings.Telemetry.Metrics = true
	_, err = NewEndpoint(settings, m)
	require.Error(t, err, "no separate listener")

	settings.Telemetry.Listen = "127.0.0.1:0"
	e, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", e.Address())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint did not stop")
	}
}

func TestEndpointBindFailure(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	settings := &conf.Settings{}
	settings.Telemetry.Metrics = true
	settings.Telemetry.Listen = "127.0.0.1:-1"

	e, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.Error(t, e.Run(t.Context()))
}
