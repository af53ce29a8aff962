package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
)

// ShutdownTimeout bounds the graceful stop of the metrics listener.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves /metrics on telemetry.listen, away from the API.
type Endpoint struct {
	addr    string
	metrics *Metrics
	log     logger.Logger
}

// NewEndpoint fails unless metrics are enabled with a dedicated listen
// address. Without one the API server mounts /metrics itself.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	switch {
	case !settings.Telemetry.Metrics:
		return nil, fmt.Errorf("metrics not enabled in settings")
	case settings.Telemetry.Listen == "":
		return nil, fmt.Errorf("telemetry.listen is not set")
	}
	return &Endpoint{
		addr:    settings.Telemetry.Listen,
		metrics: metrics,
		log:     logger.Global().Module("telemetry"),
	}, nil
}

// Address returns the configured listen address.
func (e *Endpoint) Address() string { return e.addr }

// Run binds the listener and serves until ctx is done. A bind failure is
// returned immediately.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", e.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.log.Warn("metrics endpoint shutdown", logger.Error(err))
		}
	})
	defer stop()

	e.log.Info("metrics endpoint listening", logger.String("address", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	return nil
}
