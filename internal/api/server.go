package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/glyphmap/tilesync/internal/api/middleware"
	v2 "github.com/glyphmap/tilesync/internal/api/v2"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/inference"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/observability"
	"github.com/glyphmap/tilesync/internal/reconcile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

// Server is the main HTTP server for tilesync.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	store      *tilestore.Store
	reconciler *reconcile.Reconciler
	inference  *inference.Client
	disk       v2.DiskChecker
	metrics    *observability.Metrics

	apiController *v2.Controller

	// errCh carries a failure of the listener goroutine
	errCh chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithInference enables the inference proxy.
func WithInference(c *inference.Client) ServerOption {
	return func(s *Server) {
		s.inference = c
	}
}

// WithDiskMonitor reports collection disk usage on /health.
func WithDiskMonitor(d v2.DiskChecker) ServerOption {
	return func(s *Server) {
		s.disk = d
	}
}

// New creates a new HTTP server serving the tile collection in store.
func New(settings *conf.Settings, store *tilestore.Store, rec *reconcile.Reconciler, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:     config,
		settings:   settings,
		store:      store,
		reconciler: rec,
		errCh:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.logger.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("metrics", config.MountMetrics),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the server-wide middleware. CORS, body limits
// and request logging are applied by the API group.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes registers the API and, unless a dedicated listener serves it,
// the metrics endpoint.
func (s *Server) setupRoutes() error {
	opts := []v2.Option{v2.WithLogger(s.logger)}
	if s.metrics != nil {
		opts = append(opts, v2.WithMetrics(s.metrics))
	}
	if s.inference != nil {
		opts = append(opts, v2.WithInference(s.inference))
	}
	if s.disk != nil {
		opts = append(opts, v2.WithDiskMonitor(s.disk))
	}

	apiController, err := v2.New(s.echo, s.settings, s.store, s.reconciler, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.apiController = apiController

	if s.config.MountMetrics && s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.logger.Debug("routes initialized", logger.String("api_version", "v2"))
	return nil
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.logger.Error("server error", logger.Error(err))
			s.errCh <- err
		}
	}()
	s.logger.Info("HTTP server starting", logger.String("address", s.config.Listen))
}

func (s *Server) startBlocking() error {
	if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and blocks until SIGINT,
// SIGTERM or ctx ends it, then shuts down gracefully. A listener failure is
// returned as is.
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.Start()

	select {
	case err := <-s.errCh:
		s.apiController.Shutdown()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received, initiating graceful shutdown")
	return s.Shutdown()
}

// Shutdown stops running streams, then the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if s.apiController != nil {
		s.apiController.Shutdown()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
