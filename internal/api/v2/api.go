// internal/api/v2/api.go
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/glyphmap/tilesync/internal/api/middleware"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/inference"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/monitor"
	"github.com/glyphmap/tilesync/internal/observability"
	"github.com/glyphmap/tilesync/internal/observability/metrics"
	"github.com/glyphmap/tilesync/internal/reconcile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

// Controller manages the API routes and handlers
type Controller struct {
	Echo       *echo.Echo
	Group      *echo.Group
	Settings   *conf.Settings
	Store      *tilestore.Store
	Reconciler *reconcile.Reconciler
	// Inference is nil when no inference service is configured
	Inference *inference.Client
	// Disk is nil when disk checks are off
	Disk DiskChecker

	logger    logger.Logger
	metrics   *observability.Metrics
	startTime time.Time

	// ctx is cancelled on Shutdown and stops every running stream
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DiskChecker reports free space on the collection mounts.
type DiskChecker interface {
	Check(ctx context.Context) ([]monitor.Usage, error)
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithInference enables the inference proxy endpoints.
func WithInference(client *inference.Client) Option {
	return func(c *Controller) { c.Inference = client }
}

// WithDiskMonitor adds collection disk usage to the health report.
func WithDiskMonitor(d DiskChecker) Option {
	return func(c *Controller) { c.Disk = d }
}

// WithMetrics records request and stream metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger overrides the "api" module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates the API controller and registers the /api/v2 routes on e.
func New(e *echo.Echo, settings *conf.Settings, store *tilestore.Store, rec *reconcile.Reconciler, opts ...Option) (*Controller, error) {
	if settings == nil || store == nil || rec == nil {
		return nil, errors.Newf("api controller requires settings, store and reconciler").
			Category(errors.CategoryConfiguration).
			Component("api").
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:       e,
		Settings:   settings,
		Store:      store,
		Reconciler: rec,
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Global().Module("api")
	}

	c.Group = e.Group("/api/v2")

	bodyLimit := settings.WebServer.BodyLimit
	if bodyLimit == "" {
		bodyLimit = DefaultBodyLimit
	}

	c.Group.Use(echomw.Recover()) // Recover should be early
	c.Group.Use(mw.NewCORS(settings.WebServer.AllowOrigins))
	c.Group.Use(mw.NewBodyLimit(bodyLimit))
	c.Group.Use(mw.NewRequestLogger(c.logger, c.httpMetrics()))

	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"tile routes", c.initTileRoutes},
		{"oai routes", c.initOAIRoutes},
		{"marker routes", c.initMarkerRoutes},
		{"stream routes", c.initStreamRoutes},
		{"inference routes", c.initInferenceRoutes},
	}
	for _, initializer := range routeInitializers {
		initializer.fn()
		c.logger.Debug("routes initialized", logger.String("group", initializer.name))
	}
}

// HealthCheck reports uptime, the size of the built indices and free space
// on the collection mounts. A mount above the warning level turns the status
// to "degraded"; the response code stays 200.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	status := "healthy"
	body := map[string]any{
		"name":           c.Settings.Main.Name,
		"version":        buildinfo.Current().GetVersion(),
		"zoom":           c.Store.Zoom(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
		"indices": map[string]any{
			"satellite": indexStatus(c.Store.Satellite().Built(), c.Store.Satellite().Len()),
			"labels":    indexStatus(c.Store.Labels().Built(), c.Store.Labels().Len()),
		},
		"inference": c.Inference != nil,
	}
	if c.Disk != nil {
		usages, err := c.Disk.Check(ctx.Request().Context())
		if err != nil {
			c.logger.Warn("disk check failed", logger.Error(err))
			body["disk_error"] = err.Error()
		} else {
			body["disk"] = usages
			if monitor.AnyLow(usages) {
				status = "degraded"
			}
		}
	}
	body["status"] = status
	return ctx.JSON(http.StatusOK, body)
}

func indexStatus(built bool, entries int) map[string]any {
	return map[string]any{"built": built, "entries": entries}
}

// Shutdown cancels running streams and waits for their producers to finish.
func (c *Controller) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Debug("API controller shut down")
}

func (c *Controller) httpMetrics() *metrics.HTTPMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.HTTP
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier that ties a client
// visible error to its log line.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes an ErrorResponse with the given status.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", errorResp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API error", fields...)
	}

	return ctx.JSON(code, errorResp)
}

// HandleDomainError picks the status code from the error category.
func (c *Controller) HandleDomainError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, StatusForError(err))
}

// StatusForError maps an error category onto an HTTP status.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryMalformedData):
		return http.StatusUnprocessableEntity
	case errors.IsCategory(err, errors.CategoryRemoteFetch),
		errors.IsCategory(err, errors.CategoryNetwork),
		errors.IsCategory(err, errors.CategoryInference):
		return http.StatusBadGateway
	case errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
