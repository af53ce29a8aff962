package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	mw "github.com/glyphmap/tilesync/internal/api/middleware"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/observability/metrics"
	"github.com/glyphmap/tilesync/internal/progress"
	"github.com/glyphmap/tilesync/internal/reconcile"
	"github.com/glyphmap/tilesync/internal/tile"
)

// DownloadStreamRequest is the body of POST /downloads/stream.
type DownloadStreamRequest struct {
	Tiles     []tile.Key `json:"tiles"`
	Zoom      int        `json:"zoom"`
	Overwrite bool       `json:"overwrite"`
	Session   string     `json:"session"`
}

// initStreamRoutes registers the server-sent event endpoints. Each stream
// drives a batch against the tile provider, so they sit behind a per-client
// rate limiter.
func (c *Controller) initStreamRoutes() {
	limiter := mw.NewStreamRateLimiter(c.Settings.WebServer.StreamRate)

	c.Group.POST("/downloads/stream", c.StreamDownload, limiter)
	c.Group.GET("/sync/stream", c.StreamSync, limiter)
}

// StreamDownload fetches an explicit tile list and reports each tile as it
// resolves. Duplicate tiles in the body are fetched and reported once. The request is validated before the stream is opened, so a bad
// request gets a JSON error instead of an event stream.
func (c *Controller) StreamDownload(ctx echo.Context) error {
	var body DownloadStreamRequest
	if err := json.NewDecoder(ctx.Request().Body).Decode(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid download request", http.StatusBadRequest)
	}
	req := reconcile.DownloadRequest{
		Tiles:     body.Tiles,
		Zoom:      body.Zoom,
		Overwrite: body.Overwrite,
		Session:   body.Session,
	}
	if err := c.Reconciler.Validate(&req); err != nil {
		return c.HandleDomainError(ctx, err, "Invalid download request")
	}

	return c.serveProgress(ctx, "download", func(runCtx context.Context, em progress.Emitter) {
		if _, err := c.Reconciler.DownloadTiles(runCtx, em, req); err != nil {
			em.Emit(progress.Failure(err.Error()))
		}
	})
}

// StreamSync runs the reconciler. ?phases=true adds phase events and
// ?session= overrides the provider session for this run.
func (c *Controller) StreamSync(ctx echo.Context) error {
	phases, _ := strconv.ParseBool(ctx.QueryParam("phases"))
	opts := reconcile.SyncOptions{
		Session: ctx.QueryParam("session"),
		Phases:  phases,
	}

	return c.serveProgress(ctx, "sync", func(runCtx context.Context, em progress.Emitter) {
		// Sync emits its own error event before returning an error
		_, _ = c.Reconciler.Sync(runCtx, em, opts)
	})
}

// serveProgress runs produce on a progress stream and pumps its events to
// the client until the producer finishes, the client leaves or the
// controller shuts down.
func (c *Controller) serveProgress(ctx echo.Context, kind string, produce func(context.Context, progress.Emitter)) error {
	reqCtx := ctx.Request().Context()

	c.wg.Add(1)
	s := progress.Start(reqCtx, streamBuffer, func(runCtx context.Context, em progress.Emitter) {
		defer c.wg.Done()
		produce(runCtx, em)
	})
	stop := context.AfterFunc(c.ctx, s.Cancel)
	defer stop()

	log := c.logger.With(logger.String("stream_id", s.ID()), logger.String("kind", kind))
	c.streamMetrics().StreamOpened()
	defer c.streamMetrics().StreamClosed()
	log.Info("progress stream opened", logger.String("ip", ctx.RealIP()))

	httpMetrics := c.httpMetrics()
	err := progress.Serve(reqCtx, ctx.Response(), s,
		progress.WithHeartbeat(streamHeartbeat),
		progress.WithWriteTimeout(streamWriteTimeout),
		progress.WithLogger(log),
		progress.OnSent(func(e progress.Event) {
			httpMetrics.RecordSSEMessageSent(string(e.Kind))
		}),
	)
	if err != nil {
		// headers are already sent, nothing left to tell the client
		log.Debug("progress stream ended early", logger.Error(err))
		return nil
	}
	log.Info("progress stream closed")
	return nil
}

func (c *Controller) streamMetrics() *metrics.StreamMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Streams
}
