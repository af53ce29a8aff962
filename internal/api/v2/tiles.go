package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/glyphmap/tilesync/internal/diskindex"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/tile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

// initTileRoutes registers the enumeration and tile serving endpoints
func (c *Controller) initTileRoutes() {
	// satellite keys are cache-first, the fetcher keeps the index current
	c.Group.GET("/satellite/keys", c.GetSatelliteKeys)
	c.Group.GET("/satellite/:z/:x/:y", c.GetSatelliteTile)

	// label keys are rebuilt on every call, masks may be edited outside the API
	c.Group.GET("/labels/keys", c.GetLabelKeys)
	c.Group.GET("/labels/:z/:x/:y", c.GetLabelTile)
	c.Group.POST("/labels/:z/:x/:y", c.SaveLabelTile)

	c.Group.GET("/predictions/models", c.GetPredictionModels)
	c.Group.GET("/predictions/:model/keys", c.GetPredictionKeys)
	c.Group.GET("/predictions/:model/:z/:x/:y", c.GetPredictionTile)
}

// GetSatelliteKeys lists the fetched satellite tiles. ?refresh=true forces a
// rebuild from disk.
func (c *Controller) GetSatelliteKeys(ctx echo.Context) error {
	return c.writeKeys(ctx, c.Store.Satellite(), refreshRequested(ctx))
}

// GetSatelliteTile serves one satellite tile or a placeholder.
func (c *Controller) GetSatelliteTile(ctx echo.Context) error {
	k, err := c.tileParam(ctx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile coordinates")
	}
	return c.serveTile(ctx, c.Store.Satellite(), k, SatelliteCacheControl)
}

// GetLabelKeys lists the label masks, always rebuilding the index first.
func (c *Controller) GetLabelKeys(ctx echo.Context) error {
	return c.writeKeys(ctx, c.Store.Labels(), true)
}

// GetLabelTile serves one label mask or a placeholder.
func (c *Controller) GetLabelTile(ctx echo.Context) error {
	k, err := c.tileParam(ctx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile coordinates")
	}
	return c.serveTile(ctx, c.Store.Labels(), k, MutableCacheControl)
}

// SaveLabelTile stores the PNG request body as the tile's mask. An all-black
// mask deletes the label.
func (c *Controller) SaveLabelTile(ctx echo.Context) error {
	z, k, err := tile.ParseXYZ(ctx.Param("z"), ctx.Param("x"), ctx.Param("y"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile coordinates")
	}
	data, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read mask", http.StatusBadRequest)
	}
	if len(data) == 0 {
		return c.HandleError(ctx, nil, "Mask body is empty", http.StatusBadRequest)
	}

	action, err := c.Store.SaveLabelMask(ctx.Request().Context(), z, k, data)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to save label mask")
	}
	c.logger.Info("label mask updated",
		logger.String("tile", k.String()),
		logger.String("action", string(action)))

	return ctx.JSON(http.StatusOK, map[string]any{
		"action": action,
		"tile":   k,
	})
}

// GetPredictionModels lists the model directories under the predictions root.
func (c *Controller) GetPredictionModels(ctx echo.Context) error {
	models, err := c.Store.PredictionModels()
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to list prediction models")
	}
	return ctx.JSON(http.StatusOK, models)
}

// GetPredictionKeys lists the overlays stored for one model.
func (c *Controller) GetPredictionKeys(ctx echo.Context) error {
	ix, err := c.Store.Predictions(ctx.Param("model"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid model name")
	}
	return c.writeKeys(ctx, ix, refreshRequested(ctx))
}

// GetPredictionTile serves one prediction overlay or a placeholder.
func (c *Controller) GetPredictionTile(ctx echo.Context) error {
	ix, err := c.Store.Predictions(ctx.Param("model"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid model name")
	}
	k, err := c.tileParam(ctx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile coordinates")
	}
	return c.serveTile(ctx, ix, k, MutableCacheControl)
}

// writeKeys answers with the sorted "x,y" list of an index.
func (c *Controller) writeKeys(ctx echo.Context, ix *diskindex.Index[tilestore.Presence], force bool) error {
	reqCtx := ctx.Request().Context()
	if force {
		if err := ix.ForceRebuild(reqCtx); err != nil {
			return c.HandleDomainError(ctx, err, "Failed to rebuild "+ix.Name()+" index")
		}
	}
	keys, err := ix.Keys(reqCtx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to read "+ix.Name()+" index")
	}
	return ctx.JSON(http.StatusOK, tile.Strings(keys))
}

// serveTile writes the tile bytes, or the transparent placeholder when the
// tile exists neither in the index nor on disk.
func (c *Controller) serveTile(ctx echo.Context, ix *diskindex.Index[tilestore.Presence], k tile.Key, cacheControl string) error {
	data, err := c.Store.ReadTile(ctx.Request().Context(), ix, k)
	if errors.IsNotFound(err) {
		ctx.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		ctx.Response().Header().Set(PlaceholderHeader, "true")
		return ctx.Blob(http.StatusOK, "image/png", tilestore.Placeholder())
	}
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to read tile")
	}
	ctx.Response().Header().Set(echo.HeaderCacheControl, cacheControl)
	return ctx.Blob(http.StatusOK, "image/png", data)
}

// tileParam parses :z/:x/:y and requires the collection zoom.
func (c *Controller) tileParam(ctx echo.Context) (tile.Key, error) {
	z, k, err := tile.ParseXYZ(ctx.Param("z"), ctx.Param("x"), ctx.Param("y"))
	if err != nil {
		return tile.Key{}, err
	}
	if z != c.Store.Zoom() {
		return tile.Key{}, errors.Newf("zoom %d does not match collection zoom %d", z, c.Store.Zoom()).
			Category(errors.CategoryValidation).
			Component("api").
			Build()
	}
	return k, nil
}

// refreshRequested reports whether ?refresh asks for a forced rebuild.
func refreshRequested(ctx echo.Context) bool {
	v, err := strconv.ParseBool(ctx.QueryParam("refresh"))
	return err == nil && v
}
