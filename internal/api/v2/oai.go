package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/glyphmap/tilesync/internal/tilestore"
)

// initOAIRoutes registers the semantic prediction endpoints
func (c *Controller) initOAIRoutes() {
	c.Group.GET("/oai/models", c.GetOAIModels)
	c.Group.GET("/oai/:model", c.GetOAIPredictions)
	c.Group.GET("/oai/:model/:z/:x/:y", c.GetOAIPrediction)
}

// GetOAIModels lists the model directories under the OAI root.
func (c *Controller) GetOAIModels(ctx echo.Context) error {
	models, err := c.Store.OAIModels()
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to list OAI models")
	}
	return ctx.JSON(http.StatusOK, models)
}

// GetOAIPredictions returns every record of one model keyed by "x,y".
// ?refresh=true forces a rebuild from disk.
func (c *Controller) GetOAIPredictions(ctx echo.Context) error {
	ix, err := c.Store.OAI(ctx.Param("model"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid model name")
	}
	reqCtx := ctx.Request().Context()
	if refreshRequested(ctx) {
		if err := ix.ForceRebuild(reqCtx); err != nil {
			return c.HandleDomainError(ctx, err, "Failed to rebuild OAI index")
		}
	}
	snapshot, err := ix.Snapshot(reqCtx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to read OAI index")
	}

	out := make(map[string]tilestore.OAIPrediction, len(snapshot))
	for k, rec := range snapshot {
		out[k.String()] = rec
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetOAIPrediction returns one record, or 404 when the tile has none.
func (c *Controller) GetOAIPrediction(ctx echo.Context) error {
	ix, err := c.Store.OAI(ctx.Param("model"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid model name")
	}
	k, err := c.tileParam(ctx)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile coordinates")
	}
	rec, err := ix.Lookup(ctx.Request().Context(), k)
	if err != nil {
		return c.HandleDomainError(ctx, err, "No OAI prediction for tile")
	}
	return ctx.JSON(http.StatusOK, rec)
}
