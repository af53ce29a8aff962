package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/tile"
)

// initMarkerRoutes registers the good negative and discovery endpoints.
// Both sets are read from their files on every call.
func (c *Controller) initMarkerRoutes() {
	c.Group.GET("/negatives", c.GetNegatives)
	c.Group.PUT("/negatives", c.UpdateNegatives)

	c.Group.GET("/discoveries", c.GetDiscoveries)
	c.Group.PUT("/discoveries", c.SetDiscoveries)
	c.Group.POST("/discoveries/:key", c.AddDiscovery)
	c.Group.DELETE("/discoveries/:key", c.RemoveDiscovery)
}

// GetNegatives returns the persisted good negative set.
func (c *Controller) GetNegatives(ctx echo.Context) error {
	keys, err := c.Store.GoodNegatives()
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to read good negatives")
	}
	return ctx.JSON(http.StatusOK, tile.Strings(keys))
}

// UpdateNegatives replaces the good negative set with the JSON array in the
// body, writing black masks for added tiles and deleting masks of removed ones.
func (c *Controller) UpdateNegatives(ctx echo.Context) error {
	keys, err := bindKeys(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Body must be a JSON array of \"x,y\" keys", http.StatusBadRequest)
	}
	diff, err := c.Store.UpdateGoodNegatives(ctx.Request().Context(), keys)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to update good negatives")
	}
	return ctx.JSON(http.StatusOK, diff)
}

// GetDiscoveries returns the persisted discovery set.
func (c *Controller) GetDiscoveries(ctx echo.Context) error {
	keys, err := c.Store.Discoveries()
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to read discoveries")
	}
	return ctx.JSON(http.StatusOK, tile.Strings(keys))
}

// SetDiscoveries overwrites the discovery set.
func (c *Controller) SetDiscoveries(ctx echo.Context) error {
	keys, err := bindKeys(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Body must be a JSON array of \"x,y\" keys", http.StatusBadRequest)
	}
	next, err := c.Store.SetDiscoveries(keys)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to save discoveries")
	}
	return ctx.JSON(http.StatusOK, tile.Strings(next))
}

// AddDiscovery marks one tile as a discovery.
func (c *Controller) AddDiscovery(ctx echo.Context) error {
	return c.toggleDiscovery(ctx, true)
}

// RemoveDiscovery clears the discovery mark of one tile.
func (c *Controller) RemoveDiscovery(ctx echo.Context) error {
	return c.toggleDiscovery(ctx, false)
}

func (c *Controller) toggleDiscovery(ctx echo.Context, present bool) error {
	k, err := tile.Parse(ctx.Param("key"))
	if err != nil {
		return c.HandleDomainError(ctx, err, "Invalid tile key")
	}
	next, err := c.Store.ToggleDiscovery(k, present)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to update discoveries")
	}
	return ctx.JSON(http.StatusOK, tile.Strings(next))
}

// bindKeys decodes a JSON array of canonical keys. An empty body or null is
// rejected; clearing a set takes an explicit [].
func bindKeys(ctx echo.Context) ([]tile.Key, error) {
	var keys []tile.Key
	if err := json.NewDecoder(ctx.Request().Body).Decode(&keys); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.ValidationError("expected a JSON array, got null")
	}
	return keys, nil
}
