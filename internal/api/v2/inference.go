package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/glyphmap/tilesync/internal/inference"
)

// initInferenceRoutes registers the inference proxy endpoints. They answer
// 503 when no inference service is configured.
func (c *Controller) initInferenceRoutes() {
	c.Group.GET("/models", c.ListModels)
	c.Group.POST("/inference", c.RunInference)
}

// ListModels returns the checkpoints the inference service offers.
func (c *Controller) ListModels(ctx echo.Context) error {
	if c.Inference == nil {
		return c.inferenceDisabled(ctx)
	}
	models, err := c.Inference.ListModels(ctx.Request().Context())
	if err != nil {
		return c.HandleDomainError(ctx, err, "Failed to list inference models")
	}
	return ctx.JSON(http.StatusOK, models)
}

// RunInference forwards a model run and stores the returned predictions.
func (c *Controller) RunInference(ctx echo.Context) error {
	if c.Inference == nil {
		return c.inferenceDisabled(ctx)
	}
	var req inference.Request
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid inference request", http.StatusBadRequest)
	}

	resp, err := c.Inference.Run(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleDomainError(ctx, err, "Inference failed")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) inferenceDisabled(ctx echo.Context) error {
	return c.HandleError(ctx, nil, "Inference service is not configured", http.StatusServiceUnavailable)
}
