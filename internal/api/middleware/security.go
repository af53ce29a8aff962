package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// streamClientTTL is how long an idle client keeps its stream bucket.
const streamClientTTL = 3 * time.Minute

// viewerMethods are the methods the map viewer uses against the API.
var viewerMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPut,
	http.MethodPost, http.MethodDelete, http.MethodOptions,
}

// NewCORS lets the map viewer call the API from origins. An empty list
// allows any origin.
func NewCORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: viewerMethods,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	})
}

// NewSecureHeaders sets nosniff and frame headers on every response. The
// server is plain HTTP on a local address, so no HSTS header is sent.
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	})
}

// NewBodyLimit rejects request bodies larger than limit, e.g. "16M".
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}

// NewStreamRateLimiter caps how often one client may open a progress
// stream, in streams per second. Each stream starts a batch against the
// tile provider. A zero rate disables the limiter.
func NewStreamRateLimiter(perSecond float64) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     max(int(perSecond), 1),
		ExpiresIn: streamClientTTL,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "client address unavailable"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "stream limit reached, retry shortly"})
		},
	})
}
