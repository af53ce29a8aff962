// Package api provides the HTTP server for tilesync. The JSON and event
// stream endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

const (
	DefaultListen          = "127.0.0.1:8000"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the listener settings. CORS and body limits are read from
// the settings by the v2 controller.
type Config struct {
	Listen string

	ReadTimeout time.Duration
	// WriteTimeout bounds one stalled write; event streams move the
	// deadline forward per frame
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MountMetrics serves /metrics next to the API
	MountMetrics bool
	Debug        bool
}

// ConfigFromSettings derives the listener settings. Metrics go on the API
// listener only when no telemetry.listen address takes them.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := &Config{
		Listen:          DefaultListen,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: DefaultShutdownTimeout,
		MountMetrics:    settings.Telemetry.Metrics && settings.Telemetry.Listen == "",
		Debug:           settings.Debug,
	}
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	return cfg
}

// Validate rejects a listen address without a port and non-positive
// timeouts.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q must be host:port", c.Listen)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}
