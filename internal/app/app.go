// Package app assembles the tilesync components from loaded settings. Every
// command builds one App and closes it on exit.
package app

import (
	"context"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/httpclient"
	"github.com/glyphmap/tilesync/internal/inference"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/monitor"
	"github.com/glyphmap/tilesync/internal/observability"
	"github.com/glyphmap/tilesync/internal/provider"
	"github.com/glyphmap/tilesync/internal/reconcile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

const sentryFlushTimeout = 2 * time.Second

// App holds the wired components.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Log      logger.Logger

	Metrics    *observability.Metrics
	HTTP       *httpclient.Client
	Store      *tilestore.Store
	Fetcher    *provider.Fetcher
	Reconciler *reconcile.Reconciler
	// Inference is nil when inference.url is empty
	Inference *inference.Client
	Disk      *monitor.DiskMonitor

	// Session is the provider session read from the session file at startup
	Session string

	central         *logger.CentralLogger
	inferenceClient *httpclient.Client
}

// Option adjusts an App before its components are built.
type Option func(*App)

// WithLogger skips building the central logger, for tests.
func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.Log = l }
}

// New initializes logging and telemetry and builds every component.
func New(settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	a := &App{Settings: settings, Build: build}
	for _, opt := range opts {
		opt(a)
	}

	if a.Log == nil {
		if err := a.initLogger(); err != nil {
			return nil, err
		}
	}

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, build.Release()); err != nil {
		a.Log.Warn("sentry disabled", logger.Error(err))
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryConfiguration).Component("app").Build()
	}
	a.Metrics = m

	a.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout:    settings.Provider.Timeout,
		UserAgent:         "tilesync/" + build.GetVersion(),
		RequestsPerSecond: settings.Provider.RateLimit,
		Burst:             settings.Provider.Burst,
		ConnsPerHost:      settings.Provider.Concurrency,
	})

	store, err := tilestore.New(tilestore.Config{
		Zoom:            settings.Tiles.Zoom,
		SatelliteDir:    settings.Tiles.SatelliteDir,
		LabelsDir:       settings.Tiles.LabelsDir,
		PredictionsDir:  settings.Tiles.PredictionsDir,
		OAIDir:          settings.Tiles.OAIDir,
		NegativesFile:   settings.Tiles.NegativesFile,
		DiscoveriesFile: settings.Tiles.DiscoveriesFile,
		CacheSize:       settings.Tiles.CacheSize,
	},
		tilestore.WithLogger(a.module("tilestore")),
		tilestore.WithObserver(m.Index))
	if err != nil {
		a.HTTP.Close()
		return nil, err
	}
	a.Store = store

	a.Disk = monitor.NewDiskMonitor([]string{
		settings.Tiles.SatelliteDir,
		settings.Tiles.LabelsDir,
		settings.Tiles.PredictionsDir,
		settings.Tiles.OAIDir,
	}, settings.Tiles.DiskWarning,
		monitor.WithLogger(a.module("monitor")),
		monitor.WithObserver(m.Disk))

	a.Session = a.loadSession()
	a.Fetcher = provider.NewFetcher(provider.Config{
		URLTemplate: settings.Provider.URLTemplate,
		APIKey:      settings.Provider.APIKey,
		Session:     a.Session,
	}, a.HTTP, store.SatelliteSink(), m.Provider, a.module("provider"))

	a.Reconciler = reconcile.New(store, a.Fetcher,
		reconcile.WithConcurrency(settings.Provider.Concurrency),
		reconcile.WithLogger(a.module("reconcile")),
		reconcile.WithMetrics(m.Streams))

	if settings.Inference.URL != "" {
		// inference runs take minutes, they get their own client timeout
		a.inferenceClient = httpclient.New(&httpclient.Config{
			DefaultTimeout: settings.Inference.Timeout,
			UserAgent:      "tilesync/" + build.GetVersion(),
		})
		a.Inference = inference.NewClient(inference.Config{
			URL:           settings.Inference.URL,
			ModelCacheTTL: settings.Inference.CacheTTL,
		}, a.inferenceClient, store, a.module("inference"))
	}

	return a, nil
}

func (a *App) initLogger() error {
	cfg := a.Settings.Logging
	if a.Settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Component("app").
			Context("setting", "logging").
			Build()
	}
	logger.SetGlobal(central)
	a.central = central
	a.Log = central.Module("main")
	return nil
}

// module returns a named logger from the central logger, or the injected
// logger when there is none.
func (a *App) module(name string) logger.Logger {
	if a.central == nil {
		return a.Log
	}
	return a.central.Module(name)
}

// loadSession reads the configured session file. A missing file is not an
// error here; commands that fetch tiles call RequireSession.
func (a *App) loadSession() string {
	path := a.Settings.Provider.SessionFile
	if path == "" {
		return ""
	}
	session, err := provider.LoadSession(path)
	if err != nil {
		a.Log.Debug("no provider session loaded", logger.String("path", path), logger.Error(err))
		return ""
	}
	return session
}

// RequireSession fails unless a session is available, either from the
// session file or the given override.
func (a *App) RequireSession(override string) error {
	if override != "" || a.Session != "" {
		return nil
	}
	_, err := provider.LoadSession(a.Settings.Provider.SessionFile)
	if err != nil {
		return err
	}
	return errors.Newf("session file %s holds no session token", a.Settings.Provider.SessionFile).
		Category(errors.CategoryConfiguration).
		Component("app").
		Build()
}

// Close releases network clients and flushes logs and telemetry.
func (a *App) Close() error {
	if a.HTTP != nil {
		a.HTTP.Close()
	}
	if a.inferenceClient != nil {
		a.inferenceClient.Close()
	}
	errors.FlushSentry(sentryFlushTimeout)
	if a.central != nil {
		return a.central.Close()
	}
	return nil
}

// WarnLowDisk writes one warning line to w per collection mount above the
// disk warning level and returns how many it wrote. Check failures are
// logged and otherwise ignored.
func (a *App) WarnLowDisk(ctx context.Context, w io.Writer) int {
	if a.Disk == nil {
		return 0
	}
	usages, err := a.Disk.Check(ctx)
	if err != nil {
		a.Log.Debug("disk check failed", logger.Error(err))
		return 0
	}
	warn := color.New(color.FgYellow)
	n := 0
	for _, u := range usages {
		if u.Low {
			_, _ = warn.Fprintf(w, "warning: tile collection disk nearly full: %s\n", u.Summary())
			n++
		}
	}
	return n
}
