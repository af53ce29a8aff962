// Package serve provides the HTTP API server command
package serve

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/internal/api"
	"github.com/glyphmap/tilesync/internal/app"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tile API and progress streams",
		Long: `Serve starts the HTTP API used by the labeling frontend: tile and mask
reads, label and negative edits, discovery marks, the download and sync event
streams and the inference proxy. SIGINT or SIGTERM stops running streams and
shuts the server down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings)
		},
	}

	setupFlags(cmd, settings)

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	flags := cmd.Flags()
	flags.StringVarP(&settings.WebServer.Listen, "listen", "l", viper.GetString("webserver.listen"), "API listen address (host:port)")
	flags.StringVar(&settings.Telemetry.Listen, "metrics-listen", viper.GetString("telemetry.listen"), "Serve /metrics on a separate address instead of the API listener")
	flags.StringVar(&settings.Inference.URL, "inference-url", viper.GetString("inference.url"), "Inference service base URL, empty disables the proxy")
	conf.FlagKey(flags, "listen", "webserver.listen")
	conf.FlagKey(flags, "metrics-listen", "telemetry.listen")
	conf.FlagKey(flags, "inference-url", "inference.url")
}

func run(cmd *cobra.Command, settings *conf.Settings) error {
	a, err := app.New(settings, buildinfo.Current())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if settings.Telemetry.Metrics && settings.Telemetry.Listen != "" {
		endpoint, err := observability.NewEndpoint(settings, a.Metrics)
		if err != nil {
			return err
		}
		wg.Go(func() {
			if err := endpoint.Run(ctx); err != nil {
				a.Log.Error("metrics endpoint stopped", logger.Error(err))
			}
		})
	}

	opts := []api.ServerOption{api.WithMetrics(a.Metrics), api.WithDiskMonitor(a.Disk)}
	if a.Inference != nil {
		opts = append(opts, api.WithInference(a.Inference))
	}
	server, err := api.New(settings, a.Store, a.Reconciler, opts...)
	if err != nil {
		return err
	}

	// index the collections ahead of the first request
	wg.Go(func() {
		if err := a.Store.Satellite().Ensure(ctx); err != nil {
			a.Log.Warn("satellite index warm-up failed", logger.Error(err))
		}
	})

	a.Log.Info("tilesync starting",
		logger.String("version", a.Build.GetVersion()),
		logger.String("listen", settings.WebServer.Listen),
		logger.Int("zoom", settings.Tiles.Zoom),
		logger.Bool("inference", a.Inference != nil))

	return server.StartWithGracefulShutdown(ctx)
}
