// Package download provides the bulk tile download command
package download

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/internal/app"
	"github.com/glyphmap/tilesync/internal/batch"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/progress"
	"github.com/glyphmap/tilesync/internal/reconcile"
)

// options holds the flags that do not map to settings.
type options struct {
	sources   sources
	overwrite bool
	session   string
	outDir    string
	quiet     bool
}

// Command creates the download command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download satellite tiles from a list, KML path or coordinate",
		Long: `Download fetches satellite tiles into the satellite directory. Tiles come from
a text list (--txt), the LineStrings of a KML file (--kml), a single coordinate
(--lat/--lon) or explicit x,y keys (--tiles); sources may be combined.

Tiles already on disk are skipped unless --overwrite is given. Failed tiles are
written to failed_tiles.txt and failed_tiles.geojson in the --out directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.sources.latSet = cmd.Flags().Changed("lat")
			opts.sources.lonSet = cmd.Flags().Changed("lon")
			return run(cmd, settings, opts)
		},
	}

	setupFlags(cmd, settings, opts)

	return cmd
}

// setupFlags configures flags specific to the download command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) {
	flags := cmd.Flags()
	flags.StringVar(&opts.sources.txt, "txt", "", "Text file with one tile per line (z x y, x y or lat lon)")
	flags.StringVar(&opts.sources.txtMode, "txt-mode", "auto", "How two-value lines are read: auto, latlon, xy")
	flags.StringVar(&opts.sources.kml, "kml", "", "KML file whose LineStrings are followed tile by tile")
	flags.Float64Var(&opts.sources.lat, "lat", 0, "Latitude of a single tile")
	flags.Float64Var(&opts.sources.lon, "lon", 0, "Longitude of a single tile")
	flags.StringSliceVar(&opts.sources.keys, "tiles", nil, "Explicit tile keys as x,y")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "Fetch tiles even when present on disk")
	flags.StringVar(&opts.session, "session", "", "Session token overriding the session file")
	flags.StringVarP(&opts.outDir, "out", "o", ".", "Directory for failure reports")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print totals and the summary")

	flags.IntVarP(&settings.Provider.Concurrency, "max-parallel", "p", viper.GetInt("provider.concurrency"), "Maximum concurrent downloads")
	flags.IntVarP(&settings.Tiles.Zoom, "zoom", "z", viper.GetInt("tiles.zoom"), "Zoom level of the collection")
	conf.FlagKey(flags, "max-parallel", "provider.concurrency")
	conf.FlagKey(flags, "zoom", "tiles.zoom")
}

func run(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	a, err := app.New(settings, buildinfo.Current())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	zoom := settings.Tiles.Zoom
	tiles, err := opts.sources.collect(zoom, a.Log)
	if err != nil {
		return err
	}
	if err := a.RequireSession(opts.session); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a.WarnLowDisk(ctx, out)
	summary, err := a.Reconciler.DownloadTiles(ctx, progress.NewPrinter(out, opts.quiet), reconcile.DownloadRequest{
		Tiles:     tiles,
		Zoom:      zoom,
		Overwrite: opts.overwrite,
		Session:   opts.session,
	})
	if err != nil {
		return err
	}

	if summary.Failed() == 0 {
		return nil
	}
	paths, err := batch.WriteFailureReport(opts.outDir, zoom, summary.Failures)
	if err != nil {
		return fmt.Errorf("writing failure report: %w", err)
	}
	for _, p := range paths {
		a.Log.Info("failure report written", logger.String("path", p))
		_, _ = fmt.Fprintf(out, "failed tiles written to %s\n", p)
	}
	return fmt.Errorf("%d of %d tiles failed", summary.Failed(), summary.Downloaded+summary.Skipped+summary.Failed())
}
