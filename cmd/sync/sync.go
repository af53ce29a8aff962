// Package sync provides the label/satellite reconciliation command
package sync

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/internal/app"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/progress"
	"github.com/glyphmap/tilesync/internal/reconcile"
)

type options struct {
	phases  bool
	session string
	quiet   bool
}

// Command creates the sync command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create missing masks and download missing satellite tiles",
		Long: `Sync brings the satellite and label collections in line: every labeled tile
and every good negative gets a satellite image, and every good negative without
a mask gets an all-black mask.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings, opts)
		},
	}

	setupFlags(cmd, settings, opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) {
	flags := cmd.Flags()
	flags.BoolVar(&opts.phases, "phases", false, "Print phase changes")
	flags.StringVar(&opts.session, "session", "", "Session token overriding the session file")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print totals and the summary")

	flags.IntVarP(&settings.Provider.Concurrency, "max-parallel", "p", viper.GetInt("provider.concurrency"), "Maximum concurrent downloads")
	conf.FlagKey(flags, "max-parallel", "provider.concurrency")
}

func run(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	a, err := app.New(settings, buildinfo.Current())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// masks need no session, so a missing one only fails the downloads
	if err := a.RequireSession(opts.session); err != nil {
		a.Log.Warn("satellite downloads will fail without a session", logger.Error(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.WarnLowDisk(ctx, cmd.OutOrStdout())

	res, err := a.Reconciler.Sync(ctx, progress.NewPrinter(cmd.OutOrStdout(), opts.quiet), reconcile.SyncOptions{
		Session: opts.session,
		Phases:  opts.phases,
	})
	if err != nil {
		return err
	}
	if failed := res.Downloads.Failed() + res.MaskFailures; failed > 0 {
		return fmt.Errorf("%d tiles failed", failed)
	}
	return nil
}
