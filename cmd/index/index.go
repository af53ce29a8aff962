// Package index provides commands that maintain the tile indexes
package index

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glyphmap/tilesync/internal/app"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

// Collections accepted by --collection.
var collections = []string{"satellite", "labels", "predictions", "oai", "all"}

// Command creates the index command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and rebuild the tile indexes",
	}
	cmd.AddCommand(rebuildCommand(settings))
	return cmd
}

func rebuildCommand(settings *conf.Settings) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rescan the collection directories and report tile counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(collections, collection) {
				return errors.Newf("unknown collection %q, want one of %s", collection, strings.Join(collections, ", ")).
					Category(errors.CategoryValidation).
					Component("cli").
					Build()
			}

			a, err := app.New(settings, buildinfo.Current())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return Rebuild(cmd.Context(), a.Store, collection, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "all", "Collection to rebuild: "+strings.Join(collections, ", "))

	return cmd
}

// Rebuild forces a rescan of the named collection and writes one count line
// per index to w.
func Rebuild(ctx context.Context, store *tilestore.Store, collection string, w io.Writer) error {
	want := func(name string) bool { return collection == "all" || collection == name }

	if want("satellite") {
		if err := store.Satellite().ForceRebuild(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "satellite: %d tiles\n", store.Satellite().Len())
	}
	if want("labels") {
		if err := store.Labels().ForceRebuild(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "labels: %d tiles\n", store.Labels().Len())
	}
	if want("predictions") {
		models, err := store.PredictionModels()
		if err != nil {
			return err
		}
		for _, m := range models {
			ix, err := store.Predictions(m)
			if err != nil {
				return err
			}
			if err := ix.ForceRebuild(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "predictions/%s: %d tiles\n", m, ix.Len())
		}
	}
	if want("oai") {
		models, err := store.OAIModels()
		if err != nil {
			return err
		}
		for _, m := range models {
			ix, err := store.OAI(m)
			if err != nil {
				return err
			}
			if err := ix.ForceRebuild(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "oai/%s: %d records\n", m, ix.Len())
		}
	}
	return nil
}
