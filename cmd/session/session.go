// Package session provides the provider session commands
package session

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/internal/app"
	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/provider"
	"github.com/glyphmap/tilesync/internal/securefs"
)

// Command creates the session command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the tile provider session",
	}
	cmd.AddCommand(createCommand(settings))
	return cmd
}

func createCommand(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Request a satellite session token and write the session file",
		Long: `Create requests a satellite map session from the tile provider and stores the
token in the session file. An existing session file is left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, settings, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing session file")
	cmd.Flags().StringVar(&settings.Provider.APIKey, "api-key", "", "Provider API key (default from config or GOOGLE_MAPS_API_KEY)")
	cmd.Flags().StringVar(&settings.Provider.SessionFile, "file", viper.GetString("provider.sessionfile"), "Session file path")
	conf.FlagKey(cmd.Flags(), "api-key", "provider.apikey")
	conf.FlagKey(cmd.Flags(), "file", "provider.sessionfile")

	return cmd
}

func runCreate(cmd *cobra.Command, settings *conf.Settings, force bool) error {
	path := settings.Provider.SessionFile
	exists, err := securefs.Exists(path)
	if err != nil {
		return err
	}
	if exists && !force {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "session file %s already exists, use --force to replace it\n", path)
		return err
	}

	a, err := app.New(settings, buildinfo.Current())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sf, err := provider.CreateSession(cmd.Context(), a.HTTP, settings.Provider.SessionURL, settings.Provider.APIKey, path)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	a.Log.Info("session created", logger.String("path", path), logger.String("expiry", sf.Expiry))
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "session written to %s (expires %s)\n", path, sf.Expiry)
	return err
}
