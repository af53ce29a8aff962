package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/cmd/config"
	"github.com/glyphmap/tilesync/cmd/download"
	"github.com/glyphmap/tilesync/cmd/index"
	"github.com/glyphmap/tilesync/cmd/serve"
	"github.com/glyphmap/tilesync/cmd/session"
	"github.com/glyphmap/tilesync/cmd/sync"
	"github.com/glyphmap/tilesync/cmd/version"
	"github.com/glyphmap/tilesync/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "tilesync",
		Short:         "Satellite tile collection and labeling server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings, &configFile)

	versionCmd := version.Command()
	versionCmd.Annotations = map[string]string{conf.SkipLoadAnnotation: "true"}

	subcommands := []*cobra.Command{
		serve.Command(settings),
		download.Command(settings),
		sync.Command(settings),
		session.Command(settings),
		index.Command(settings),
		config.Command(settings),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[conf.SkipLoadAnnotation] != "" {
			return nil
		}

		// flags of the executing command override environment and file
		if err := conf.BindFlags(cmd.Flags()); err != nil {
			return err
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/tilesync, /etc/tilesync)")
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	conf.FlagKey(flags, "debug", "debug")
}
