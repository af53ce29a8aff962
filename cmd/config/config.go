// Package config provides commands to inspect and create the config file
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glyphmap/tilesync/internal/conf"
)

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(dumpCommand(settings), initCommand())
	return cmd
}

func dumpCommand(settings *conf.Settings) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := conf.MarshalYAML(settings, !showSecrets)
			if err != nil {
				return err
			}
			if used := conf.ConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print API keys and DSNs unmasked")

	return cmd
}

func initCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file unless one exists",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			conf.SkipLoadAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				var err error
				if path, err = conf.UserConfigPath(); err != nil {
					return err
				}
			}
			written, err := conf.WriteDefaultConfig(path)
			if err != nil {
				return err
			}
			if !written {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Target file (default: ~/.config/tilesync/config.yaml)")

	return cmd
}
