package main

import (
	"context"
	"fmt"
	"os"

	"github.com/glyphmap/tilesync/cmd"
	"github.com/glyphmap/tilesync/internal/conf"
)

func main() {
	// Defaults, environment and any config file on the search path provide
	// the flag defaults. The selected command reloads with --config applied.
	settings, err := conf.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		settings = &conf.Settings{}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
