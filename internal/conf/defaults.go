// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration. Every key that may come from
// the environment needs a default here, AutomaticEnv only resolves known keys.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "tilesync")

	viper.SetDefault("tiles.zoom", DefaultZoom)
	viper.SetDefault("tiles.satellitedir", "data/satellite")
	viper.SetDefault("tiles.labelsdir", "data/labels")
	viper.SetDefault("tiles.predictionsdir", "data/predictions")
	viper.SetDefault("tiles.oaidir", "data/oai_predictions")
	viper.SetDefault("tiles.negativesfile", "data/good_negatives.json")
	viper.SetDefault("tiles.discoveriesfile", "data/discoveries.json")
	viper.SetDefault("tiles.cachesize", 2048)
	viper.SetDefault("tiles.diskwarning", 90.0)

	viper.SetDefault("provider.urltemplate", "https://tile.googleapis.com/v1/2dtiles/{z}/{x}/{y}?session={session}&key={key}")
	viper.SetDefault("provider.sessionurl", "https://tile.googleapis.com/v1/createSession")
	viper.SetDefault("provider.apikey", "")
	viper.SetDefault("provider.sessionfile", SessionFile)
	viper.SetDefault("provider.timeout", 30*time.Second)
	viper.SetDefault("provider.ratelimit", 0.0)
	viper.SetDefault("provider.burst", 1)
	viper.SetDefault("provider.concurrency", 10)

	viper.SetDefault("inference.url", "")
	viper.SetDefault("inference.cachettl", 5*time.Minute)
	viper.SetDefault("inference.timeout", 10*time.Minute)

	viper.SetDefault("webserver.listen", "127.0.0.1:8000")
	viper.SetDefault("webserver.bodylimit", "16M")
	viper.SetDefault("webserver.alloworigins", []string{"*"})
	viper.SetDefault("webserver.streamrate", 2.0)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/tilesync.log")
	viper.SetDefault("logging.file_output.max_size", 100)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_rotated_files", 10)
	viper.SetDefault("logging.file_output.compress", false)
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("telemetry.sentrydsn", "")
	viper.SetDefault("telemetry.metrics", true)
	viper.SetDefault("telemetry.listen", "")
}
