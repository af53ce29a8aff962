// config.go: settings struct for tilesync and the functions to load and save it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/securefs"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-wide identification.
type MainSettings struct {
	Name string // instance name used in logs and the health endpoint
}

// TileSettings describes the on-disk tile collections.
type TileSettings struct {
	Zoom            int    // working zoom level of every collection
	SatelliteDir    string // {satellitedir}/{z}/{x}/{y}.png
	LabelsDir       string // {labelsdir}/{z}/{x}/{y}.png
	PredictionsDir  string // {predictionsdir}/{model}/{z}/{x}/{y}.png
	OAIDir          string // {oaidir}/{model}/{z}/{x}/{y}.json
	NegativesFile   string // sorted JSON array of "x,y"
	DiscoveriesFile string // sorted JSON array of "x,y"
	CacheSize       int     // number of tile payloads kept in memory for serving
	DiskWarning     float64 // used-space percentage that marks a collection mount as low
}

// ProviderSettings configures the remote tile provider.
type ProviderSettings struct {
	URLTemplate string        // placeholders {z} {x} {y} {session} {key}
	SessionURL  string        // createSession endpoint
	APIKey      string        `yaml:"apikey"` // provider API key
	SessionFile string        // session.json written by "session create"
	Timeout     time.Duration // per request timeout
	RateLimit   float64       // requests per second, 0 disables pacing
	Burst       int           // token bucket size for RateLimit
	Concurrency int           // batch download pool size
}

// InferenceSettings configures the remote inference service.
type InferenceSettings struct {
	URL      string        // base URL, empty disables the proxy endpoints
	CacheTTL time.Duration // model list cache lifetime
	Timeout  time.Duration // per request timeout, inference runs are slow
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen       string   // host:port
	BodyLimit    string   // echo BodyLimit syntax, e.g. "16M"
	AllowOrigins []string // CORS origins
	StreamRate   float64  // stream requests per second per client, 0 disables
}

// TelemetrySettings configures error reporting and metrics.
type TelemetrySettings struct {
	SentryDSN string `yaml:"sentrydsn"`
	Metrics   bool   // expose /metrics
	Listen    string // separate host:port for /metrics, empty mounts it on the API server
}

// Settings contains all configuration options for tilesync.
type Settings struct {
	Debug bool

	Main      MainSettings
	Tiles     TileSettings
	Provider  ProviderSettings
	Inference InferenceSettings
	WebServer WebServerSettings
	Logging   logger.LoggingConfig
	Telemetry TelemetrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the
// settings instance. An explicit configFile skips the search path; an empty
// one searches GetDefaultConfigPaths and falls back to defaults when no file
// exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "validate-config").
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults, environment bindings and the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		// invalid environment values are reported but do not stop startup
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}
	GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// ConfigFileUsed returns the path of the loaded config file, or "" when the
// settings come from defaults and the environment only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfigYAML returns the annotated default config file shipped with
// the binary.
func DefaultConfigYAML() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}
	return data, nil
}

// WriteDefaultConfig writes the default config file to path unless a file
// already exists there. It reports whether a file was written.
func WriteDefaultConfig(path string) (bool, error) {
	exists, err := securefs.Exists(path)
	if err != nil || exists {
		return false, err
	}
	data, err := DefaultConfigYAML()
	if err != nil {
		return false, err
	}
	if err := securefs.WriteFileAtomic(path, data); err != nil {
		return false, err
	}
	GetLogger().Info("created default config file", logger.String("path", path))
	return true, nil
}

// MarshalYAML renders settings with secrets masked, for display.
func MarshalYAML(settings *Settings, maskSecrets bool) ([]byte, error) {
	out := *settings
	if maskSecrets {
		if out.Provider.APIKey != "" {
			out.Provider.APIKey = maskedValue
		}
		if out.Telemetry.SentryDSN != "" {
			out.Telemetry.SentryDSN = maskedValue
		}
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

// SaveYAMLConfig overwrites configPath with settings. Comments and ordering
// of the previous file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := MarshalYAML(settings, false)
	if err != nil {
		return err
	}
	if err := securefs.WriteFileAtomic(filepath.Clean(configPath), data); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	return nil
}
