package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// resetViper isolates each test from the global viper state.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultZoom, settings.Tiles.Zoom)
	assert.Equal(t, "data/satellite", settings.Tiles.SatelliteDir)
	assert.Equal(t, 10, settings.Provider.Concurrency)
	assert.InDelta(t, 90.0, settings.Tiles.DiskWarning, 0)
	assert.Equal(t, 30*time.Second, settings.Provider.Timeout)
	assert.Equal(t, 5*time.Minute, settings.Inference.CacheTTL)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Empty(t, ConfigFileUsed())
	assert.Same(t, settings, GetSettings())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
tiles:
  zoom: 15
  satellitedir: /srv/sat
provider:
  concurrency: 4
  timeout: 5s
inference:
  url: http://127.0.0.1:5000
`)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15, settings.Tiles.Zoom)
	assert.Equal(t, "/srv/sat", settings.Tiles.SatelliteDir)
	assert.Equal(t, "data/labels", settings.Tiles.LabelsDir)
	assert.Equal(t, 4, settings.Provider.Concurrency)
	assert.Equal(t, 5*time.Second, settings.Provider.Timeout)
	assert.Equal(t, "http://127.0.0.1:5000", settings.Inference.URL)
	assert.Equal(t, path, ConfigFileUsed())
}

func TestLoadEnvironment(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "tiles:\n  zoom: 16\n")
	t.Setenv("GOOGLE_MAPS_API_KEY", "AIzaTestKey")
	t.Setenv("TILESYNC_TILES_ZOOM", "18")
	t.Setenv("TILESYNC_PROVIDER_RATELIMIT", "2.5")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AIzaTestKey", settings.Provider.APIKey)
	assert.Equal(t, 18, settings.Tiles.Zoom)
	assert.InDelta(t, 2.5, settings.Provider.RateLimit, 0)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
tiles:
  zoom: 30
provider:
  concurrency: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiles.zoom")
	assert.Contains(t, err.Error(), "provider.concurrency")
}

func TestLoadMalformedFile(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "tiles: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Tiles: TileSettings{
				Zoom: 17, SatelliteDir: "s", LabelsDir: "l", PredictionsDir: "p", OAIDir: "o",
				NegativesFile: "n.json", DiscoveriesFile: "d.json",
			},
			Provider:  ProviderSettings{URLTemplate: "https://t/{z}/{x}/{y}", Concurrency: 1},
			WebServer: WebServerSettings{Listen: ":8000"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"valid", func(*Settings) {}, ""},
		{"negative zoom", func(s *Settings) { s.Tiles.Zoom = -1 }, "tiles.zoom"},
		{"empty labels dir", func(s *Settings) { s.Tiles.LabelsDir = " " }, "tiles.labelsdir"},
		{"disk warning above 100", func(s *Settings) { s.Tiles.DiskWarning = 120 }, "tiles.diskwarning"},
		{"template without y", func(s *Settings) { s.Provider.URLTemplate = "https://t/{z}/{x}" }, "{y}"},
		{"zero concurrency", func(s *Settings) { s.Provider.Concurrency = 0 }, "provider.concurrency"},
		{"bad inference url", func(s *Settings) { s.Inference.URL = "ftp://x" }, "inference.url"},
		{"bad listen", func(s *Settings) { s.WebServer.Listen = "8000" }, "webserver.listen"},
		{"bad metrics listen", func(s *Settings) { s.Telemetry.Listen = "metrics" }, "telemetry.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Error(), tt.want)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	assert.NoError(t, validateEnvZoom("17"))
	assert.Error(t, validateEnvZoom("23"))
	assert.Error(t, validateEnvZoom("x"))
	assert.NoError(t, validateEnvConcurrency("3"))
	assert.Error(t, validateEnvConcurrency("0"))
	assert.NoError(t, validateEnvDuration("90s"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.NoError(t, validateEnvURL("https://sentry.example/1"))
	assert.Error(t, validateEnvURL("localhost:5000"))
	assert.Error(t, validateEnvAPIKey("key&x=1"))
	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("maybe"))
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	resetViper(t)
	t.Setenv("TILESYNC_TILES_ZOOM", "99")

	err := bindEnvVars()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TILESYNC_TILES_ZOOM")
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "tiles:\n  zoom: 14\nprovider:\n  apikey: secret\n")
	settings, err := Load(path)
	require.NoError(t, err)

	settings.Provider.Concurrency = 3
	out := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, SaveYAMLConfig(out, settings))

	resetViper(t)
	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 14, reloaded.Tiles.Zoom)
	assert.Equal(t, 3, reloaded.Provider.Concurrency)
	assert.Equal(t, "secret", reloaded.Provider.APIKey)
	assert.Equal(t, settings.Provider.Timeout, reloaded.Provider.Timeout)
}

func TestMarshalYAMLMasksSecrets(t *testing.T) {
	settings := &Settings{
		Provider:  ProviderSettings{APIKey: "AIzaSecret"},
		Telemetry: TelemetrySettings{SentryDSN: "https://k@sentry.example/1"},
	}

	data, err := MarshalYAML(settings, true)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AIzaSecret")
	assert.NotContains(t, string(data), "sentry.example")
	assert.Equal(t, "AIzaSecret", settings.Provider.APIKey, "input must not be modified")
}

func TestDefaultConfigYAMLMatchesDefaults(t *testing.T) {
	resetViper(t)
	data, err := DefaultConfigYAML()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))

	path := writeConfig(t, string(data))
	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultZoom, settings.Tiles.Zoom)
	assert.Equal(t, "session.json", settings.Provider.SessionFile)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFile)

	written, err := WriteDefaultConfig(path)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = WriteDefaultConfig(path)
	require.NoError(t, err)
	assert.False(t, written, "existing file must be left alone")
}

func TestGetDefaultConfigPathsPrefersExistingFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	paths, err := GetDefaultConfigPaths()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, ".", paths[0])

	userDir := filepath.Join(home, ".config", appDirectory)
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, ConfigFile), []byte("debug: true\n"), 0o600))

	paths, err = GetDefaultConfigPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{userDir}, paths)

	found, err := FindConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(userDir, ConfigFile), found)
}
