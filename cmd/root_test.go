package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/conf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out strings.Builder
	root := RootCommand(&conf.Settings{})
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionSkipsSettings(t *testing.T) {
	out, err := execute(t, "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tilesync "), out)
}

func TestConfigFlagAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiles:\n  zoom: 15\nprovider:\n  apikey: secret-key\n"), 0o600))

	out, err := execute(t, "--config", path, "--debug", "config", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "zoom: 15")
	assert.Contains(t, out, "debug: true")
	assert.NotContains(t, out, "secret-key")
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiles:\n  zoom: 40\n"), 0o600))

	_, err := execute(t, "--config", path, "config", "dump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading settings")
}

func TestSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "download", "sync", "session", "index", "config", "version"})
}
