package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/glyphmap/tilesync/internal/buildinfo"
	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	s := &conf.Settings{}
	s.Main.Name = "tilesync"
	s.Tiles = conf.TileSettings{
		Zoom:            17,
		SatelliteDir:    filepath.Join(dir, "tiles"),
		LabelsDir:       filepath.Join(dir, "labels"),
		PredictionsDir:  filepath.Join(dir, "preds"),
		OAIDir:          filepath.Join(dir, "oai_preds"),
		NegativesFile:   filepath.Join(dir, "good_negatives.json"),
		DiscoveriesFile: filepath.Join(dir, "discoveries.json"),
	}
	s.Provider = conf.ProviderSettings{
		URLTemplate: "https://tiles.test/{z}/{x}/{y}?session={session}&key={key}",
		SessionFile: filepath.Join(dir, "session.json"),
		Timeout:     time.Second,
		Concurrency: 2,
	}
	s.Logging.Console = &logger.ConsoleOutput{Enabled: false}
	return s
}

func TestNewWiresComponents(t *testing.T) {
	settings := testSettings(t)
	a, err := New(settings, buildinfo.Current())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Fetcher)
	assert.NotNil(t, a.Reconciler)
	assert.NotNil(t, a.Metrics)
	assert.NotNil(t, a.Disk)
	assert.Nil(t, a.Inference, "no inference url configured")
	assert.Empty(t, a.Session)
	assert.Equal(t, 17, a.Store.Zoom())
}

func TestNewWithInference(t *testing.T) {
	settings := testSettings(t)
	settings.Inference.URL = "http://inference.test"
	settings.Inference.Timeout = time.Minute

	a, err := New(settings, buildinfo.Current(), WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Inference)
}

func TestSessionLoading(t *testing.T) {
	settings := testSettings(t)
	require.NoError(t, os.WriteFile(settings.Provider.SessionFile,
		[]byte(`{"session":"abc","expiry":"1700000000"}`), 0o600))

	a, err := New(settings, buildinfo.Current(), WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.Equal(t, "abc", a.Session)
	assert.NoError(t, a.RequireSession(""))
}

func TestRequireSession(t *testing.T) {
	settings := testSettings(t)
	a, err := New(settings, buildinfo.Current(), WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	err = a.RequireSession("")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	assert.NoError(t, a.RequireSession("override"))

	require.NoError(t, os.WriteFile(settings.Provider.SessionFile, []byte(`{}`), 0o600))
	err = a.RequireSession("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no session token")
}

func TestNewRejectsBadZoom(t *testing.T) {
	settings := testSettings(t)
	settings.Tiles.Zoom = -1

	_, err := New(settings, buildinfo.Current(), WithLogger(logger.NewDiscardLogger()))
	assert.Error(t, err)
}

func TestWarnLowDiskWithoutMonitor(t *testing.T) {
	a := &App{Log: logger.NewDiscardLogger()}
	var buf bytes.Buffer
	assert.Zero(t, a.WarnLowDisk(t.Context(), &buf))
	assert.Empty(t, buf.String())
}
