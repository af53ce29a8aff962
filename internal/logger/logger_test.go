package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestModuleLoggerFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewTestLogger(buf).Module("provider").With(String("tile", "10,21"))
	log.Info("tile fetched", Int("status", 200), Float64("ratio", 0.123456))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "tile fetched", lines[0]["msg"])
	assert.Equal(t, "test.provider", lines[0]["module"])
	assert.Equal(t, "10,21", lines[0]["tile"])
	assert.InDelta(t, 200, lines[0]["status"], 0)
	assert.InDelta(t, 0.123, lines[0]["ratio"], 0.0001)
}

func TestTraceIDFromContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	ctx := WithTraceID(context.Background(), "run-1")
	NewTestLogger(buf).WithContext(ctx).Warn("slow")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-1", lines[0]["trace_id"])
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestSensitiveValuesRedacted(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	NewTestLogger(buf).Error("fetch failed",
		String("url", "https://tile.googleapis.com/v1/2dtiles/17/1/2?session=abcdef&key=AIzaSyA1234567890123456789"))

	out := buf.String()
	assert.NotContains(t, out, "abcdef")
	assert.NotContains(t, out, "AIzaSyA1234567890123456789")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", RedactSensitiveData(""))
	assert.Equal(t, "plain message", RedactSensitiveData("plain message"))
	assert.Equal(t, `api_key: [REDACTED]`, RedactSensitiveData(`api_key: secretvalue`))
}

func TestModuleLevelFiltering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		ModuleOutputs: map[string]ModuleOutput{
			"batch": {Enabled: true, FilePath: filepath.Join(dir, "batch.log"), Level: "warn"},
		},
	}
	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)

	log := cl.Module("batch")
	log.Info("dropped")
	log.Warn("kept", Int("failed", 1))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(filepath.Join(dir, "batch.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, levelTrace, parseLogLevel("trace"))
	assert.Equal(t, parseLogLevel("info"), parseLogLevel("bogus"))
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestMessageAndErrorRedacted(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	err := errors.New(`GET https://tiles.test/17/1/2?session=tok123456&key=secret99: status 403`)
	NewTestLogger(buf).Warn("fetch https://tiles.test/1?key=secret99 failed", Error(err))

	out := buf.String()
	assert.NotContains(t, out, "secret99")
	assert.NotContains(t, out, "tok123456")
	assert.Contains(t, out, "status 403")
}

func TestFileAndModuleOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &LoggingConfig{
		DefaultLevel: "debug",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: filepath.Join(dir, "main", "tilesync.log")},
		ModuleOutputs: map[string]ModuleOutput{
			"reconcile": {Enabled: true, FilePath: filepath.Join(dir, "reconcile.log")},
		},
	}
	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)

	cl.Module("api").Debug("served tile")
	cl.Module("reconcile").Module("plan").Info("planned", Int("total", 2))
	require.NoError(t, cl.Close())

	main, err := os.ReadFile(filepath.Join(dir, "main", "tilesync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), `"module":"api"`)
	assert.NotContains(t, string(main), "planned")

	rec, err := os.ReadFile(filepath.Join(dir, "reconcile.log"))
	require.NoError(t, err)
	assert.Contains(t, string(rec), `"module":"reconcile.plan"`)
	assert.Contains(t, string(rec), `"total":2`)
}
