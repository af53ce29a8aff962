package api

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/tilestore"
)

func TestSatelliteKeysAreCacheFirst(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "tiles/17/10/20.png", []byte("img"))
	env.write(t, "tiles/17/3/4.png", []byte("img"))

	rr := env.do(t, http.MethodGet, "/api/v2/satellite/keys", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"3,4", "10,20"}, decode[[]string](t, rr))

	// a file added behind the index is only seen after a refresh
	env.write(t, "tiles/17/10/21.png", []byte("img"))
	rr = env.do(t, http.MethodGet, "/api/v2/satellite/keys", nil)
	assert.Equal(t, []string{"3,4", "10,20"}, decode[[]string](t, rr))

	rr = env.do(t, http.MethodGet, "/api/v2/satellite/keys?refresh=true", nil)
	assert.Equal(t, []string{"3,4", "10,20", "10,21"}, decode[[]string](t, rr))
}

func TestLabelKeysAlwaysRebuild(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/v2/labels/keys", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	env.write(t, "labels/17/10/20.png", grayPNG(t, true))
	rr = env.do(t, http.MethodGet, "/api/v2/labels/keys", nil)
	assert.Equal(t, []string{"10,20"}, decode[[]string](t, rr))
}

func TestServeTile(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "tiles/17/10/20.png", []byte("imagery"))

	t.Run("hit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v2/satellite/17/10/20", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "imagery", rr.Body.String())
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.Equal(t, SatelliteCacheControl, rr.Header().Get("Cache-Control"))
		assert.Empty(t, rr.Header().Get(PlaceholderHeader))
	})

	t.Run("miss serves placeholder", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v2/satellite/17/99/99", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, tilestore.Placeholder(), rr.Body.Bytes())
		assert.Equal(t, "true", rr.Header().Get(PlaceholderHeader))
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	})

	t.Run("wrong zoom", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v2/satellite/18/10/20", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("non numeric", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v2/labels/17/ten/20", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSaveLabelTile(t *testing.T) {
	env := newTestEnv(t)
	maskPath := filepath.Join(env.dir, "labels/17/10/20.png")

	rr := env.do(t, http.MethodPost, "/api/v2/labels/17/10/20", bytes.NewReader(grayPNG(t, true)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"action":"saved","tile":"10,20"}`, rr.Body.String())
	assert.FileExists(t, maskPath)

	rr = env.do(t, http.MethodGet, "/api/v2/labels/keys", nil)
	assert.Equal(t, []string{"10,20"}, decode[[]string](t, rr))

	// an all-black mask removes the label
	rr = env.do(t, http.MethodPost, "/api/v2/labels/17/10/20", bytes.NewReader(grayPNG(t, false)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"action":"deleted","tile":"10,20"}`, rr.Body.String())
	_, err := os.Stat(maskPath)
	assert.True(t, os.IsNotExist(err))

	rr = env.do(t, http.MethodPost, "/api/v2/labels/17/10/20", bytes.NewReader(nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v2/labels/17/10/20", strings.NewReader("not a png"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictionRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "preds/model-a/17/10/20.png", []byte("overlay"))
	require.NoError(t, os.MkdirAll(filepath.Join(env.dir, "preds", "model-b"), 0o755))

	rr := env.do(t, http.MethodGet, "/api/v2/predictions/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"model-a", "model-b"}, decode[[]string](t, rr))

	rr = env.do(t, http.MethodGet, "/api/v2/predictions/model-a/keys", nil)
	assert.Equal(t, []string{"10,20"}, decode[[]string](t, rr))

	rr = env.do(t, http.MethodGet, "/api/v2/predictions/model-a/17/10/20", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "overlay", rr.Body.String())
	assert.Equal(t, MutableCacheControl, rr.Header().Get("Cache-Control"))

	rr = env.do(t, http.MethodGet, "/api/v2/predictions/.hidden/keys", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOAIRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "oai_preds/model-a/17/10/20.json", []byte(`{"label":"glyph","prob":0.9,"description":"ring"}`))

	rr := env.do(t, http.MethodGet, "/api/v2/oai/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"model-a"}, decode[[]string](t, rr))

	rr = env.do(t, http.MethodGet, "/api/v2/oai/model-a", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"10,20":{"label":"glyph","prob":0.9,"description":"ring"}}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/v2/oai/model-a/17/10/20", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"label":"glyph","prob":0.9,"description":"ring"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/v2/oai/model-a/17/1/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
