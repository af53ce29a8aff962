package inference

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/httpclient"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/tile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

const serviceURL = "http://inference.test"

func newTestClient(t *testing.T) (*Client, *tilestore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := tilestore.New(tilestore.Config{
		Zoom:            17,
		SatelliteDir:    filepath.Join(dir, "tiles"),
		LabelsDir:       filepath.Join(dir, "labels"),
		PredictionsDir:  filepath.Join(dir, "preds"),
		OAIDir:          filepath.Join(dir, "oai_preds"),
		NegativesFile:   filepath.Join(dir, "good_negatives.json"),
		DiscoveriesFile: filepath.Join(dir, "discoveries.json"),
	}, tilestore.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)

	hc := httpclient.New(nil)
	t.Cleanup(hc.Close)
	httpmock.ActivateNonDefault(hc.StdClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewClient(Config{URL: serviceURL + "/"}, hc, store, logger.NewDiscardLogger()), store, dir
}

func TestShortModelName(t *testing.T) {
	assert.Equal(t, "dazzling-plasma-63", ShortModelName("dazzling-plasma-63-sf-b5-512/best.ckpt"))
	assert.Equal(t, "kind-breeze", ShortModelName(`kind-breeze\epoch=3.ckpt`))
	assert.Equal(t, "unknown_model", ShortModelName(""))
}

func TestListModelsIsCached(t *testing.T) {
	c, _, _ := newTestClient(t)
	httpmock.RegisterResponder("GET", serviceURL+"/models",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, []string{"a-b-c-d/best.ckpt"}))

	for range 3 {
		models, err := c.ListModels(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"a-b-c-d/best.ckpt"}, models)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestListModelsServiceDown(t *testing.T) {
	c, _, _ := newTestClient(t)
	httpmock.RegisterResponder("GET", serviceURL+"/models",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	_, err := c.ListModels(t.Context())
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
}

func TestRunRecordsPredictions(t *testing.T) {
	c, store, dir := newTestClient(t)
	ctx := t.Context()

	// The service stored 10,20 itself; 10,21 only comes back inline.
	existing := filepath.Join(dir, "preds", "dazzling-plasma-63", "17", "10", "20.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("service"), 0o644))

	stale := filepath.Join(dir, "oai_preds", "dazzling-plasma-63", "17", "10", "21.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte(`{"label":"old","prob":0.2}`), 0o644))
	oai, err := store.OAI("dazzling-plasma-63")
	require.NoError(t, err)
	require.NoError(t, oai.Ensure(ctx))
	require.NoError(t, os.Remove(stale)) // deleted by the service before rerunning

	httpmock.RegisterResponder("POST", serviceURL+"/inference",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "dazzling-plasma-63-sf/best.ckpt", body["model_name"])
			assert.Equal(t, true, body["use_oai"])
			assert.NotContains(t, body, "patch_size")
			return httpmock.NewJsonResponse(http.StatusOK, Response{
				Message: "Processed 2 tiles in 1.00s.",
				Predictions: []TilePrediction{
					{X: 10, Y: 20, ProbPNGB64: base64.StdEncoding.EncodeToString([]byte("inline-20"))},
					{X: 10, Y: 21, ProbPNGB64: base64.StdEncoding.EncodeToString([]byte("inline-21"))},
				},
				OAIPredictions: []OAITilePrediction{{X: 10, Y: 20, Prob: 0.8, Label: "glyph"}},
			})
		})

	useOAI := true
	resp, err := c.Run(ctx, Request{
		Tiles:        []TileRef{{X: 10, Y: 20}, {X: 10, Y: 21}},
		ModelName:    "dazzling-plasma-63-sf/best.ckpt",
		UseOAI:       &useOAI,
		OAIModelName: "gpt-4.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "dazzling-plasma-63", resp.Model)

	preds, err := store.Predictions("dazzling-plasma-63")
	require.NoError(t, err)
	keys, err := preds.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []tile.Key{{X: 10, Y: 20}, {X: 10, Y: 21}}, keys)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "service", string(data), "files written by the service are kept")
	data, err = os.ReadFile(preds.Path(tile.Key{X: 10, Y: 21}))
	require.NoError(t, err)
	assert.Equal(t, "inline-21", string(data))

	snap, err := oai.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[tile.Key]tilestore.OAIPrediction{
		{X: 10, Y: 20}: {Label: "glyph", Prob: 0.8},
	}, snap)
}

func TestRunValidatesAndMapsErrors(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, err := c.Run(t.Context(), Request{ModelName: "m"})
	assert.True(t, errors.IsValidation(err))
	_, err = c.Run(t.Context(), Request{Tiles: []TileRef{{X: -1, Y: 0}}, ModelName: "m"})
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, httpmock.GetTotalCallCount())

	httpmock.RegisterResponder("POST", serviceURL+"/inference",
		httpmock.NewStringResponder(http.StatusNotFound, "Model checkpoint 'x' not found."))
	_, err = c.Run(t.Context(), Request{Tiles: []TileRef{{X: 1, Y: 1}}, ModelName: "x/best.ckpt"})
	assert.True(t, errors.IsNotFound(err))
}
