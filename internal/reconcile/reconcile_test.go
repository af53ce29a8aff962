package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/progress"
	"github.com/glyphmap/tilesync/internal/provider"
	"github.com/glyphmap/tilesync/internal/tile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testZoom = 17

// fakeFetcher writes a file through the store sink, or fails for listed keys.
type fakeFetcher struct {
	sink *tilestore.Sink

	mu       sync.Mutex
	calls    []provider.Request
	failures map[tile.Key]error
}

func (f *fakeFetcher) Fetch(_ context.Context, req provider.Request) (provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.failures[req.Key]
	f.mu.Unlock()
	if err != nil {
		return provider.Result{}, err
	}
	path := f.sink.Path(req.Key)
	if _, statErr := os.Stat(path); statErr == nil && !req.Overwrite {
		return provider.Result{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return provider.Result{}, err
	}
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		return provider.Result{}, err
	}
	f.sink.Added(req.Key)
	return provider.Result{Downloaded: true, Bytes: 3}, nil
}

type recorder struct {
	events []progress.Event
	limit  int
}

func (r *recorder) Emit(e progress.Event) bool {
	if r.limit > 0 && len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, e)
	return true
}

func (r *recorder) wire() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = string(e.Encode())
	}
	return out
}

type fixture struct {
	dir     string
	store   *tilestore.Store
	fetcher *fakeFetcher
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := tilestore.New(tilestore.Config{
		Zoom:            testZoom,
		SatelliteDir:    filepath.Join(dir, "tiles"),
		LabelsDir:       filepath.Join(dir, "labels"),
		PredictionsDir:  filepath.Join(dir, "preds"),
		OAIDir:          filepath.Join(dir, "oai"),
		NegativesFile:   filepath.Join(dir, "good_negatives.json"),
		DiscoveriesFile: filepath.Join(dir, "discoveries.json"),
	}, tilestore.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)

	f := &fakeFetcher{sink: store.SatelliteSink(), failures: map[tile.Key]error{}}
	return &fixture{
		dir:     dir,
		store:   store,
		fetcher: f,
		rec:     New(store, f, WithConcurrency(2), WithLogger(logger.NewDiscardLogger())),
	}
}

func (fx *fixture) write(t *testing.T, rel string, data string) {
	t.Helper()
	p := filepath.Join(fx.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
}

func TestComputePlan(t *testing.T) {
	a, b, c := tile.Key{X: 10, Y: 20}, tile.Key{X: 10, Y: 21}, tile.Key{X: 11, Y: 1}
	p := ComputePlan([]tile.Key{a, c}, []tile.Key{b, b, c}, map[tile.Key]struct{}{a: {}})

	assert.Equal(t, []tile.Key{a, b, c}, p.Required)
	assert.Equal(t, []tile.Key{b}, p.MissingMasks)
	assert.Equal(t, []tile.Key{b, c}, p.MissingSatellite)
	assert.Equal(t, 3, p.Total())

	assert.Zero(t, ComputePlan(nil, nil, nil).Total())
}

func TestSyncReconciliationExample(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "labels/17/10/20.png", "drawn")
	fx.write(t, "good_negatives.json", `["10,21"]`)
	fx.write(t, "tiles/17/10/20.png", "img")

	rec := &recorder{}
	res, err := fx.rec.Sync(t.Context(), rec, SyncOptions{Session: "s1"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"event: total\ndata: 2\n\n",
		"data: mask_10,21\n\n",
		"data: 10,21\n\n",
		"event: end\ndata: sync completed\n\n",
	}, rec.wire())
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.MasksCreated)
	assert.Equal(t, 1, res.Downloads.Downloaded)

	// Only the missing tile was requested, with the run's session.
	require.Len(t, fx.fetcher.calls, 1)
	assert.Equal(t, provider.Request{Key: tile.Key{X: 10, Y: 21}, Zoom: testZoom, Session: "s1"}, fx.fetcher.calls[0])

	mask, err := os.ReadFile(filepath.Join(fx.dir, "labels/17/10/21.png"))
	require.NoError(t, err)
	assert.Equal(t, tilestore.BlackMask(), mask)

	has, err := fx.store.Satellite().Has(t.Context(), tile.Key{X: 10, Y: 21})
	require.NoError(t, err)
	assert.True(t, has)

	// A second run finds nothing to do.
	rec = &recorder{}
	res, err = fx.rec.Sync(t.Context(), rec, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"event: total\ndata: 0\n\n", "event: end\ndata: already synchronized\n\n"}, rec.wire())
	assert.Equal(t, StateDone, res.State)
}

func TestSyncPerTileFailuresContinue(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "labels/17/1/1.png", "drawn")
	fx.write(t, "labels/17/1/2.png", "drawn")
	fx.write(t, "labels/17/1/3.png", "drawn")
	fx.fetcher.failures[tile.Key{X: 1, Y: 2}] = &provider.RemoteFetchError{Status: 403}

	rec := &recorder{}
	res, err := fx.rec.Sync(t.Context(), rec, SyncOptions{Phases: true})
	require.NoError(t, err)

	var kinds []progress.Kind
	items := map[string]bool{}
	for _, e := range rec.events {
		kinds = append(kinds, e.Kind)
		if e.Kind == progress.KindItem {
			items[e.Message] = true
		}
	}
	assert.Equal(t, progress.Phase("ANALYZE"), rec.events[0])
	assert.Equal(t, progress.KindEnd, kinds[len(kinds)-1])
	assert.Equal(t, map[string]bool{
		"1,1": true,
		"1,3": true,
		"error 1,2 provider returned HTTP 403": true,
	}, items)
	assert.Equal(t, 1, res.Downloads.Failed())
	assert.Contains(t, kinds, progress.KindPhase)
}

func TestSyncMaskFailureIsNonFatal(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "good_negatives.json", `["4,4","5,5"]`)
	// A directory where the mask file should go makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(fx.dir, "labels/17/4/4.png"), 0o755))
	fx.write(t, "labels/17/4/4.png/keep", "x")

	rec := &recorder{}
	res, err := fx.rec.Sync(t.Context(), rec, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.MasksCreated)
	assert.Equal(t, 1, res.MaskFailures)
	assert.Equal(t, progress.Total(4), rec.events[0])
	assert.Contains(t, rec.events[1].Message, "error mask_4,4 ")
	assert.Equal(t, progress.Item("mask_5,5"), rec.events[2])
	assert.Equal(t, 2, res.Downloads.Downloaded, "mask failures do not stop the download phase")
	assert.Equal(t, progress.End(SummaryCompleted), rec.events[len(rec.events)-1])
}

func TestSyncAnalyzeFailureEmitsError(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "good_negatives.json", `{not json`)

	rec := &recorder{}
	res, err := fx.rec.Sync(t.Context(), rec, SyncOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMalformedData))
	assert.Equal(t, StateError, res.State)

	require.Len(t, rec.events, 1)
	assert.Equal(t, progress.KindError, rec.events[0].Kind)
	assert.Empty(t, fx.fetcher.calls)
}

func TestSyncStopsWhenClientLeaves(t *testing.T) {
	fx := newFixture(t)
	negatives := `[`
	for i := range 30 {
		if i > 0 {
			negatives += ","
		}
		negatives += `"` + tile.Key{X: 100 + i, Y: 7}.String() + `"`
	}
	fx.write(t, "good_negatives.json", negatives+`]`)

	rec := &recorder{limit: 3}
	res, err := fx.rec.Sync(t.Context(), rec, SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, rec.events, 3)
	assert.Less(t, res.MasksCreated, 30)
	assert.Empty(t, fx.fetcher.calls, "no downloads are scheduled after the client left")
}

func TestDownloadTiles(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "tiles/17/2/2.png", "img")
	fx.fetcher.failures[tile.Key{X: 3, Y: 3}] = &provider.RemoteFetchError{Status: 500}

	rec := &recorder{}
	summary, err := fx.rec.DownloadTiles(t.Context(), rec, DownloadRequest{
		Tiles: []tile.Key{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 1, Y: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed())

	require.Len(t, rec.events, 5)
	assert.Equal(t, progress.Total(3), rec.events[0], "the repeated 1,1 counts once")
	var items []string
	for _, e := range rec.events[1:4] {
		items = append(items, e.Message)
	}
	assert.ElementsMatch(t, []string{"1,1", "skip 2,2", "error 3,3 provider returned HTTP 500"}, items)
	assert.Equal(t, progress.End("download completed: 1 downloaded, 1 skipped, 1 failed"), rec.events[4])
}

func TestDownloadTilesValidation(t *testing.T) {
	fx := newFixture(t)

	for _, req := range []DownloadRequest{
		{},
		{Tiles: []tile.Key{{X: 1, Y: 1}}, Zoom: 16},
		{Tiles: []tile.Key{{X: -1, Y: 1}}},
	} {
		rec := &recorder{}
		_, err := fx.rec.DownloadTiles(t.Context(), rec, req)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.Empty(t, rec.events, "nothing is emitted for a rejected request")
	}
	assert.Empty(t, fx.fetcher.calls)
}
