// Package tilestore owns the on-disk tile collections and the in-memory
// indices over them: satellite imagery, label masks, per-model prediction
// overlays and OAI records, plus the good-negative and discovery marker
// files.
//
// One Store is created at startup and shared by every handler. Writes made
// through the Store keep the indices in line with the disk; files created by
// other processes are picked up by self-healing lookups or a forced rebuild.
package tilestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/glyphmap/tilesync/internal/diskindex"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

const (
	pngExt  = "png"
	jsonExt = "json"

	// DefaultCacheSize is the number of tile payloads kept in memory for serving.
	DefaultCacheSize = 2048
)

// Config locates the collections on disk.
type Config struct {
	Zoom            int
	SatelliteDir    string
	LabelsDir       string
	PredictionsDir  string
	OAIDir          string
	NegativesFile   string
	DiscoveriesFile string
	CacheSize       int
}

// OAIPrediction is the semantic classification stored per tile.
type OAIPrediction struct {
	Label       string  `json:"label"`
	Prob        float64 `json:"prob"`
	Description string  `json:"description,omitempty"`
}

// Presence is the value type of set-style indices.
type Presence = struct{}

// Store is the process-wide owner of every tile collection.
type Store struct {
	cfg Config
	log logger.Logger
	obs diskindex.Observer

	satellite *diskindex.Index[Presence]
	labels    *diskindex.Index[Presence]

	predictions *xsync.MapOf[string, *diskindex.Index[Presence]]
	oai         *xsync.MapOf[string, *diskindex.Index[OAIPrediction]]

	cache *lru.Cache[string, []byte]
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithObserver attaches index metrics to every collection.
func WithObserver(o diskindex.Observer) Option {
	return func(s *Store) { s.obs = o }
}

// New creates a Store. No directory is read until an index is first used.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Zoom < 0 || cfg.Zoom > tile.MaxZoom {
		return nil, errors.Newf("zoom %d outside 0..%d", cfg.Zoom, tile.MaxZoom).
			Category(errors.CategoryConfiguration).
			Component("tilestore").
			Build()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	s := &Store{
		cfg:         cfg,
		predictions: xsync.NewMapOf[string, *diskindex.Index[Presence]](),
		oai:         xsync.NewMapOf[string, *diskindex.Index[OAIPrediction]](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("tilestore")
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Component("tilestore").
			Build()
	}
	s.cache = cache

	s.satellite = newPresenceIndex(s, "satellite", cfg.SatelliteDir)
	s.labels = newPresenceIndex(s, "labels", cfg.LabelsDir)
	return s, nil
}

func newPresenceIndex(s *Store, name, root string) *diskindex.Index[Presence] {
	opts := []diskindex.Option[Presence]{diskindex.WithLogger[Presence](s.log)}
	if s.obs != nil {
		opts = append(opts, diskindex.WithObserver[Presence](s.obs))
	}
	return diskindex.New(name, root, s.cfg.Zoom, pngExt, diskindex.Presence, opts...)
}

// Zoom returns the fixed zoom level of every collection.
func (s *Store) Zoom() int { return s.cfg.Zoom }

// Satellite returns the satellite imagery index.
func (s *Store) Satellite() *diskindex.Index[Presence] { return s.satellite }

// Labels returns the label mask index.
func (s *Store) Labels() *diskindex.Index[Presence] { return s.labels }

// Predictions returns the overlay index for a model. The index is kept once
// the model directory exists; for an unknown model an empty index is
// returned without being registered.
func (s *Store) Predictions(model string) (*diskindex.Index[Presence], error) {
	root, err := securefs.Join(s.cfg.PredictionsDir, model)
	if err != nil {
		return nil, err
	}
	return modelIndex(s.predictions, model, root, func() *diskindex.Index[Presence] {
		return newPresenceIndex(s, "predictions/"+model, root)
	})
}

// OAI returns the OAI record index for a model, registered the same way as
// Predictions.
func (s *Store) OAI(model string) (*diskindex.Index[OAIPrediction], error) {
	root, err := securefs.Join(s.cfg.OAIDir, model)
	if err != nil {
		return nil, err
	}
	return modelIndex(s.oai, model, root, func() *diskindex.Index[OAIPrediction] {
		opts := []diskindex.Option[OAIPrediction]{diskindex.WithLogger[OAIPrediction](s.log)}
		if s.obs != nil {
			opts = append(opts, diskindex.WithObserver[OAIPrediction](s.obs))
		}
		return diskindex.New("oai/"+model, root, s.cfg.Zoom, jsonExt, loadOAIPrediction, opts...)
	})
}

func modelIndex[T any](registry *xsync.MapOf[string, *diskindex.Index[T]], model, root string,
	build func() *diskindex.Index[T]) (*diskindex.Index[T], error) {
	if ix, ok := registry.Load(model); ok {
		return ix, nil
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return build(), nil
	}
	if err != nil {
		return nil, errors.FileError(err, root, 0)
	}
	if !info.IsDir() {
		return build(), nil
	}
	ix, _ := registry.LoadOrCompute(model, build)
	return ix, nil
}

func loadOAIPrediction(path string) (OAIPrediction, error) {
	var rec OAIPrediction
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// PredictionModels lists the model directories under the predictions root.
// The directory is read on every call.
func (s *Store) PredictionModels() ([]string, error) {
	return listModelDirs(s.cfg.PredictionsDir)
}

// OAIModels lists the model directories under the OAI root.
func (s *Store) OAIModels() ([]string, error) {
	return listModelDirs(s.cfg.OAIDir)
}

func listModelDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.FileError(err, root, 0)
	}
	models := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && securefs.ValidateName(e.Name()) == nil {
			models = append(models, e.Name())
		}
	}
	slices.Sort(models)
	return models, nil
}

// ReadTile returns the bytes of an indexed tile, using the self-healing
// lookup and the in-memory payload cache. A tile absent from both the index
// and the disk yields a not-found error.
func (s *Store) ReadTile(ctx context.Context, ix *diskindex.Index[Presence], k tile.Key) ([]byte, error) {
	if _, err := ix.Lookup(ctx, k); err != nil {
		return nil, err
	}
	path := ix.Path(k)
	if data, ok := s.cache.Get(path); ok {
		return data, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// deleted behind our back
		ix.Remove(k)
		return nil, errors.Newf("tile %s removed from %s", k, ix.Name()).
			Category(errors.CategoryNotFound).
			Component("tilestore").
			Build()
	}
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	s.cache.Add(path, data)
	return data, nil
}

// Invalidate drops a cached payload after its file changed.
func (s *Store) Invalidate(path string) {
	s.cache.Remove(path)
}

// SatelliteSink returns the write target used by the remote fetcher: it
// resolves canonical paths and records new tiles in the satellite index.
func (s *Store) SatelliteSink() *Sink {
	return &Sink{store: s, ix: s.satellite}
}

// Sink records files written into a presence collection.
type Sink struct {
	store *Store
	ix    *diskindex.Index[Presence]
}

// Path returns the canonical file path for a key.
func (w *Sink) Path(k tile.Key) string { return w.ix.Path(k) }

// Added records a tile whose file has just been written.
func (w *Sink) Added(k tile.Key) {
	w.store.Invalidate(w.ix.Path(k))
	w.ix.Add(k, Presence{})
}

// RegisterPrediction records a prediction overlay written by the inference
// service.
func (s *Store) RegisterPrediction(model string, k tile.Key) error {
	ix, err := s.Predictions(model)
	if err != nil {
		return err
	}
	s.Invalidate(ix.Path(k))
	ix.Add(k, Presence{})
	return nil
}

// SaveOAIPrediction persists an OAI record unless the file is already there,
// then sets the stored record in the model's index.
func (s *Store) SaveOAIPrediction(model string, k tile.Key, rec OAIPrediction) error {
	ix, err := s.OAI(model)
	if err != nil {
		return err
	}
	path := ix.Path(k)
	exists, err := securefs.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		// the service wrote it already; index what is on disk
		if onDisk, err := loadOAIPrediction(path); err == nil {
			rec = onDisk
		}
	} else {
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.New(err).Category(errors.CategoryMalformedData).Component("tilestore").Build()
		}
		if err := securefs.WriteFileAtomic(path, data); err != nil {
			return err
		}
		// the model directory exists now
		if ix, err = s.OAI(model); err != nil {
			return err
		}
	}
	ix.Add(k, rec)
	return nil
}
