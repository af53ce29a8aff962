// Package diskindex keeps an in-memory index of the tiles stored under a
// {z}/{x}/{y}.{ext} directory tree.
//
// The index is built lazily on first access and afterwards maintained
// incrementally by the process that writes the files. A forced rebuild walks
// the tree again; concurrent callers share one walk and the result replaces
// the live map in a single step. Mutations made while a walk is in flight are
// replayed on top of the new map so they are not lost.
package diskindex

import (
	"context"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/tile"
)

// Loader reads the value stored for a tile. Set-style indices use Presence.
type Loader[T any] func(path string) (T, error)

// Presence is the Loader for indices that only track existence.
func Presence(string) (struct{}, error) { return struct{}{}, nil }

// Observer receives rebuild and self-heal notifications, typically metrics.
type Observer interface {
	ObserveRebuild(index string, d time.Duration, entries, skipped int, err error)
	SetEntries(index string, entries int)
	IncSelfHeal(index string)
}

type mutation[T any] struct {
	key    tile.Key
	value  T
	remove bool
}

// Index is a concurrency-safe tile index over one collection directory.
type Index[T any] struct {
	name string
	root string
	zoom int
	ext  string
	load Loader[T]
	log  logger.Logger
	obs  Observer

	mu      sync.RWMutex
	entries map[tile.Key]T
	built   bool
	// journal is non-nil while a rebuild walk is running
	journal []mutation[T]

	group singleflight.Group
}

// Option configures an Index.
type Option[T any] func(*Index[T])

// WithLogger sets the logger used for build warnings.
func WithLogger[T any](l logger.Logger) Option[T] {
	return func(ix *Index[T]) { ix.log = l }
}

// WithObserver attaches rebuild metrics.
func WithObserver[T any](o Observer) Option[T] {
	return func(ix *Index[T]) { ix.obs = o }
}

// New creates an unbuilt index for files {root}/{z}/{x}/{y}.{ext}. zoom is
// used to locate files for self-healing lookups; keys found at other zoom
// levels during a walk are accepted as-is.
func New[T any](name, root string, zoom int, ext string, load Loader[T], opts ...Option[T]) *Index[T] {
	ix := &Index[T]{
		name:    name,
		root:    root,
		zoom:    zoom,
		ext:     strings.TrimPrefix(ext, "."),
		load:    load,
		entries: make(map[tile.Key]T),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.log == nil {
		ix.log = logger.Global().Module("diskindex")
	}
	ix.log = ix.log.With(logger.String("index", name))
	return ix
}

// Name returns the index name used in logs and metrics.
func (ix *Index[T]) Name() string { return ix.name }

// Root returns the collection directory.
func (ix *Index[T]) Root() string { return ix.root }

// Path returns the canonical file path for a key.
func (ix *Index[T]) Path(k tile.Key) string {
	return tile.Path(ix.root, ix.zoom, k, ix.ext)
}

// Built reports whether the index has completed at least one walk.
func (ix *Index[T]) Built() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.built
}

// Ensure builds the index if it has never been built.
func (ix *Index[T]) Ensure(ctx context.Context) error {
	if ix.Built() {
		return nil
	}
	return ix.shared(ctx, func(walkCtx context.Context) error {
		if ix.Built() {
			return nil
		}
		return ix.rebuild(walkCtx)
	})
}

// ForceRebuild walks the directory tree and replaces the live map. Callers
// arriving while a walk is running wait for that walk instead of starting
// another one.
func (ix *Index[T]) ForceRebuild(ctx context.Context) error {
	return ix.shared(ctx, ix.rebuild)
}

// shared runs fn once for all concurrent callers. The walk is detached from
// the cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done.
func (ix *Index[T]) shared(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return ix.cancelled(err)
	}
	walkCtx := context.WithoutCancel(ctx)
	ch := ix.group.DoChan("rebuild", func() (any, error) {
		return nil, fn(walkCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ix.cancelled(ctx.Err())
	}
}

func (ix *Index[T]) cancelled(err error) error {
	return errors.New(err).
		Category(errors.CategoryCancellation).
		Component("diskindex").
		Context("index", ix.name).
		Build()
}

func (ix *Index[T]) rebuild(ctx context.Context) error {
	start := time.Now()

	ix.mu.Lock()
	ix.journal = make([]mutation[T], 0)
	ix.mu.Unlock()

	fresh, skipped, err := ix.walk(ctx)

	ix.mu.Lock()
	journal := ix.journal
	ix.journal = nil
	if err == nil {
		for _, m := range journal {
			if m.remove {
				delete(fresh, m.key)
			} else {
				fresh[m.key] = m.value
			}
		}
		ix.entries = fresh
		ix.built = true
	}
	count := len(ix.entries)
	ix.mu.Unlock()

	if ix.obs != nil {
		ix.obs.ObserveRebuild(ix.name, time.Since(start), count, skipped, err)
	}
	if err != nil {
		ix.log.Error("index rebuild failed", logger.Error(err))
		return err
	}
	ix.log.Debug("index rebuilt",
		logger.Int("entries", count),
		logger.Int("skipped", skipped),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// walk scans the tree. A missing root yields an empty map. Files whose names
// or content cannot be parsed are skipped with a warning.
func (ix *Index[T]) walk(ctx context.Context) (map[tile.Key]T, int, error) {
	fresh := make(map[tile.Key]T)
	skipped := 0
	suffix := "." + ix.ext

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == ix.root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return ctx.Err()
		}
		if !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(ix.root, path)
		if err != nil {
			return err
		}
		_, key, err := tile.FromPath(rel, ix.ext)
		if err != nil {
			skipped++
			ix.log.Warn("skipping unrecognised file", logger.String("path", rel))
			return nil
		}
		value, err := ix.load(path)
		if err != nil {
			skipped++
			ix.log.Warn("skipping unreadable entry", logger.String("path", rel), logger.Error(err))
			return nil
		}
		fresh[key] = value
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, skipped, errors.New(ctxErr).
				Category(errors.CategoryCancellation).
				Component("diskindex").
				Context("index", ix.name).
				Build()
		}
		return nil, skipped, errors.New(err).
			Category(errors.CategoryFileIO).
			Component("diskindex").
			Context("index", ix.name).
			Build()
	}
	return fresh, skipped, nil
}

// Has reports whether the key is indexed, building the index first if needed.
func (ix *Index[T]) Has(ctx context.Context, k tile.Key) (bool, error) {
	if err := ix.Ensure(ctx); err != nil {
		return false, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[k]
	return ok, nil
}

// Get returns the indexed value, building the index first if needed.
func (ix *Index[T]) Get(ctx context.Context, k tile.Key) (T, bool, error) {
	var zero T
	if err := ix.Ensure(ctx); err != nil {
		return zero, false, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.entries[k]
	return v, ok, nil
}

// Lookup is Get with self-healing: on a miss the canonical path is checked on
// disk and, if present, loaded and inserted. A miss on both returns a
// not-found error.
func (ix *Index[T]) Lookup(ctx context.Context, k tile.Key) (T, error) {
	v, ok, err := ix.Get(ctx, k)
	if err != nil || ok {
		return v, err
	}

	path := ix.Path(k)
	if _, statErr := os.Stat(path); statErr != nil {
		var zero T
		return zero, errors.Newf("tile %s not in %s", k, ix.name).
			Category(errors.CategoryNotFound).
			Component("diskindex").
			Build()
	}
	v, err = ix.load(path)
	if err != nil {
		var zero T
		return zero, errors.New(err).
			Category(errors.CategoryMalformedData).
			Component("diskindex").
			Context("index", ix.name).
			Build()
	}
	ix.Add(k, v)
	if ix.obs != nil {
		ix.obs.IncSelfHeal(ix.name)
	}
	ix.log.Debug("index self-healed", logger.String("tile", k.String()))
	return v, nil
}

// Add records a key. Engine code calls this after writing the file.
func (ix *Index[T]) Add(k tile.Key, v T) {
	ix.mu.Lock()
	ix.entries[k] = v
	if ix.journal != nil {
		ix.journal = append(ix.journal, mutation[T]{key: k, value: v})
	}
	count := len(ix.entries)
	ix.mu.Unlock()
	if ix.obs != nil {
		ix.obs.SetEntries(ix.name, count)
	}
}

// Remove forgets a key. Engine code calls this after deleting the file.
func (ix *Index[T]) Remove(k tile.Key) {
	ix.mu.Lock()
	delete(ix.entries, k)
	if ix.journal != nil {
		ix.journal = append(ix.journal, mutation[T]{key: k, remove: true})
	}
	count := len(ix.entries)
	ix.mu.Unlock()
	if ix.obs != nil {
		ix.obs.SetEntries(ix.name, count)
	}
}

// Len returns the number of indexed keys without triggering a build.
func (ix *Index[T]) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Keys returns the indexed keys sorted by X then Y, building if needed.
func (ix *Index[T]) Keys(ctx context.Context) ([]tile.Key, error) {
	if err := ix.Ensure(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	keys := slices.Collect(maps.Keys(ix.entries))
	ix.mu.RUnlock()
	slices.SortFunc(keys, tile.Compare)
	return keys, nil
}

// KeySet returns a copy of the indexed keys as a set, building if needed.
func (ix *Index[T]) KeySet(ctx context.Context) (map[tile.Key]struct{}, error) {
	if err := ix.Ensure(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := make(map[tile.Key]struct{}, len(ix.entries))
	for k := range ix.entries {
		set[k] = struct{}{}
	}
	return set, nil
}

// Snapshot returns a copy of the key/value map, building if needed.
func (ix *Index[T]) Snapshot(ctx context.Context) (map[tile.Key]T, error) {
	if err := ix.Ensure(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return maps.Clone(ix.entries), nil
}
