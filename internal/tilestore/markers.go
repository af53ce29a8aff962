package tilestore

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

// NegativesDiff summarises an UpdateGoodNegatives call.
type NegativesDiff struct {
	Added   []tile.Key `json:"added"`
	Removed []tile.Key `json:"removed"`
	Total   int        `json:"total"`
}

var errOffGrid = errors.NewStd("outside the collection grid")

func loggerTile(k tile.Key) logger.Field { return logger.String("tile", k.String()) }

// readKeyFile loads a JSON array of "x,y" keys and returns it sorted and
// de-duplicated. A missing file is an empty set. Entries that are not valid
// keys on the collection grid are skipped with a warning; only a file that
// is not a JSON array at all is an error.
func (s *Store) readKeyFile(path string) ([]tile.Key, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []tile.Key{}, nil
	}
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryMalformedData).
			Component("tilestore").
			Context("file", filepath.Base(path)).
			Build()
	}

	keys := make([]tile.Key, 0, len(entries))
	for _, raw := range entries {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			s.skipEntry(path, string(raw), err)
			continue
		}
		k, err := tile.Parse(v)
		if err == nil && !k.Valid(s.cfg.Zoom) {
			err = errOffGrid
		}
		if err != nil {
			s.skipEntry(path, v, err)
			continue
		}
		keys = append(keys, k)
	}
	return tile.SortedUnique(keys), nil
}

func (s *Store) skipEntry(path, entry string, err error) {
	s.log.Warn("skipping malformed key file entry",
		logger.String("file", filepath.Base(path)),
		logger.String("entry", entry),
		logger.String("category", string(errors.CategoryMalformedData)),
		logger.Error(err))
}

func writeKeyFile(path string, keys []tile.Key) error {
	if keys == nil {
		keys = []tile.Key{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return errors.New(err).Category(errors.CategoryMalformedData).Component("tilestore").Build()
	}
	return securefs.WriteFileAtomic(path, append(data, '\n'))
}

func (s *Store) validateKeys(keys []tile.Key) error {
	for _, k := range keys {
		if !k.Valid(s.cfg.Zoom) {
			return errors.Newf("tile %s outside zoom %d grid", k, s.cfg.Zoom).
				Category(errors.CategoryValidation).
				Component("tilestore").
				Build()
		}
	}
	return nil
}

// GoodNegatives returns the persisted good-negative set.
func (s *Store) GoodNegatives() ([]tile.Key, error) {
	return s.readKeyFile(s.cfg.NegativesFile)
}

// UpdateGoodNegatives replaces the good-negative set. Keys new to the set get
// a black mask, keys dropped from it lose their mask, and the set is written
// back sorted and de-duplicated. A failing mask write aborts before the set
// file is rewritten.
func (s *Store) UpdateGoodNegatives(ctx context.Context, keys []tile.Key) (NegativesDiff, error) {
	if err := s.validateKeys(keys); err != nil {
		return NegativesDiff{}, err
	}
	next := tile.SortedUnique(keys)

	prev, err := s.GoodNegatives()
	if err != nil {
		return NegativesDiff{}, err
	}
	if err := s.labels.Ensure(ctx); err != nil {
		return NegativesDiff{}, err
	}

	prevSet := toSet(prev)
	nextSet := toSet(next)
	diff := NegativesDiff{Added: []tile.Key{}, Removed: []tile.Key{}, Total: len(next)}

	for _, k := range next {
		if _, ok := prevSet[k]; ok {
			continue
		}
		if err := s.WriteBlackMask(k); err != nil {
			return diff, err
		}
		diff.Added = append(diff.Added, k)
	}
	for _, k := range prev {
		if _, ok := nextSet[k]; ok {
			continue
		}
		if err := s.deleteMask(k); err != nil {
			return diff, err
		}
		diff.Removed = append(diff.Removed, k)
	}

	if err := writeKeyFile(s.cfg.NegativesFile, next); err != nil {
		return diff, err
	}
	s.log.Info("good negatives updated",
		logger.Int("total", diff.Total),
		logger.Int("added", len(diff.Added)),
		logger.Int("removed", len(diff.Removed)))
	return diff, nil
}

// Discoveries returns the persisted discovery set.
func (s *Store) Discoveries() ([]tile.Key, error) {
	return s.readKeyFile(s.cfg.DiscoveriesFile)
}

// SetDiscoveries overwrites the discovery set.
func (s *Store) SetDiscoveries(keys []tile.Key) ([]tile.Key, error) {
	if err := s.validateKeys(keys); err != nil {
		return nil, err
	}
	next := tile.SortedUnique(keys)
	if err := writeKeyFile(s.cfg.DiscoveriesFile, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ToggleDiscovery adds or removes one key and returns the resulting set.
func (s *Store) ToggleDiscovery(k tile.Key, present bool) ([]tile.Key, error) {
	if err := s.validateKeys([]tile.Key{k}); err != nil {
		return nil, err
	}
	cur, err := s.Discoveries()
	if err != nil {
		return nil, err
	}
	if slices.Contains(cur, k) == present {
		return cur, nil
	}
	if present {
		cur = append(cur, k)
	} else {
		cur = slices.DeleteFunc(cur, func(o tile.Key) bool { return o == k })
	}
	return s.SetDiscoveries(cur)
}

func toSet(keys []tile.Key) map[tile.Key]struct{} {
	set := make(map[tile.Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
