package download

import (
	"fmt"
	"os"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/tile"
)

// sources are the tile inputs given on the command line.
type sources struct {
	txt     string
	txtMode string
	kml     string
	lat     float64
	lon     float64
	latSet  bool
	lonSet  bool
	keys    []string
}

// collect reads every given source and returns the combined, deduplicated
// tiles at zoom z.
func (s *sources) collect(z int, log logger.Logger) ([]tile.Key, error) {
	if s.latSet != s.lonSet {
		return nil, usageError("--lat and --lon must be given together")
	}
	if s.txt == "" && s.kml == "" && !s.latSet && len(s.keys) == 0 {
		return nil, usageError("no tiles given, use --txt, --kml, --lat/--lon or --tiles")
	}

	var all []tile.Key

	if s.txt != "" {
		mode, err := tile.ParseListMode(s.txtMode)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(s.txt)
		if err != nil {
			return nil, errors.FileError(err, s.txt, 0)
		}
		keys, skipped, err := tile.ReadList(f, z, mode)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			log.Warn("unparseable tile list lines skipped",
				logger.String("path", s.txt),
				logger.Int("skipped", skipped))
		}
		all = append(all, keys...)
	}

	if s.kml != "" {
		f, err := os.Open(s.kml)
		if err != nil {
			return nil, errors.FileError(err, s.kml, 0)
		}
		keys, err := tile.ReadKML(f, z)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	if s.latSet {
		all = append(all, tile.FromLatLon(s.lat, s.lon, z))
	}

	if len(s.keys) > 0 {
		keys, err := tile.ParseAll(s.keys)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	all = tile.SortedUnique(all)
	if len(all) == 0 {
		return nil, usageError(fmt.Sprintf("the given sources hold no tiles at zoom %d", z))
	}
	return all, nil
}

func usageError(msg string) error {
	return errors.Newf("%s", msg).
		Category(errors.CategoryValidation).
		Component("cli").
		Build()
}
