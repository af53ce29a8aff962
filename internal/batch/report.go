package batch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

// Report file names written next to the downloaded collection.
const (
	FailedListFile    = "failed_tiles.txt"
	FailedGeoJSONFile = "failed_tiles.geojson"
)

// Failure is one tile that could not be fetched.
type Failure struct {
	Key    tile.Key
	Reason string
}

// Summary tallies the outcomes of a batch.
type Summary struct {
	Downloaded int
	Skipped    int
	Failures   []Failure
}

// Failed returns the number of failed tiles.
func (s Summary) Failed() int { return len(s.Failures) }

// Add records one outcome.
func (s *Summary) Add(o Outcome) {
	switch o.Status {
	case StatusDownloaded:
		s.Downloaded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failures = append(s.Failures, Failure{Key: o.Key, Reason: o.Reason})
	}
}

// String renders the counts the way the CLI prints them.
func (s Summary) String() string {
	return fmt.Sprintf("%d downloaded, %d skipped, %d failed", s.Downloaded, s.Skipped, s.Failed())
}

// Collect drains an outcome channel, calling each (if non-nil) per outcome.
func Collect(outcomes <-chan Outcome, each func(Outcome)) Summary {
	var s Summary
	for o := range outcomes {
		s.Add(o)
		if each != nil {
			each(o)
		}
	}
	return s
}

// WriteFailureReport writes failed_tiles.txt ("x,y<TAB>reason" per line) and
// failed_tiles.geojson (a Point at each tile centre) into dir. Nothing is
// written when there are no failures. It returns the paths written.
func WriteFailureReport(dir string, zoom int, failures []Failure) ([]string, error) {
	if len(failures) == 0 {
		return nil, nil
	}

	var txt strings.Builder
	fc := geojson.NewFeatureCollection()
	for _, f := range failures {
		fmt.Fprintf(&txt, "%s\t%s\n", f.Key, f.Reason)

		feat := geojson.NewFeature(tile.Center(f.Key, zoom))
		feat.Properties["x"] = f.Key.X
		feat.Properties["y"] = f.Key.Y
		feat.Properties["zoom"] = zoom
		fc.Append(feat)
	}

	txtPath := filepath.Join(dir, FailedListFile)
	if err := securefs.WriteFileAtomic(txtPath, []byte(txt.String())); err != nil {
		return nil, err
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryMalformedData).Component("batch").Build()
	}
	geoPath := filepath.Join(dir, FailedGeoJSONFile)
	if err := securefs.WriteFileAtomic(geoPath, data); err != nil {
		return nil, err
	}
	return []string{txtPath, geoPath}, nil
}
