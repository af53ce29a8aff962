package reconcile

import (
	"github.com/glyphmap/tilesync/internal/tile"
)

// Plan is the work a sync run has to do.
type Plan struct {
	// Required is every tile that needs satellite imagery.
	Required []tile.Key
	// MissingMasks are good negatives whose black mask file is gone.
	MissingMasks []tile.Key
	// MissingSatellite are required tiles without imagery on disk.
	MissingSatellite []tile.Key
}

// Total is the number of item events the run will emit.
func (p Plan) Total() int { return len(p.MissingMasks) + len(p.MissingSatellite) }

// ComputePlan derives the work from the label keys, the good-negative set and
// the satellite keys on disk. It performs no I/O; all outputs are sorted.
func ComputePlan(labels, negatives []tile.Key, satellite map[tile.Key]struct{}) Plan {
	labelSet := make(map[tile.Key]struct{}, len(labels))
	for _, k := range labels {
		labelSet[k] = struct{}{}
	}

	required := tile.SortedUnique(append(append([]tile.Key{}, labels...), negatives...))

	var p Plan
	p.Required = required
	for _, k := range tile.SortedUnique(negatives) {
		if _, ok := labelSet[k]; !ok {
			p.MissingMasks = append(p.MissingMasks, k)
		}
	}
	for _, k := range required {
		if _, ok := satellite[k]; !ok {
			p.MissingSatellite = append(p.MissingSatellite, k)
		}
	}
	return p
}
