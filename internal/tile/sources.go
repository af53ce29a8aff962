package tile

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/glyphmap/tilesync/internal/errors"
)

// ListMode selects how two-value lines in a tile list are interpreted.
type ListMode string

const (
	// ModeAuto treats a pair as lat/lon when both magnitudes are at most 180, otherwise as x/y
	ModeAuto   ListMode = "auto"
	ModeLatLon ListMode = "latlon"
	ModeXY     ListMode = "xy"
)

// ParseListMode validates a mode flag value.
func ParseListMode(s string) (ListMode, error) {
	switch m := ListMode(strings.ToLower(s)); m {
	case ModeAuto, ModeLatLon, ModeXY:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", errors.Newf("unknown tile list mode %q", s).
		Category(errors.CategoryValidation).
		Component("tile").
		Build()
}

var listSeparator = regexp.MustCompile(`[\s,]+`)

// ReadList reads a tile list. Blank lines and lines starting with '#' are
// ignored. Three-value lines are "z x y" and are kept only when z matches.
// Two-value lines are interpreted according to mode. Unparseable lines are
// skipped; the number skipped is returned alongside the keys.
func ReadList(r io.Reader, z int, mode ListMode) (keys []Key, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := listSeparator.Split(line, -1)
		switch len(parts) {
		case 3:
			lz, errZ := strconv.Atoi(parts[0])
			x, errX := strconv.Atoi(parts[1])
			y, errY := strconv.Atoi(parts[2])
			if errZ != nil || errX != nil || errY != nil {
				skipped++
				continue
			}
			if lz != z {
				continue
			}
			keys = append(keys, Key{X: x, Y: y})
		case 2:
			k, ok := pairToKey(parts[0], parts[1], z, mode)
			if !ok {
				skipped++
				continue
			}
			keys = append(keys, k)
		default:
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, errors.New(fmt.Errorf("reading tile list: %w", err)).
			Category(errors.CategoryFileIO).
			Component("tile").
			Build()
	}
	return keys, skipped, nil
}

func pairToKey(as, bs string, z int, mode ListMode) (Key, bool) {
	a, errA := strconv.ParseFloat(as, 64)
	b, errB := strconv.ParseFloat(bs, 64)
	if errA != nil || errB != nil {
		return Key{}, false
	}
	latlon := mode == ModeLatLon || (mode == ModeAuto && math.Abs(a) <= 180 && math.Abs(b) <= 180)
	if latlon {
		return FromLatLon(a, b, z), true
	}
	if a < 0 || b < 0 {
		return Key{}, false
	}
	return Key{X: int(a), Y: int(b)}, true
}

// ReadKML extracts every LineString from a KML document and returns the
// tiles they cross at zoom z. A single-point line yields the tile under it.
func ReadKML(r io.Reader, z int) ([]Key, error) {
	lines, err := decodeKMLLineStrings(r)
	if err != nil {
		return nil, err
	}
	var keys []Key
	for _, ls := range lines {
		keys = append(keys, LineStringTiles(ls, z)...)
	}
	return SortedUnique(keys), nil
}

// LineStringTiles rasterises a line onto the tile grid, walking consecutive
// vertices with Bresenham's algorithm.
func LineStringTiles(ls orb.LineString, z int) []Key {
	switch len(ls) {
	case 0:
		return nil
	case 1:
		return []Key{FromLatLon(ls[0].Lat(), ls[0].Lon(), z)}
	}
	var keys []Key
	for i := 1; i < len(ls); i++ {
		from := FromLatLon(ls[i-1].Lat(), ls[i-1].Lon(), z)
		to := FromLatLon(ls[i].Lat(), ls[i].Lon(), z)
		keys = append(keys, bresenham(from, to)...)
	}
	return SortedUnique(keys)
}

func bresenham(from, to Key) []Key {
	x0, y0, x1, y1 := from.X, from.Y, to.X, to.Y
	dx, dy := abs(x1-x0), abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errTerm := dx - dy
	var out []Key
	for {
		out = append(out, Key{X: x0, Y: y0})
		if x0 == x1 && y0 == y1 {
			return out
		}
		e2 := 2 * errTerm
		if e2 > -dy {
			errTerm -= dy
			x0 += sx
		}
		if e2 < dx {
			errTerm += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// decodeKMLLineStrings walks the token stream so Placemarks nested in any
// number of Folders/Documents are found.
func decodeKMLLineStrings(r io.Reader) ([]orb.LineString, error) {
	dec := xml.NewDecoder(r)
	var (
		lines        []orb.LineString
		inLineString bool
		inCoords     bool
		text         strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, errors.New(fmt.Errorf("parsing KML: %w", err)).
				Category(errors.CategoryMalformedData).
				Component("tile").
				Build()
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "LineString":
				inLineString = true
			case "coordinates":
				if inLineString {
					inCoords = true
					text.Reset()
				}
			}
		case xml.CharData:
			if inCoords {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "coordinates":
				if inCoords {
					if ls := parseKMLCoordinates(text.String()); len(ls) > 0 {
						lines = append(lines, ls)
					}
					inCoords = false
				}
			case "LineString":
				inLineString = false
			}
		}
	}
}

// parseKMLCoordinates parses "lon,lat[,alt]" tuples separated by whitespace.
func parseKMLCoordinates(s string) orb.LineString {
	var ls orb.LineString
	for tuple := range strings.FieldsSeq(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, errLon := strconv.ParseFloat(parts[0], 64)
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		if errLon != nil || errLat != nil {
			continue
		}
		ls = append(ls, orb.Point{lon, lat})
	}
	return ls
}
