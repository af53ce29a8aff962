// Package tile defines the (x, y) tile key used across every on-disk
// collection, and converts between keys, slippy-map paths and geographic
// coordinates.
package tile

import (
	"cmp"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/glyphmap/tilesync/internal/errors"
)

const (
	// DefaultZoom is the zoom level all collections are stored at
	DefaultZoom = 17

	// MaxZoom bounds accepted zoom values
	MaxZoom = 22

	// PixelSize is the edge length of a tile image
	PixelSize = 512

	// MaxLatitude is the Web Mercator latitude limit
	MaxLatitude = 85.05112878
)

// Key identifies a tile within the fixed zoom level of a collection.
type Key struct {
	X int
	Y int
}

// String returns the canonical "x,y" form.
func (k Key) String() string {
	return strconv.Itoa(k.X) + "," + strconv.Itoa(k.Y)
}

// Valid reports whether the key lies inside the 2^z by 2^z grid.
func (k Key) Valid(z int) bool {
	if z < 0 || z > MaxZoom {
		return false
	}
	n := 1 << z
	return k.X >= 0 && k.Y >= 0 && k.X < n && k.Y < n
}

// MarshalText encodes the key in canonical form so keys can be used as JSON map keys.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the canonical form.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Parse parses a canonical "x,y" key. Surrounding whitespace is tolerated.
func Parse(s string) (Key, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Key{}, invalidKey(s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Key{}, invalidKey(s)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Key{}, invalidKey(s)
	}
	if x < 0 || y < 0 {
		return Key{}, invalidKey(s)
	}
	return Key{X: x, Y: y}, nil
}

func invalidKey(s string) error {
	return errors.Newf("invalid tile key %q", s).
		Category(errors.CategoryValidation).
		Component("tile").
		Build()
}

// ParseAll parses a list of canonical keys, failing on the first bad entry.
func ParseAll(values []string) ([]Key, error) {
	keys := make([]Key, 0, len(values))
	for _, v := range values {
		k, err := Parse(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Compare orders keys by X then Y.
func Compare(a, b Key) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

// SortedUnique returns the keys sorted with duplicates removed. The input is not modified.
func SortedUnique(keys []Key) []Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, Compare)
	return slices.Compact(out)
}

// Strings converts keys to their canonical strings.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// Path returns {root}/{z}/{x}/{y}.{ext}.
func Path(root string, z int, k Key, ext string) string {
	return filepath.Join(root, strconv.Itoa(z), strconv.Itoa(k.X), strconv.Itoa(k.Y)+"."+ext)
}

// FromPath extracts the key from a path relative to a collection root of the
// form {z}/{x}/{y}.{ext}. The zoom component is returned but callers at a
// fixed zoom ignore it.
func FromPath(rel, ext string) (z int, k Key, err error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return 0, Key{}, malformedPath(rel)
	}
	name, found := strings.CutSuffix(parts[2], "."+ext)
	if !found {
		return 0, Key{}, malformedPath(rel)
	}
	if z, err = strconv.Atoi(parts[0]); err != nil {
		return 0, Key{}, malformedPath(rel)
	}
	if k.X, err = strconv.Atoi(parts[1]); err != nil {
		return 0, Key{}, malformedPath(rel)
	}
	if k.Y, err = strconv.Atoi(name); err != nil {
		return 0, Key{}, malformedPath(rel)
	}
	return z, k, nil
}

func malformedPath(rel string) error {
	return errors.Newf("unrecognised tile path %q", rel).
		Category(errors.CategoryMalformedData).
		Component("tile").
		Build()
}

// FromLatLon returns the tile containing the point at zoom z. Latitude is
// clamped to the Web Mercator limit and the result to the tile grid.
func FromLatLon(lat, lon float64, z int) Key {
	lat = math.Max(math.Min(lat, MaxLatitude), -MaxLatitude)
	n := float64(int(1) << z)
	latRad := lat * math.Pi / 180
	x := math.Floor((lon + 180) / 360 * n)
	y := math.Floor((1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n)
	return Key{X: clampIndex(x, n), Y: clampIndex(y, n)}
}

func clampIndex(v, n float64) int {
	return int(math.Max(0, math.Min(v, n-1)))
}

// Center returns the geographic centre of the tile as an orb point (lon, lat).
func Center(k Key, z int) orb.Point {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(z)).Center()
}

// Bounds returns the geographic bounds of the tile.
func Bounds(k Key, z int) orb.Bound {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(z)).Bound()
}

// ParseZoom validates a zoom path segment.
func ParseZoom(s string) (int, error) {
	z, err := strconv.Atoi(s)
	if err != nil || z < 0 || z > MaxZoom {
		return 0, errors.Newf("invalid zoom %q", s).
			Category(errors.CategoryValidation).
			Component("tile").
			Build()
	}
	return z, nil
}

// ParseXYZ validates the z, x and y segments of a tile URL.
func ParseXYZ(zs, xs, ys string) (int, Key, error) {
	z, err := ParseZoom(zs)
	if err != nil {
		return 0, Key{}, err
	}
	k, err := Parse(xs + "," + ys)
	if err != nil {
		return 0, Key{}, err
	}
	if !k.Valid(z) {
		return 0, Key{}, errors.New(fmt.Errorf("tile %s outside zoom %d grid", k, z)).
			Category(errors.CategoryValidation).
			Component("tile").
			Build()
	}
	return z, k, nil
}
