package tile

import (
	"strconv"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadList(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# comment",
		"",
		"17 10 21",
		"16 5 5",
		"200, 300",
		"0 0",
		"not a line",
		"1 2 3 4",
	}, "\n")

	keys, skipped, err := ReadList(strings.NewReader(input), 17, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, []Key{{X: 10, Y: 21}, {X: 200, Y: 300}, FromLatLon(0, 0, 17)}, keys)
	assert.Equal(t, 2, skipped)
}

func TestReadListModes(t *testing.T) {
	t.Parallel()

	keys, _, err := ReadList(strings.NewReader("12 34\n"), 17, ModeXY)
	require.NoError(t, err)
	assert.Equal(t, []Key{{X: 12, Y: 34}}, keys)

	keys, _, err = ReadList(strings.NewReader("12 34\n"), 17, ModeLatLon)
	require.NoError(t, err)
	assert.Equal(t, []Key{FromLatLon(12, 34, 17)}, keys)

	_, err = ParseListMode("polar")
	require.Error(t, err)
	mode, err := ParseListMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, mode)
}

func TestLineStringTiles(t *testing.T) {
	t.Parallel()

	start := Center(Key{X: 100, Y: 200}, 10)
	end := Center(Key{X: 103, Y: 200}, 10)
	keys := LineStringTiles(orb.LineString{start, end}, 10)
	assert.Equal(t, []Key{{X: 100, Y: 200}, {X: 101, Y: 200}, {X: 102, Y: 200}, {X: 103, Y: 200}}, keys)

	single := LineStringTiles(orb.LineString{start}, 10)
	assert.Equal(t, []Key{{X: 100, Y: 200}}, single)
	assert.Empty(t, LineStringTiles(nil, 10))
}

func TestReadKML(t *testing.T) {
	t.Parallel()

	a := Center(Key{X: 100, Y: 200}, 10)
	b := Center(Key{X: 100, Y: 202}, 10)
	kml := `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document><Folder>
    <Placemark><Point><coordinates>1,1,0</coordinates></Point></Placemark>
    <Placemark><LineString><coordinates>
      ` + formatCoord(a) + ` ` + formatCoord(b) + `
    </coordinates></LineString></Placemark>
  </Folder></Document>
</kml>`

	keys, err := ReadKML(strings.NewReader(kml), 10)
	require.NoError(t, err)
	assert.Equal(t, []Key{{X: 100, Y: 200}, {X: 100, Y: 201}, {X: 100, Y: 202}}, keys)

	_, err = ReadKML(strings.NewReader("<kml><Document>"), 10)
	require.Error(t, err)
}

func formatCoord(p orb.Point) string {
	return strconv.FormatFloat(p.Lon(), 'f', 8, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', 8, 64) + ",0"
}
