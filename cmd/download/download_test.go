package download

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/conf"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/tile"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func coord(k tile.Key, z int) string {
	p := tile.Center(k, z)
	return strconv.FormatFloat(p.Lon(), 'f', 8, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', 8, 64) + ",0"
}

func TestCollectCombinesSources(t *testing.T) {
	t.Parallel()

	txt := writeFile(t, "tiles.txt", "# comment\n17 10 20\n16 1 1\n10 21\nnot a tile\n")
	kml := writeFile(t, "path.kml", `<kml><Document><Placemark><LineString><coordinates>`+
		coord(tile.Key{X: 100, Y: 200}, 10)+` `+coord(tile.Key{X: 101, Y: 200}, 10)+
		`</coordinates></LineString></Placemark></Document></kml>`)

	s := sources{txt: txt, txtMode: "xy", keys: []string{"10,20", "5,5"}}
	keys, err := s.collect(17, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []tile.Key{{X: 5, Y: 5}, {X: 10, Y: 20}, {X: 10, Y: 21}}, keys)

	s = sources{kml: kml, lat: 0, lon: 0, latSet: true, lonSet: true}
	keys, err = s.collect(10, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []tile.Key{{X: 100, Y: 200}, {X: 101, Y: 200}, tile.FromLatLon(0, 0, 10)}, keys)
}

func TestCollectErrors(t *testing.T) {
	t.Parallel()

	empty := writeFile(t, "empty.txt", "16 1 1\n")

	tests := []struct {
		name string
		src  sources
	}{
		{"no sources", sources{}},
		{"lat without lon", sources{lat: 1, latSet: true}},
		{"bad mode", sources{txt: empty, txtMode: "polar"}},
		{"missing file", sources{txt: filepath.Join(t.TempDir(), "nope.txt"), txtMode: "auto"}},
		{"bad key", sources{keys: []string{"ten,twenty"}}},
		{"nothing at zoom", sources{txt: empty, txtMode: "auto"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.src.collect(17, logger.NewDiscardLogger())
			require.Error(t, err)
		})
	}

	_, err := (&sources{}).collect(17, logger.NewDiscardLogger())
	assert.True(t, errors.IsValidation(err))
}

func TestCommandFlags(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	cmd := Command(settings)
	require.NoError(t, cmd.ParseFlags([]string{"--max-parallel", "3", "-z", "15", "--tiles", "1,2", "--tiles", "3,4", "--overwrite"}))

	assert.Equal(t, 3, settings.Provider.Concurrency)
	assert.Equal(t, 15, settings.Tiles.Zoom)
	assert.Equal(t, []string{"provider.concurrency"}, cmd.Flags().Lookup("max-parallel").Annotations["tilesync/config-key"])

	overwrite, err := cmd.Flags().GetBool("overwrite")
	require.NoError(t, err)
	assert.True(t, overwrite)
	keys, err := cmd.Flags().GetStringSlice("tiles")
	require.NoError(t, err)
	assert.Equal(t, []string{"1,2", "3,4"}, keys)
}
