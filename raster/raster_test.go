package raster

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(t *testing.T, w, h, bands, depth int) *Raster {
	r, err := New(w, h, bands, depth)
	require.NoError(t, err)

	for b := range r.Bands {
		for i := range r.Bands[b] {
			r.Bands[b][i] = uint16((i*37 + b*11) % (int(r.Max()) + 1))
		}
	}

	nd := 0.0
	r.Geo = GeoRef{
		CRS:       "EPSG:32721",
		Transform: [6]float64{500000, 10, 0, 9000000, 0, -10},
		NoData:    &nd,
	}
	r.Geo.SetTag("acquisition_date", "20230701")
	return r
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct{ bands, depth int }{{1, 8}, {1, 16}, {4, 8}, {4, 16}} {
		fs := afero.NewMemMapFs()
		r := ramp(t, 7, 5, tc.bands, tc.depth)
		if tc.depth == 16 {
			// values must use the high byte for the round trip to cover 16 bits
			wide := false
			for _, v := range r.Bands[0] {
				wide = wide || v > 0xff
			}
			require.True(t, wide)
		}

		require.NoError(t, Write(fs, "/tiles/a.tif", r))
		got, err := Read(fs, "/tiles/a.tif")
		require.NoError(t, err)

		assert.Equal(t, r.Width, got.Width)
		assert.Equal(t, r.Height, got.Height)
		assert.Equal(t, r.Depth, got.Depth, "%d bands", tc.bands)
		assert.Equal(t, r.Bands, got.Bands, "%d bands, depth %d", tc.bands, tc.depth)
		assert.Equal(t, r.Geo, got.Geo)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := ramp(t, 16, 16, 4, 8)

	require.NoError(t, Write(fs, "/a.tif", r))
	require.NoError(t, Write(fs, "/b.tif", r))

	a, err := afero.ReadFile(fs, "/a.tif")
	require.NoError(t, err)
	b, err := afero.ReadFile(fs, "/b.tif")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	sa, err := afero.ReadFile(fs, SidecarPath("/a.tif"))
	require.NoError(t, err)
	sb, err := afero.ReadFile(fs, SidecarPath("/b.tif"))
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestMissingSidecar(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := ramp(t, 3, 3, 1, 8)
	require.NoError(t, Write(fs, "/a.tif", r))
	require.NoError(t, fs.Remove(SidecarPath("/a.tif")))

	got, err := Read(fs, "/a.tif")
	require.NoError(t, err)
	assert.Equal(t, Identity(), got.Geo)
}

func TestWindow(t *testing.T) {
	r := ramp(t, 8, 6, 4, 8)

	w, err := r.Window(2, 3, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, w.Width)
	assert.Equal(t, 3, w.Height)
	for b := 0; b < 4; b++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				assert.Equal(t, r.At(b, x+2, y+3), w.At(b, x, y))
			}
		}
	}

	assert.Equal(t, [6]float64{500020, 10, 0, 8999970, 0, -10}, w.Geo.Transform)

	// the window's metadata is a copy
	w.Geo.SetTag("acquisition_date", "x")
	assert.Equal(t, "20230701", r.Geo.Tags["acquisition_date"])

	_, err = r.Window(6, 0, 4, 4)
	assert.Error(t, err)
}

func TestNoDataRatio(t *testing.T) {
	r, err := New(2, 2, 4, 8)
	require.NoError(t, err)

	assert.Equal(t, 0.0, r.NoDataRatio())

	nd := 0.0
	r.Geo.NoData = &nd
	assert.Equal(t, 1.0, r.NoDataRatio())

	// a pixel is only no-data if every band is
	r.Set(3, 0, 0, 1)
	assert.Equal(t, 0.75, r.NoDataRatio())
}

func TestNewRejectsBadShapes(t *testing.T) {
	_, err := New(0, 4, 1, 8)
	assert.IsType(t, MalformedRasterError{}, err)

	_, err = New(4, 4, 3, 8)
	assert.IsType(t, MalformedRasterError{}, err)

	_, err = New(4, 4, 1, 12)
	assert.IsType(t, MalformedRasterError{}, err)
}
