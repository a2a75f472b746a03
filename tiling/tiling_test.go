package tiling

import (
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sharnoff/forestseg/raster"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() log.FieldLogger {
	l := log.New()
	l.Out = io.Discard
	return l
}

func filled(t *testing.T, w, h, bands, depth int, v uint16) *raster.Raster {
	r, err := raster.New(w, h, bands, depth)
	require.NoError(t, err)
	for b := range r.Bands {
		for i := range r.Bands[b] {
			r.Bands[b][i] = v
		}
	}
	r.Geo.CRS = "EPSG:32721"
	r.Geo.Transform = [6]float64{0, 10, 0, 0, 0, -10}
	return r
}

func writePair(t *testing.T, fs afero.Fs, img, lbl *raster.Raster) Pair {
	require.NoError(t, raster.Write(fs, "/in/img.tif", img))
	require.NoError(t, raster.Write(fs, "/in/lbl.tif", lbl))
	return Pair{Image: "/in/img.tif", Label: "/in/lbl.tif", Prefix: "scene"}
}

func newGen(fs afero.Fs, size int, threshold float64) *Generator {
	g := NewGenerator(fs, size, threshold)
	g.Log = quiet()
	return g
}

func TestGenerateTileDims(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := writePair(t, fs, filled(t, 10, 7, 4, 8, 50), filled(t, 10, 7, 1, 8, 255))

	rep, err := newGen(fs, 3, 0.1).Generate(p, "/tiles")
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Written)
	assert.Equal(t, 0, rep.Discarded)
	assert.Equal(t, 6, rep.Incomplete)
	assert.Equal(t, []string{"scene_000.tif", "scene_001.tif", "scene_002.tif", "scene_003.tif", "scene_004.tif", "scene_005.tif"}, rep.Tiles)

	for _, name := range rep.Tiles {
		img, err := raster.Read(fs, filepath.Join("/tiles", ImagesDir, name))
		require.NoError(t, err)
		lbl, err := raster.Read(fs, filepath.Join("/tiles", LabelsDir, name))
		require.NoError(t, err)

		assert.Equal(t, 3, img.Width)
		assert.Equal(t, 3, img.Height)
		assert.Equal(t, img.Width, lbl.Width)
		assert.Equal(t, img.Height, lbl.Height)
		assert.Equal(t, 4, img.Count())
		assert.Equal(t, 1, lbl.Count())
	}

	// tile 4 is the second of the second row: offset (3, 3)
	img, err := raster.Read(fs, filepath.Join("/tiles", ImagesDir, "scene_004.tif"))
	require.NoError(t, err)
	assert.Equal(t, [6]float64{30, 10, 0, -30, 0, -10}, img.Geo.Transform)
}

func TestGenerateDiscardsNoData(t *testing.T) {
	fs := afero.NewMemMapFs()
	img := filled(t, 4, 4, 4, 8, 9)

	// top left tile is 3/4 no-data; top right is 1/4
	for b := 0; b < 4; b++ {
		img.Set(b, 0, 0, 0)
		img.Set(b, 1, 0, 0)
		img.Set(b, 0, 1, 0)
		img.Set(b, 2, 0, 0)
	}
	// a single band at zero is not no-data
	img.Set(0, 0, 2, 0)

	p := writePair(t, fs, img, filled(t, 4, 4, 1, 8, 0))

	rep, err := newGen(fs, 2, 0.25).Generate(p, "/tiles")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Written)
	assert.Equal(t, 1, rep.Discarded)
	assert.Equal(t, 0, rep.Incomplete)

	for _, name := range rep.Tiles {
		r, err := raster.Read(fs, filepath.Join("/tiles", ImagesDir, name))
		require.NoError(t, err)
		require.NotNil(t, r.Geo.NoData)
		assert.True(t, r.NoDataRatio() <= 0.25, name)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	img := filled(t, 8, 8, 4, 8, 1)
	for i := range img.Bands[2] {
		img.Bands[2][i] = uint16(i * 3 % 256)
	}
	p := writePair(t, fs, img, filled(t, 8, 8, 1, 8, 255))

	g := newGen(fs, 4, 0.1)
	a, err := g.Generate(p, "/a")
	require.NoError(t, err)
	b, err := g.Generate(p, "/b")
	require.NoError(t, err)
	require.Equal(t, a.Tiles, b.Tiles)

	for _, name := range a.Tiles {
		for _, sub := range []string{ImagesDir, LabelsDir} {
			x, err := afero.ReadFile(fs, filepath.Join("/a", sub, name))
			require.NoError(t, err)
			y, err := afero.ReadFile(fs, filepath.Join("/b", sub, name))
			require.NoError(t, err)
			assert.Equal(t, x, y)
		}
	}
}

func TestGenerateReplacesStaleTiles(t *testing.T) {
	fs := afero.NewMemMapFs()

	// the right tile is entirely no-data
	img := filled(t, 4, 2, 4, 8, 7)
	for b := 0; b < 4; b++ {
		for y := 0; y < 2; y++ {
			img.Set(b, 2, y, 0)
			img.Set(b, 3, y, 0)
		}
	}
	p := writePair(t, fs, img, filled(t, 4, 2, 1, 8, 255))

	neighbour := Pair{Image: p.Image, Label: p.Label, Prefix: "scene_b"}
	_, err := newGen(fs, 2, 0).Generate(neighbour, "/tiles")
	require.NoError(t, err)

	rep, err := newGen(fs, 2, 1).Generate(p, "/tiles")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Written)

	rep, err = newGen(fs, 2, 0.1).Generate(p, "/tiles")
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_000.tif"}, rep.Tiles)

	for _, sub := range []string{ImagesDir, LabelsDir} {
		names, err := TileNames(fs, filepath.Join("/tiles", sub))
		require.NoError(t, err)
		assert.Equal(t, []string{"scene_000.tif", "scene_b_000.tif"}, names, sub)

		ok, err := afero.Exists(fs, raster.SidecarPath(filepath.Join("/tiles", sub, "scene_001.tif")))
		require.NoError(t, err)
		assert.False(t, ok, sub)
	}

	names, err := TileNames(fs, "/tiles/images")
	require.NoError(t, err)
	for _, name := range names {
		r, err := raster.Read(fs, filepath.Join("/tiles/images", name))
		require.NoError(t, err)
		assert.True(t, r.NoDataRatio() <= 0.1, name)
	}
}

func TestIsTileOf(t *testing.T) {
	assert.True(t, isTileOf("scene_000.tif", "scene"))
	assert.True(t, isTileOf("scene_1234.tif.geo.json", "scene"))
	assert.False(t, isTileOf("scene_b_000.tif", "scene"))
	assert.False(t, isTileOf("scene_.tif", "scene"))
	assert.False(t, isTileOf("scene_000.png", "scene"))
	assert.False(t, isTileOf("other_000.tif", "scene"))
}

func TestGenerateErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := newGen(fs, 4, 0.1)

	p := writePair(t, fs, filled(t, 8, 8, 4, 8, 1), filled(t, 8, 6, 1, 8, 1))
	_, err := g.Generate(p, "/tiles")
	assert.IsType(t, raster.MalformedRasterError{}, err)

	p = writePair(t, fs, filled(t, 3, 3, 4, 8, 1), filled(t, 3, 3, 1, 8, 1))
	_, err = g.Generate(p, "/tiles")
	assert.IsType(t, raster.MalformedRasterError{}, err)

	lbl := filled(t, 8, 8, 1, 8, 1)
	lbl.Geo.CRS = "EPSG:4326"
	p = writePair(t, fs, filled(t, 8, 8, 4, 8, 1), lbl)
	_, err = g.Generate(p, "/tiles")
	require.Error(t, err)
	var crs raster.CRSMismatchError
	assert.ErrorAs(t, err, &crs)
}

func TestGenerateAllSkipsFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	good := writePair(t, fs, filled(t, 8, 8, 4, 8, 1), filled(t, 8, 8, 1, 8, 1))
	bad := Pair{Image: "/missing.tif", Label: "/missing.tif", Prefix: "bad"}

	rep, errs := newGen(fs, 4, 0.1).GenerateAll([]Pair{bad, good}, "/tiles")
	assert.Len(t, errs, 1)
	assert.Equal(t, 4, rep.Written)
}

func writeTiles(t *testing.T, fs afero.Fs, dir string, n int) []string {
	var names []string
	for i := 0; i < n; i++ {
		name := TileName("s", i)
		require.NoError(t, raster.Write(fs, filepath.Join(dir, ImagesDir, name), filled(t, 2, 2, 4, 8, uint16(i))))
		require.NoError(t, raster.Write(fs, filepath.Join(dir, LabelsDir, name), filled(t, 2, 2, 1, 8, 255)))
		names = append(names, name)
	}
	return names
}

func TestSplit(t *testing.T) {
	fs := afero.NewMemMapFs()
	all := writeTiles(t, fs, "/tiles", 20)

	// an image without a label is left out
	require.NoError(t, raster.Write(fs, "/tiles/images/orphan.tif", filled(t, 2, 2, 4, 8, 0)))

	rep, err := Split(fs, "/tiles", "/data", DefaultRatios, 42)
	require.NoError(t, err)
	assert.Len(t, rep.Train, 16)
	assert.Len(t, rep.Validation, 3)
	assert.Len(t, rep.Test, 1)

	var got []string
	got = append(got, rep.Train...)
	got = append(got, rep.Validation...)
	got = append(got, rep.Test...)
	sort.Strings(got)
	assert.Equal(t, all, got)

	for dir, set := range map[string][]string{TrainDir: rep.Train, ValidationDir: rep.Validation, TestDir: rep.Test} {
		names, err := TileNames(fs, filepath.Join("/data", dir, ImagesDir))
		require.NoError(t, err)
		want := append([]string(nil), set...)
		sort.Strings(want)
		assert.Equal(t, want, names, dir)

		ok, err := afero.Exists(fs, raster.SidecarPath(filepath.Join("/data", dir, LabelsDir, set[0])))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	again, err := Split(fs, "/tiles", "/data2", DefaultRatios, 42)
	require.NoError(t, err)
	assert.Equal(t, rep, again)
}

func TestSplitReplacesEarlierSplit(t *testing.T) {
	fs := afero.NewMemMapFs()
	all := writeTiles(t, fs, "/tiles", 20)

	_, err := Split(fs, "/tiles", "/data", DefaultRatios, 1)
	require.NoError(t, err)
	rep, err := Split(fs, "/tiles", "/data", DefaultRatios, 2)
	require.NoError(t, err)

	seen := make(map[string]string)
	for dir, set := range map[string][]string{TrainDir: rep.Train, ValidationDir: rep.Validation, TestDir: rep.Test} {
		for _, sub := range []string{ImagesDir, LabelsDir} {
			names, err := TileNames(fs, filepath.Join("/data", dir, sub))
			require.NoError(t, err)
			want := append([]string(nil), set...)
			sort.Strings(want)
			assert.Equal(t, want, names, "%s/%s", dir, sub)
		}

		for _, name := range set {
			prev, dup := seen[name]
			assert.False(t, dup, "%s is in %s and %s", name, prev, dir)
			seen[name] = dir
		}
	}
	assert.Len(t, seen, len(all))
}

func TestSplitRatios(t *testing.T) {
	assert.NoError(t, DefaultRatios.Validate())
	assert.Error(t, Ratios{Train: 0.8, Validation: 0.3, Test: -0.1}.Validate())
	assert.Error(t, Ratios{Train: 0.5, Validation: 0.2, Test: 0.2}.Validate())

	fs := afero.NewMemMapFs()
	writeTiles(t, fs, "/tiles", 2)
	_, err := Split(fs, "/tiles", "/data", Ratios{Train: 1}, 1)
	assert.NoError(t, err)
	_, err = Split(fs, "/tiles", "/data", Ratios{Train: 1.5}, 1)
	assert.Error(t, err)
}

func TestScaleTo8Bit(t *testing.T) {
	r := filled(t, 3, 1, 4, 16, 7)
	r.Bands[0][0], r.Bands[0][1], r.Bands[0][2] = 1000, 1500, 3000

	s, err := ScaleTo8Bit(r)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Depth)
	assert.Equal(t, []uint16{0, 63, 255}, s.Bands[0])
	// constant bands become 0
	assert.Equal(t, []uint16{0, 0, 0}, s.Bands[1])
	assert.Equal(t, r.Geo.Transform, s.Geo.Transform)
}

func TestBinarize(t *testing.T) {
	r := filled(t, 4, 1, 1, 8, 0)
	r.Bands[0] = []uint16{100, 12, 100, 255}

	b, err := Binarize(r, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint16{255, 0, 255, 0}, b.Bands[0])
	assert.Equal(t, 8, b.Depth)
}

func TestClipToGrid(t *testing.T) {
	label := filled(t, 4, 4, 1, 8, 0)
	for i := range label.Bands[0] {
		label.Bands[0][i] = uint16(i + 1)
	}
	label.Geo.Transform = [6]float64{0, 10, 0, 40, 0, -10}

	ref := filled(t, 4, 4, 4, 8, 1)
	ref.Geo.Transform = [6]float64{20, 10, 0, 30, 0, -10}

	c, err := ClipToGrid(label, ref)
	require.NoError(t, err)
	assert.Equal(t, ref.Geo.Transform, c.Geo.Transform)
	assert.Equal(t, 4, c.Width)

	// ref (0, 0) is label (2, 1); everything right of label column 3 or below row 3 is outside
	assert.Equal(t, label.At(0, 2, 1), c.At(0, 0, 0))
	assert.Equal(t, label.At(0, 3, 3), c.At(0, 1, 2))
	assert.Equal(t, uint16(0), c.At(0, 2, 0))
	assert.Equal(t, uint16(0), c.At(0, 0, 3))

	ref.Geo.CRS = "EPSG:4326"
	_, err = ClipToGrid(label, ref)
	assert.IsType(t, raster.CRSMismatchError{}, err)
}

func writeScene(t *testing.T, fs afero.Fs, dir string, w, h int) {
	for i, band := range Bands {
		r := filled(t, w, h, 1, 16, 0)
		for p := range r.Bands[0] {
			r.Bands[0][p] = uint16(1000 + 100*i + p)
		}
		require.NoError(t, raster.Write(fs, filepath.Join(dir, "T21LXK_20230701T135711"+BandSuffix(band)), r))
	}
}

func TestStackBands(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScene(t, fs, "/s2/a", 3, 2)

	r, err := StackBands(fs, "/s2/a")
	require.NoError(t, err)
	assert.Equal(t, 4, r.Count())
	assert.Equal(t, 16, r.Depth)
	assert.Equal(t, uint16(1300), r.At(3, 0, 0))
	assert.Equal(t, uint16(1105), r.At(1, 2, 1))
	assert.Equal(t, "20230701T135711", r.Geo.Tags["acquisition_date"])

	require.NoError(t, fs.Remove("/s2/a/T21LXK_20230701T135711_B08_10m.tif"))
	_, err = StackBands(fs, "/s2/a")
	assert.Error(t, err)
}

func TestPreprocess(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScene(t, fs, "/s2/sceneA", 8, 8)
	writeScene(t, fs, "/s2/sceneB", 8, 8)
	require.NoError(t, fs.MkdirAll("/s2/broken", 0755))

	label := filled(t, 8, 8, 1, 8, 100)
	label.Bands[0][0] = 3
	require.NoError(t, raster.Write(fs, "/label.tif", label))

	o := DefaultOptions(fs)
	o.SentinelDir, o.SentinelOut, o.LabelPath = "/s2", "/out", "/label.tif"
	o.TilesDir, o.DatasetDir = "/tiles", "/dataset"
	o.TileSize = 4
	o.NoDataThreshold = 1
	o.Log = quiet()

	res, err := Preprocess(o)
	require.NoError(t, err)
	assert.Equal(t, []string{"sceneA", "sceneB"}, res.Scenes)
	assert.Contains(t, res.Skipped, "broken")
	assert.Equal(t, 8, res.Tiles.Written)
	assert.Equal(t, 8, len(res.Split.Train)+len(res.Split.Validation)+len(res.Split.Test))

	bin, err := raster.Read(fs, o.PathsFor("sceneA").Binary)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), bin.At(0, 0, 0))
	assert.Equal(t, uint16(255), bin.At(0, 1, 0))

	names, err := TileNames(fs, "/tiles/labels")
	require.NoError(t, err)
	assert.Equal(t, "sceneA_000.tif", names[0])
}

func TestPreprocessReplacesEarlierRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeScene(t, fs, "/s2/sceneA", 8, 8)
	writeScene(t, fs, "/s2/sceneB", 8, 8)
	require.NoError(t, raster.Write(fs, "/label.tif", filled(t, 8, 8, 1, 8, 100)))

	o := DefaultOptions(fs)
	o.SentinelDir, o.SentinelOut, o.LabelPath = "/s2", "/out", "/label.tif"
	o.TilesDir, o.DatasetDir = "/tiles", "/dataset"
	o.TileSize = 4
	o.NoDataThreshold = 1
	o.Log = quiet()

	_, err := Preprocess(o)
	require.NoError(t, err)

	require.NoError(t, fs.RemoveAll("/s2/sceneB"))
	res, err := Preprocess(o)
	require.NoError(t, err)
	assert.Equal(t, []string{"sceneA"}, res.Scenes)

	names, err := TileNames(fs, "/tiles/images")
	require.NoError(t, err)
	assert.Equal(t, []string{"sceneA_000.tif", "sceneA_001.tif", "sceneA_002.tif", "sceneA_003.tif"}, names)

	total := 0
	for _, dir := range []string{TrainDir, ValidationDir, TestDir} {
		split, err := TileNames(fs, filepath.Join("/dataset", dir, ImagesDir))
		if err != nil {
			// a split with no tiles has no directory
			continue
		}
		for _, name := range split {
			assert.True(t, strings.HasPrefix(name, "sceneA_"), name)
		}
		total += len(split)
	}
	assert.Equal(t, 4, total)
}
