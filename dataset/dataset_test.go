package dataset

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sharnoff/forestseg/raster"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const side = 4

// pixel gives band b of tile t at i. Band 0 is 0 on odd pixels, so the mask can follow it.
func pixel(t, b, i int) uint16 {
	if b == 0 && i%2 == 1 {
		return 0
	}
	return uint16((t*50 + b*60 + i*7) % 256)
}

func writeSplit(t *testing.T, fs afero.Fs, n int) {
	for k := 0; k < n; k++ {
		img, err := raster.New(side, side, 4, 8)
		require.NoError(t, err)
		mask, err := raster.New(side, side, 1, 8)
		require.NoError(t, err)

		for i := 0; i < side*side; i++ {
			for b := 0; b < 4; b++ {
				img.Bands[b][i] = pixel(k, b, i)
			}
			if img.Bands[0][i] > 0 {
				mask.Bands[0][i] = 255
			}
		}

		name := fmt.Sprintf("tile_%03d.tif", k)
		require.NoError(t, raster.Write(fs, filepath.Join("/split/images", name), img))
		require.NoError(t, raster.Write(fs, filepath.Join("/split/labels", name), mask))
	}
}

func open(t *testing.T, n int) (afero.Fs, *Dataset) {
	fs := afero.NewMemMapFs()
	writeSplit(t, fs, n)
	d, err := Open(fs, "/split/images", "/split/labels", 1)
	require.NoError(t, err)
	return fs, d
}

func TestGet(t *testing.T) {
	_, d := open(t, 3)
	require.Equal(t, 3, d.Len())

	s, err := d.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "tile_001", s.Name)
	assert.Equal(t, side, s.Width)
	assert.Equal(t, side, s.Height)
	assert.Equal(t, 4, s.Channels)
	require.Len(t, s.Image, 4*side*side)
	require.Len(t, s.Mask, side*side)

	plane := side * side
	for i := 0; i < plane; i++ {
		for b := 0; b < 4; b++ {
			assert.InDelta(t, float64(pixel(1, b, i))/255, s.Image[b*plane+i], 1e-12)
		}

		want := 0.0
		if pixel(1, 0, i) > 0 {
			want = 1
		}
		assert.Equal(t, want, s.Mask[i])
	}

	_, err = d.Get(3)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	fs, d := open(t, 2)
	require.NoError(t, fs.Remove("/split/labels/tile_001.tif"))

	_, err := d.Get(1)
	assert.Error(t, err)
	_, err = d.Get(0)
	assert.NoError(t, err)
}

func TestMismatchedCounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSplit(t, fs, 2)
	require.NoError(t, fs.Remove("/split/labels/tile_000.tif"))

	_, err := Open(fs, "/split/images", "/split/labels", 1)
	require.Error(t, err)
	var mm MismatchError
	assert.ErrorAs(t, err, &mm)

	_, err = Open(fs, "/nope/images", "/split/labels", 1)
	assert.Error(t, err)
}

func TestHorizontalFlip(t *testing.T) {
	_, d := open(t, 1)
	plain, err := d.Get(0)
	require.NoError(t, err)

	d.Transforms = []Transform{HorizontalFlip(1)}
	flipped, err := d.Get(0)
	require.NoError(t, err)

	plane := side * side
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			src := y*side + (side - 1 - x)
			dst := y*side + x
			for c := 0; c < 4; c++ {
				assert.Equal(t, plain.Image[c*plane+src], flipped.Image[c*plane+dst])
			}
			assert.Equal(t, plain.Mask[src], flipped.Mask[dst])
		}
	}

	d.Transforms = []Transform{HorizontalFlip(0), VerticalFlip(0), RandomRotate90(0)}
	same, err := d.Get(0)
	require.NoError(t, err)
	assert.Equal(t, plain, same)
}

// consistent checks that the mask still follows band 0 and every value came from the untransformed sample
func consistent(t *testing.T, orig, s Sample) {
	plane := s.Width * s.Height
	for c := 0; c < s.Channels; c++ {
		var have []float64
		have = append(have, orig.Image[c*orig.Width*orig.Height:(c+1)*orig.Width*orig.Height]...)
		sort.Float64s(have)

		for i := 0; i < plane; i++ {
			v := s.Image[c*plane+i]
			j := sort.SearchFloat64s(have, v)
			assert.True(t, j < len(have) && have[j] == v, "channel %d value %v", c, v)
		}
	}

	for i := 0; i < plane; i++ {
		assert.Equal(t, s.Image[i] > 0, s.Mask[i] == 1)
	}
}

func TestRandomTransformsAreAlignedAndRepeatable(t *testing.T) {
	_, d := open(t, 4)
	var plain []Sample
	for i := 0; i < d.Len(); i++ {
		s, err := d.Get(i)
		require.NoError(t, err)
		plain = append(plain, s)
	}

	d.Transforms = Augment()
	for epoch := 0; epoch < 5; epoch++ {
		d.SetEpoch(epoch)
		for i := 0; i < d.Len(); i++ {
			a, err := d.Get(i)
			require.NoError(t, err)
			b, err := d.Get(i)
			require.NoError(t, err)
			assert.Equal(t, a, b)
			consistent(t, plain[i], a)
		}
	}
}

func TestResize(t *testing.T) {
	_, d := open(t, 1)
	plain, err := d.Get(0)
	require.NoError(t, err)

	d.Transforms = []Transform{Resize(2, 2)}
	s, err := d.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Width)
	assert.Equal(t, 2, s.Height)
	assert.Len(t, s.Image, 4*4)
	assert.Len(t, s.Mask, 4)
	consistent(t, plain, s)
}

func TestNormalize(t *testing.T) {
	n := Normalize{Mean: []float64{0.1, 0, 0, 0}, Std: []float64{0.5, 1, 1, 1}}
	require.NoError(t, n.Validate(4))
	assert.InDelta(t, 0.2, n.apply(0, 51), 1e-12)
	assert.InDelta(t, 0.2, n.apply(1, 51), 1e-12)
	assert.InDelta(t, 0.2, Normalize{}.apply(2, 51), 1e-12)

	assert.Error(t, Normalize{Mean: []float64{0}, Std: []float64{1}}.Validate(4))
	assert.Error(t, Normalize{Mean: []float64{0, 0, 0, 0}, Std: []float64{1, 0, 1, 1}}.Validate(4))

	_, d := open(t, 1)
	d.Normalize = Normalize{Mean: []float64{0.5}, Std: []float64{1}}
	_, err := d.Get(0)
	assert.Error(t, err)
}

func memory(n int) Memory {
	m := make(Memory, n)
	for i := range m {
		m[i] = Sample{Name: fmt.Sprint(i)}
	}
	return m
}

func TestLoaderBatches(t *testing.T) {
	l := NewLoader(memory(5), 2)
	assert.Equal(t, 3, l.NumBatches())

	var sizes []int
	var names []string
	require.NoError(t, l.Epoch(0, func(batch []Sample) error {
		sizes = append(sizes, len(batch))
		for _, s := range batch {
			names = append(names, s.Name)
		}
		return nil
	}))
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, names)

	assert.Error(t, NewLoader(memory(2), 0).Epoch(0, func([]Sample) error { return nil }))
}

func TestLoaderShuffle(t *testing.T) {
	l := NewLoader(memory(20), 3)
	l.Shuffle = true
	l.Seed = 9

	a := l.Order(2)
	assert.Equal(t, a, l.Order(2))
	assert.Equal(t, rand.New(rand.NewSource(11)).Perm(20), a)

	sorted := append([]int(nil), a...)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v)
	}
}
