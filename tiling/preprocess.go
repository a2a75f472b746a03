package tiling

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/raster"
	"github.com/spf13/afero"
)

// Bands are the Sentinel-2 bands stacked into each image, in order. They become the R, G, B and
// A channels of the stored tiles.
var Bands = []string{"B02", "B03", "B04", "B08"}

// BandSuffix returns the end of the file name of a 10 m band.
func BandSuffix(band string) string {
	return "_" + band + "_10m.tif"
}

// FindBands returns the path of every band in Bands found among the files of 'dir'. It is an
// error if any band is missing.
func FindBands(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list %q", dir)
	}

	paths := make([]string, len(Bands))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}

		for b, band := range Bands {
			if paths[b] == "" && strings.HasSuffix(info.Name(), BandSuffix(band)) {
				paths[b] = filepath.Join(dir, info.Name())
			}
		}
	}

	var missing []string
	for b, p := range paths {
		if p == "" {
			missing = append(missing, Bands[b])
		}
	}
	if len(missing) != 0 {
		return nil, errors.Errorf("Missing band files %v in %q", missing, dir)
	}

	return paths, nil
}

// StackBands reads the four band files of a scene directory and stacks them into a single
// 4-band raster, with the geo-referencing of the first. The acquisition date, the second
// underscore-separated field of the first band's name, is kept as the tag "acquisition_date".
func StackBands(fs afero.Fs, dir string) (*raster.Raster, error) {
	paths, err := FindBands(fs, dir)
	if err != nil {
		return nil, err
	}

	var out *raster.Raster
	for b, p := range paths {
		r, err := raster.Read(fs, p)
		if err != nil {
			return nil, err
		} else if r.Count() != 1 {
			return nil, raster.MalformedRasterError{Path: p, Reason: fmt.Sprintf("band file has %d bands", r.Count())}
		}

		if out == nil {
			if out, err = raster.New(r.Width, r.Height, len(Bands), r.Depth); err != nil {
				return nil, err
			}
			out.Geo = r.Geo.Clone()
			out.Geo.NoData = nil
		} else if r.Width != out.Width || r.Height != out.Height {
			return nil, raster.MalformedRasterError{
				Path:   p,
				Reason: fmt.Sprintf("size %dx%d does not match %dx%d of %s", r.Width, r.Height, out.Width, out.Height, Bands[0]),
			}
		} else if r.Geo.CRS != out.Geo.CRS {
			return nil, errors.Wrapf(raster.CRSMismatchError{A: out.Geo.CRS, B: r.Geo.CRS}, "Can't stack %q", p)
		}

		if r.Depth > out.Depth {
			out.Depth = r.Depth
		}
		copy(out.Bands[b], r.Bands[0])
	}

	if fields := strings.Split(filepath.Base(paths[0]), "_"); len(fields) > 1 {
		out.Geo.SetTag("acquisition_date", fields[1])
	}

	return out, nil
}

// ScaleTo8Bit stretches every band linearly so that its minimum becomes 0 and its maximum 255,
// returning a new 8-bit raster. Constant bands become 0.
func ScaleTo8Bit(r *raster.Raster) (*raster.Raster, error) {
	out, err := raster.New(r.Width, r.Height, r.Count(), 8)
	if err != nil {
		return nil, err
	}
	out.Geo = r.Geo.Clone()
	out.Geo.NoData = nil

	for b, band := range r.Bands {
		lo, hi := uint16(math.MaxUint16), uint16(0)
		for _, v := range band {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}

		if hi == lo {
			continue
		}

		span := float64(hi - lo)
		for i, v := range band {
			out.Bands[b][i] = uint16(float64(v-lo) / span * 255)
		}
	}

	return out, nil
}

// ClipToGrid resamples the first band of 'label' onto the pixel grid of 'ref' by nearest
// neighbor, so the result is aligned pixel for pixel with 'ref'. Both must share a CRS, and
// neither may be rotated. Pixels of 'ref' outside the label are 0.
func ClipToGrid(label, ref *raster.Raster) (*raster.Raster, error) {
	if label.Geo.CRS != ref.Geo.CRS {
		return nil, raster.CRSMismatchError{A: ref.Geo.CRS, B: label.Geo.CRS}
	}

	lt, rt := label.Geo.Transform, ref.Geo.Transform
	if lt[2] != 0 || lt[4] != 0 || rt[2] != 0 || rt[4] != 0 {
		return nil, errors.Errorf("Rotated geotransforms are not supported")
	} else if lt[1] == 0 || lt[5] == 0 {
		return nil, raster.MalformedRasterError{Reason: "label geotransform has zero pixel size"}
	}

	out, err := raster.New(ref.Width, ref.Height, 1, label.Depth)
	if err != nil {
		return nil, err
	}
	out.Geo = ref.Geo.Clone()
	out.Geo.NoData = nil
	out.Geo.Tags = nil

	for y := 0; y < ref.Height; y++ {
		wy := rt[3] + (float64(y)+0.5)*rt[5]
		row := int(math.Floor((wy - lt[3]) / lt[5]))
		if row < 0 || row >= label.Height {
			continue
		}

		for x := 0; x < ref.Width; x++ {
			wx := rt[0] + (float64(x)+0.5)*rt[1]
			col := int(math.Floor((wx - lt[0]) / lt[1]))
			if col < 0 || col >= label.Width {
				continue
			}

			out.Set(0, x, y, label.At(0, col, row))
		}
	}

	return out, nil
}

// Binarize returns an 8-bit mask from the first band of a classified raster: 255 where the value
// is 'forestValue', 0 elsewhere.
func Binarize(r *raster.Raster, forestValue uint16) (*raster.Raster, error) {
	out, err := raster.New(r.Width, r.Height, 1, 8)
	if err != nil {
		return nil, err
	}
	out.Geo = r.Geo.Clone()
	out.Geo.NoData = nil

	for i, v := range r.Bands[0] {
		if v == forestValue {
			out.Bands[0][i] = 255
		}
	}

	return out, nil
}

// Scenes returns the sub-directories of 'dir', sorted by name. Each is expected to hold the band
// files of one scene.
func Scenes(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list %q", dir)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}
