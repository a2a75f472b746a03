package raster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/image/tiff"
)

// SidecarPath returns the path of the geo metadata file for a raster.
func SidecarPath(path string) string {
	return path + ".geo.json"
}

// Read reads the raster at 'path' and its sidecar. A missing sidecar gives the Identity GeoRef;
// a sidecar that can't be parsed is an error.
func Read(fs afero.Fs, path string) (*Raster, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read raster %q", path)
	}

	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to decode TIFF %q", path)
	}

	r, err := FromImage(img)
	if err != nil {
		if m, ok := err.(MalformedRasterError); ok {
			m.Path = path
			return nil, m
		}
		return nil, errors.Wrapf(err, "Failed to convert %q", path)
	}

	side, err := afero.ReadFile(fs, SidecarPath(path))
	if os.IsNotExist(err) {
		return r, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "Failed to read geo metadata of %q", path)
	}

	if err = json.Unmarshal(side, &r.Geo); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse geo metadata of %q", path)
	}

	return r, nil
}

// Write writes the raster as a Deflate-compressed TIFF at 'path', with its geo metadata in the
// sidecar. The same raster always produces the same bytes.
func Write(fs afero.Fs, path string, r *Raster) error {
	img, err := r.Image()
	if err != nil {
		return errors.Wrapf(err, "Can't write raster %q", path)
	}

	if err = fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create directory for %q", path)
	}

	var buf bytes.Buffer
	if err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return errors.Wrapf(err, "Failed to encode TIFF %q", path)
	} else if err = afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "Failed to write %q", path)
	}

	side, err := json.MarshalIndent(r.Geo, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "Failed to encode geo metadata of %q", path)
	} else if err = afero.WriteFile(fs, SidecarPath(path), side, 0644); err != nil {
		return errors.Wrapf(err, "Failed to write geo metadata of %q", path)
	}

	return nil
}

// Image converts the raster to an image: Gray or Gray16 for a single band, NRGBA or NRGBA64 for
// four bands, with the bands in R, G, B, A order.
func (r *Raster) Image() (image.Image, error) {
	rect := image.Rect(0, 0, r.Width, r.Height)
	n := r.Width * r.Height

	switch {
	case r.Count() == 1 && r.Depth == 8:
		img := image.NewGray(rect)
		for i, v := range r.Bands[0] {
			img.Pix[i] = uint8(v)
		}
		return img, nil
	case r.Count() == 1 && r.Depth == 16:
		img := image.NewGray16(rect)
		for i, v := range r.Bands[0] {
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img, nil
	case r.Count() == 4 && r.Depth == 8:
		img := image.NewNRGBA(rect)
		for i := 0; i < n; i++ {
			for b := 0; b < 4; b++ {
				img.Pix[4*i+b] = uint8(r.Bands[b][i])
			}
		}
		return img, nil
	case r.Count() == 4 && r.Depth == 16:
		img := image.NewNRGBA64(rect)
		for i := 0; i < n; i++ {
			for b := 0; b < 4; b++ {
				v := r.Bands[b][i]
				img.Pix[8*i+2*b] = uint8(v >> 8)
				img.Pix[8*i+2*b+1] = uint8(v)
			}
		}
		return img, nil
	default:
		return nil, MalformedRasterError{Reason: fmt.Sprintf("%d bands at depth %d can't be stored", r.Count(), r.Depth)}
	}
}

// FromImage converts a decoded image to a raster with the Identity GeoRef. Gray images give one
// band. RGBA-like images give four; for images without transparency the fourth band is fully
// opaque.
func FromImage(img image.Image) (*Raster, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var bands, depth int
	switch img.ColorModel() {
	case color.GrayModel:
		bands, depth = 1, 8
	case color.Gray16Model:
		bands, depth = 1, 16
	case color.NRGBAModel, color.RGBAModel:
		bands, depth = 4, 8
	case color.NRGBA64Model, color.RGBA64Model:
		bands, depth = 4, 16
	default:
		return nil, MalformedRasterError{Reason: fmt.Sprintf("unsupported color model %T", img.ColorModel())}
	}

	r, err := New(w, h, bands, depth)
	if err != nil {
		return nil, err
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			c := img.At(b.Min.X+x, b.Min.Y+y)

			switch depth {
			case 8:
				if bands == 1 {
					r.Bands[0][i] = uint16(color.GrayModel.Convert(c).(color.Gray).Y)
				} else {
					n := color.NRGBAModel.Convert(c).(color.NRGBA)
					r.Bands[0][i], r.Bands[1][i], r.Bands[2][i], r.Bands[3][i] = uint16(n.R), uint16(n.G), uint16(n.B), uint16(n.A)
				}
			case 16:
				if bands == 1 {
					r.Bands[0][i] = color.Gray16Model.Convert(c).(color.Gray16).Y
				} else {
					n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
					r.Bands[0][i], r.Bands[1][i], r.Bands[2][i], r.Bands[3][i] = n.R, n.G, n.B, n.A
				}
			}
		}
	}

	return r, nil
}
