// Package raster reads and writes geo-referenced rasters: the pixels are stored as TIFF and the
// geo metadata as a JSON sidecar next to them (<file>.geo.json).
package raster

import (
	"fmt"

	"github.com/pkg/errors"
)

// GeoRef is the geo-referencing of a raster.
type GeoRef struct {
	// CRS identifies the coordinate reference system, for example "EPSG:32721"
	CRS string `json:"crs,omitempty"`

	// Transform is the affine geotransform in GDAL order: origin x, pixel width, row rotation,
	// origin y, column rotation, pixel height (negative for north-up rasters)
	Transform [6]float64 `json:"transform"`

	// NoData is the value marking pixels without data. Nil means every pixel has data.
	NoData *float64 `json:"nodata,omitempty"`

	// Tags holds free-form metadata such as the acquisition date
	Tags map[string]string `json:"tags,omitempty"`
}

// Identity returns the GeoRef of a raster with no real-world position: unit pixels with the
// origin at the top left.
func Identity() GeoRef {
	return GeoRef{Transform: [6]float64{0, 1, 0, 0, 0, 1}}
}

// Shift returns the geotransform of a window whose top left pixel is (x, y) in this raster.
func (g GeoRef) Shift(x, y int) [6]float64 {
	t := g.Transform
	fx, fy := float64(x), float64(y)
	return [6]float64{
		t[0] + fx*t[1] + fy*t[2],
		t[1],
		t[2],
		t[3] + fx*t[4] + fy*t[5],
		t[4],
		t[5],
	}
}

// Clone returns a deep copy.
func (g GeoRef) Clone() GeoRef {
	c := g
	if g.NoData != nil {
		v := *g.NoData
		c.NoData = &v
	}

	if g.Tags != nil {
		c.Tags = make(map[string]string, len(g.Tags))
		for k, v := range g.Tags {
			c.Tags[k] = v
		}
	}

	return c
}

// SetTag sets a tag, allocating the map if needed.
func (g *GeoRef) SetTag(key, value string) {
	if g.Tags == nil {
		g.Tags = make(map[string]string)
	}

	g.Tags[key] = value
}

// MalformedRasterError is returned for rasters whose dimensions or bands can't be used.
type MalformedRasterError struct {
	Path   string
	Reason string
}

func (err MalformedRasterError) Error() string {
	if err.Path == "" {
		return "malformed raster: " + err.Reason
	}

	return fmt.Sprintf("malformed raster %q: %s", err.Path, err.Reason)
}

// CRSMismatchError is returned when two rasters that must be aligned have different CRS.
type CRSMismatchError struct {
	A, B string
}

func (err CRSMismatchError) Error() string {
	return fmt.Sprintf("CRS %q does not match %q", err.A, err.B)
}

// Raster is a multi-band image with 8 or 16 bits per sample, stored band by band.
type Raster struct {
	Width, Height int

	// Depth is the number of bits per sample: 8 or 16
	Depth int

	// Bands[b][y*Width+x] is the sample of band b at (x, y)
	Bands [][]uint16

	Geo GeoRef
}

// New returns a zeroed raster.
func New(width, height, bands, depth int) (*Raster, error) {
	if width < 1 || height < 1 {
		return nil, MalformedRasterError{Reason: fmt.Sprintf("size %dx%d is empty", width, height)}
	} else if bands != 1 && bands != 4 {
		return nil, MalformedRasterError{Reason: fmt.Sprintf("%d bands given, only 1 or 4 are supported", bands)}
	} else if depth != 8 && depth != 16 {
		return nil, MalformedRasterError{Reason: fmt.Sprintf("depth %d given, only 8 or 16 are supported", depth)}
	}

	r := &Raster{Width: width, Height: height, Depth: depth, Bands: make([][]uint16, bands), Geo: Identity()}
	for b := range r.Bands {
		r.Bands[b] = make([]uint16, width*height)
	}

	return r, nil
}

// Count returns the number of bands.
func (r *Raster) Count() int {
	return len(r.Bands)
}

// At returns the sample of band b at (x, y).
func (r *Raster) At(b, x, y int) uint16 {
	return r.Bands[b][y*r.Width+x]
}

// Set sets the sample of band b at (x, y).
func (r *Raster) Set(b, x, y int, v uint16) {
	r.Bands[b][y*r.Width+x] = v
}

// Max returns the largest sample value representable at the raster's depth.
func (r *Raster) Max() uint16 {
	if r.Depth == 8 {
		return 0xff
	}

	return 0xffff
}

// Window returns a copy of the w x h area with top left (x, y), with its geotransform shifted to
// match. The window must lie entirely within the raster.
func (r *Raster) Window(x, y, w, h int) (*Raster, error) {
	if x < 0 || y < 0 || w < 1 || h < 1 || x+w > r.Width || y+h > r.Height {
		return nil, errors.Errorf("Window %dx%d at (%d, %d) is not inside raster %dx%d", w, h, x, y, r.Width, r.Height)
	}

	out, err := New(w, h, r.Count(), r.Depth)
	if err != nil {
		return nil, err
	}

	for b := range r.Bands {
		for row := 0; row < h; row++ {
			src := r.Bands[b][(y+row)*r.Width+x:]
			copy(out.Bands[b][row*w:(row+1)*w], src[:w])
		}
	}

	out.Geo = r.Geo.Clone()
	out.Geo.Transform = r.Geo.Shift(x, y)
	return out, nil
}

// NoDataRatio returns the fraction of pixels in which every band equals the no-data value. It is
// 0 if the raster has no no-data value.
func (r *Raster) NoDataRatio() float64 {
	if r.Geo.NoData == nil {
		return 0
	}

	nd := *r.Geo.NoData
	count := 0
	for i := 0; i < r.Width*r.Height; i++ {
		all := true
		for b := range r.Bands {
			if float64(r.Bands[b][i]) != nd {
				all = false
				break
			}
		}

		if all {
			count++
		}
	}

	return float64(count) / float64(r.Width*r.Height)
}
