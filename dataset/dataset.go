// Package dataset loads image and mask tiles from a split directory as network-ready samples.
package dataset

import (
	"fmt"
	"image/color"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/raster"
	"github.com/spf13/afero"
)

// Sample is one image with its mask. Image is planar: the value of channel c at (x, y) is
// Image[c*Width*Height + y*Width + x]. Mask holds Width*Height values of 0 or 1.
type Sample struct {
	Name string

	Width, Height, Channels int

	Image []float64
	Mask  []float64
}

// Source is a finite, ordered collection of samples. Get must give the same sample for the same
// index and epoch.
type Source interface {
	Len() int
	Get(i int) (Sample, error)

	// SetEpoch sets the epoch used to seed random transforms
	SetEpoch(epoch int)
}

// MismatchError is returned when a split has different numbers of images and masks.
type MismatchError struct {
	Images, Masks int
}

func (err MismatchError) Error() string {
	return fmt.Sprintf("mismatched images/masks: %d images, %d masks", err.Images, err.Masks)
}

// Dataset is a Source reading tiles from disk.
type Dataset struct {
	fs     afero.Fs
	images []string
	masks  []string

	// Transforms are applied in order to every sample loaded
	Transforms []Transform
	Normalize  Normalize

	seed  int64
	epoch int
}

// Open lists the *.tif files of 'imgDir' and 'maskDir', sorted by name. The i-th image is paired
// with the i-th mask, so both directories must hold the same number of files.
func Open(fs afero.Fs, imgDir, maskDir string, seed int64) (*Dataset, error) {
	images, err := listTIFF(fs, imgDir)
	if err != nil {
		return nil, err
	}

	masks, err := listTIFF(fs, maskDir)
	if err != nil {
		return nil, err
	}

	if len(images) != len(masks) {
		return nil, errors.Wrapf(MismatchError{len(images), len(masks)}, "Can't open dataset %q", imgDir)
	}

	return &Dataset{fs: fs, images: images, masks: masks, seed: seed}, nil
}

func listTIFF(fs afero.Fs, dir string) ([]string, error) {
	matches, err := afero.Glob(fs, filepath.Join(dir, "*.tif"))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list %q", dir)
	} else if ok, _ := afero.DirExists(fs, dir); !ok {
		return nil, errors.Errorf("Directory %q does not exist", dir)
	}

	sort.Strings(matches)
	return matches, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.images)
}

// Name returns the file name of the i-th image, without its extension.
func (d *Dataset) Name(i int) string {
	return strings.TrimSuffix(filepath.Base(d.images[i]), ".tif")
}

// SetEpoch sets the epoch used to seed random transforms.
func (d *Dataset) SetEpoch(epoch int) {
	d.epoch = epoch
}

func (d *Dataset) rng(i int) *rand.Rand {
	return rand.New(rand.NewSource(d.seed + int64(d.epoch)*1000003 + int64(i)))
}

// Get loads and transforms the i-th sample. It fails if either file is missing or unreadable, or
// if the image and mask differ in size.
func (d *Dataset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.images) {
		return Sample{}, errors.Errorf("Sample index %d out of range [0, %d)", i, len(d.images))
	}

	img, err := raster.Read(d.fs, d.images[i])
	if err != nil {
		return Sample{}, errors.Wrapf(err, "Can't load sample %d", i)
	}
	mask, err := raster.Read(d.fs, d.masks[i])
	if err != nil {
		return Sample{}, errors.Wrapf(err, "Can't load sample %d", i)
	}

	if img.Width != mask.Width || img.Height != mask.Height {
		return Sample{}, raster.MalformedRasterError{
			Path:   d.masks[i],
			Reason: "mask size does not match " + d.images[i],
		}
	}

	if err = d.Normalize.Validate(img.Count()); err != nil {
		return Sample{}, err
	}

	p, err := toPair(img, mask)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "Can't load sample %d", i)
	}

	rng := d.rng(i)
	for _, t := range d.Transforms {
		t.Apply(&p, rng)
	}

	b := p.Image.Bounds()
	s := Sample{Name: d.Name(i), Width: b.Dx(), Height: b.Dy(), Channels: img.Count()}
	s.Image, s.Mask = d.Normalize.tensor(p, s.Channels)
	return s, nil
}

// toPair converts the rasters for transforming. The mask is white wherever its first band is
// above 0, whatever its depth.
func toPair(img, mask *raster.Raster) (Pair, error) {
	ii, err := img.Image()
	if err != nil {
		return Pair{}, err
	}

	m := imaging.New(mask.Width, mask.Height, color.NRGBA{A: 0xff})
	for i, v := range mask.Bands[0] {
		if v > 0 {
			m.Pix[4*i], m.Pix[4*i+1], m.Pix[4*i+2] = 0xff, 0xff, 0xff
		}
	}

	return Pair{Image: imaging.Clone(ii), Mask: m}, nil
}

// Each calls 'f' on every sample in order, stopping at the first error.
func Each(src Source, f func(i int, s Sample) error) error {
	for i := 0; i < src.Len(); i++ {
		s, err := src.Get(i)
		if err != nil {
			return err
		} else if err = f(i, s); err != nil {
			return err
		}
	}

	return nil
}

// Memory is a Source over samples already in memory. It ignores the epoch.
type Memory []Sample

func (m Memory) Len() int { return len(m) }

func (m Memory) Get(i int) (Sample, error) {
	if i < 0 || i >= len(m) {
		return Sample{}, errors.Errorf("Sample index %d out of range [0, %d)", i, len(m))
	}

	return m[i], nil
}

func (m Memory) SetEpoch(int) {}
