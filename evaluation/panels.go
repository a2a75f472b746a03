package evaluation

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/unet"
	"github.com/spf13/afero"
)

// RGBBands are the channels shown as red, green and blue: B04, B03 and B02.
var RGBBands = [3]int{2, 1, 0}

// Gamma is applied to the stretched RGB composite.
const Gamma = 0.8

var (
	tpColor = color.NRGBA{0xff, 0xff, 0xff, 0xff}
	tnColor = color.NRGBA{0x00, 0x00, 0x00, 0xff}
	fpColor = color.NRGBA{0xff, 0x00, 0x00, 0xff}
	fnColor = color.NRGBA{0x00, 0x00, 0xff, 0xff}
)

// Composite stretches the RGB bands of a sample together to [0, 1] and applies Gamma. Stretching
// by the sample's own range undoes any per-channel normalization.
func Composite(s dataset.Sample) (*image.NRGBA, error) {
	if s.Channels < 3 {
		return nil, errors.Errorf("Sample %q has %d channels, need 3 for RGB", s.Name, s.Channels)
	}

	n := s.Width * s.Height
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range RGBBands {
		for _, v := range s.Image[b*n : (b+1)*n] {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}

	span := hi - lo
	img := imaging.New(s.Width, s.Height, tnColor)
	for i := 0; i < n; i++ {
		for c, b := range RGBBands {
			v := 0.0
			if span > 0 {
				v = math.Pow((s.Image[b*n+i]-lo)/span, Gamma)
			}
			img.Pix[4*i+c] = uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
		}
	}

	return img, nil
}

// Panel draws one row of a prediction figure: the RGB composite, the ground truth, the
// thresholded prediction, and the error map with true positives white, true negatives black,
// false positives red, and false negatives blue.
func Panel(s dataset.Sample, probs []float64, threshold float64) (*image.NRGBA, error) {
	n := s.Width * s.Height
	if len(probs) != n || len(s.Mask) != n {
		return nil, errors.Errorf("Sample %q: %d probabilities and %d mask values for %d pixels", s.Name, len(probs), len(s.Mask), n)
	}

	rgb, err := Composite(s)
	if err != nil {
		return nil, err
	}

	truth := imaging.New(s.Width, s.Height, tnColor)
	pred := imaging.New(s.Width, s.Height, tnColor)
	errs := imaging.New(s.Width, s.Height, tnColor)

	for i := 0; i < n; i++ {
		x, y := i%s.Width, i/s.Width
		t, p := s.Mask[i] > 0.5, probs[i] > threshold

		if t {
			truth.SetNRGBA(x, y, tpColor)
		}
		if p {
			pred.SetNRGBA(x, y, tpColor)
		}

		switch {
		case t && p:
			errs.SetNRGBA(x, y, tpColor)
		case !t && p:
			errs.SetNRGBA(x, y, fpColor)
		case t && !p:
			errs.SetNRGBA(x, y, fnColor)
		}
	}

	row := imaging.New(4*s.Width, s.Height, tnColor)
	for c, img := range []*image.NRGBA{rgb, truth, pred, errs} {
		row = imaging.Paste(row, img, image.Pt(c*s.Width, 0))
	}

	return row, nil
}

// Predictions draws 'count' samples of 'src' chosen by 'seed', one Panel per row. All samples
// must be the same size.
func Predictions(model *unet.Model, src dataset.Source, seed int64, count int, threshold float64) (*image.NRGBA, error) {
	if count > src.Len() {
		count = src.Len()
	}
	if count < 1 {
		return nil, errors.Errorf("No samples to draw")
	}

	picks := rand.New(rand.NewSource(seed)).Perm(src.Len())[:count]

	var fig *image.NRGBA
	var size image.Rectangle
	for r, i := range picks {
		s, err := src.Get(i)
		if err != nil {
			return nil, err
		}

		probs, err := model.Predict(s.Image)
		if err != nil {
			return nil, errors.Wrapf(err, "Sample %q", s.Name)
		}

		row, err := Panel(s, probs, threshold)
		if err != nil {
			return nil, err
		}

		if fig == nil {
			size = row.Bounds()
			fig = imaging.New(size.Dx(), count*size.Dy(), tnColor)
		} else if row.Bounds() != size {
			return nil, errors.Errorf("Sample %q is %dx%d, unlike the others", s.Name, s.Width, s.Height)
		}
		fig = imaging.Paste(fig, row, image.Pt(0, r*size.Dy()))
	}

	return fig, nil
}

// SavePredictions draws Predictions and writes them as a PNG.
func SavePredictions(fs afero.Fs, path string, model *unet.Model, src dataset.Source, seed int64, count int, threshold float64) error {
	fig, err := Predictions(model, src, seed, count, threshold)
	if err != nil {
		return errors.Wrapf(err, "Can't draw %q", path)
	}

	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to create %q", path)
	}
	defer f.Close()

	return errors.Wrapf(imaging.Encode(f, fig, imaging.PNG), "Failed to write %q", path)
}
