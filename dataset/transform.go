package dataset

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Pair is an image and its mask while they are being transformed. Both always have the same
// bounds.
type Pair struct {
	Image, Mask *image.NRGBA
}

// Transform changes a Pair in place. Random transforms draw only from 'rng', so that a sample is
// transformed the same way whenever it is loaded with the same seed.
type Transform interface {
	Apply(p *Pair, rng *rand.Rand)
}

type flip struct {
	p          float64
	horizontal bool
}

// HorizontalFlip mirrors the pair left to right with probability 'p'.
func HorizontalFlip(p float64) Transform {
	return flip{p, true}
}

// VerticalFlip mirrors the pair top to bottom with probability 'p'.
func VerticalFlip(p float64) Transform {
	return flip{p, false}
}

func (f flip) Apply(p *Pair, rng *rand.Rand) {
	if rng.Float64() >= f.p {
		return
	}

	if f.horizontal {
		p.Image, p.Mask = imaging.FlipH(p.Image), imaging.FlipH(p.Mask)
	} else {
		p.Image, p.Mask = imaging.FlipV(p.Image), imaging.FlipV(p.Mask)
	}
}

type rotate90 struct{ p float64 }

// RandomRotate90 rotates the pair by 0, 90, 180 or 270 degrees, chosen uniformly, with
// probability 'p'.
func RandomRotate90(p float64) Transform {
	return rotate90{p}
}

func (r rotate90) Apply(p *Pair, rng *rand.Rand) {
	if rng.Float64() >= r.p {
		return
	}

	var rot func(image.Image) *image.NRGBA
	switch rng.Intn(4) {
	case 0:
		return
	case 1:
		rot = imaging.Rotate90
	case 2:
		rot = imaging.Rotate180
	case 3:
		rot = imaging.Rotate270
	}

	p.Image, p.Mask = rot(p.Image), rot(p.Mask)
}

type resize struct{ w, h int }

// Resize scales the pair to w x h with nearest-neighbor sampling, so mask values and bands
// stored in alpha are never blended.
func Resize(w, h int) Transform {
	return resize{w, h}
}

func (r resize) Apply(p *Pair, _ *rand.Rand) {
	if b := p.Image.Bounds(); b.Dx() == r.w && b.Dy() == r.h {
		return
	}

	p.Image = imaging.Resize(p.Image, r.w, r.h, imaging.NearestNeighbor)
	p.Mask = imaging.Resize(p.Mask, r.w, r.h, imaging.NearestNeighbor)
}

// Augment returns the random flips and rotations used on training data.
func Augment() []Transform {
	return []Transform{
		HorizontalFlip(0.5),
		VerticalFlip(0.5),
		RandomRotate90(0.5),
	}
}

// Normalize maps 8-bit samples to [0, 1] and then standardizes each channel as
// (x - Mean[c]) / Std[c]. Empty Mean and Std leave values in [0, 1].
type Normalize struct {
	Mean []float64 `yaml:"mean,omitempty"`
	Std  []float64 `yaml:"std,omitempty"`
}

// Validate checks that Mean and Std fit 'channels' and that no Std is zero.
func (n Normalize) Validate(channels int) error {
	if len(n.Mean) == 0 && len(n.Std) == 0 {
		return nil
	} else if len(n.Mean) != channels || len(n.Std) != channels {
		return errors.Errorf("Normalize needs %d means and standard deviations, got %d and %d", channels, len(n.Mean), len(n.Std))
	}

	for c, s := range n.Std {
		if s == 0 {
			return errors.Errorf("Standard deviation of channel %d is zero", c)
		}
	}

	return nil
}

func (n Normalize) apply(c int, v uint8) float64 {
	x := float64(v) / 255
	if len(n.Mean) == 0 {
		return x
	}

	return (x - n.Mean[c]) / n.Std[c]
}

// tensor converts a transformed pair to a planar [width, height, channels] image and a 0/1 mask.
// The channels are taken from R, G, B and A in order; the mask is 1 where its red value is above
// 0.
func (n Normalize) tensor(p Pair, channels int) (img, mask []float64) {
	b := p.Image.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h

	img = make([]float64, plane*channels)
	mask = make([]float64, plane)

	for y := 0; y < h; y++ {
		row := p.Image.Pix[y*p.Image.Stride:]
		mrow := p.Mask.Pix[y*p.Mask.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			for c := 0; c < channels; c++ {
				img[c*plane+i] = n.apply(c, row[4*x+c])
			}

			if mrow[4*x] > 0 {
				mask[i] = 1
			}
		}
	}

	return img, mask
}
