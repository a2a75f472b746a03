package unet

import (
	"sort"

	"github.com/pkg/errors"
)

// Encoder describes the contracting half of the network. Stage i has Widths[i] channels and
// Convs 3x3 convolutions; every stage after the first starts by halving the resolution.
type Encoder struct {
	Widths []int
	Convs  int

	// Leak is the slope of the leaky ReLUs after each convolution. Zero gives plain ReLUs.
	Leak float64
}

// Depth returns the number of times the resolution is halved.
func (e Encoder) Depth() int {
	return len(e.Widths) - 1
}

// encoders are the presets known by name. They are named after the backbones they stand in for,
// scaled to train on a CPU.
var encoders = map[string]Encoder{
	"resnet18":        {Widths: []int{8, 16, 32, 64}, Convs: 2},
	"resnet34":        {Widths: []int{8, 16, 32, 64}, Convs: 3},
	"efficientnet-b0": {Widths: []int{8, 12, 20, 40}, Convs: 2, Leak: 0.01},
	"mobilenet_v2":    {Widths: []int{4, 8, 16, 32}, Convs: 2, Leak: 0.01},
}

// RegisterEncoder adds a preset, which can then be used by name in Options.
func RegisterEncoder(name string, e Encoder) error {
	if name == "" {
		return errors.Errorf(`Encoder name cannot be ""`)
	} else if _, ok := encoders[name]; ok {
		return errors.Errorf("Encoder %q is already registered", name)
	} else if len(e.Widths) == 0 || e.Convs < 1 {
		return errors.Errorf("Encoder %q must have at least one stage and one convolution per stage", name)
	}

	for i, w := range e.Widths {
		if w < 1 {
			return errors.Errorf("Encoder %q stage %d has width %d", name, i, w)
		}
	}

	encoders[name] = e
	return nil
}

// LookupEncoder returns the preset with the given name.
func LookupEncoder(name string) (Encoder, error) {
	e, ok := encoders[name]
	if !ok {
		return Encoder{}, errors.Errorf("Unknown encoder %q (known: %v)", name, Encoders())
	}

	return e, nil
}

// Encoders returns the names of all presets, sorted.
func Encoders() []string {
	var names []string
	for n := range encoders {
		names = append(names, n)
	}

	sort.Strings(names)
	return names
}
