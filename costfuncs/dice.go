package costfuncs

import (
	seg "github.com/sharnoff/forestseg"
)

type dice struct {
	Smooth float64
}

// Dice returns the soft Dice loss on logits, 1 - (2·Σpt + s) / (Σp + Σt + s) where p are the
// sigmoids of the outputs and s is 'smooth'. The smoothing term keeps the loss defined when
// both the prediction and the target are empty.
func Dice(smooth float64) *dice {
	return &dice{smooth}
}

func (c *dice) TypeString() string {
	return "dice"
}

func (c *dice) Get() interface{} {
	return *c
}

func (c *dice) Blank() interface{} {
	return c
}

func (c *dice) sums(outs, targets []float64) (ps []float64, inter, total float64) {
	ps = seg.Sigmoids(outs)
	for i, p := range ps {
		inter += p * targets[i]
		total += p + targets[i]
	}

	return
}

func (c *dice) Cost(outs, targets []float64) float64 {
	_, inter, total := c.sums(outs, targets)
	return 1 - (2*inter+c.Smooth)/(total+c.Smooth)
}

func (c *dice) Derivs(outs, targets []float64) []float64 {
	ps, inter, total := c.sums(outs, targets)
	num := 2*inter + c.Smooth
	den := total + c.Smooth

	ds := make([]float64, len(outs))
	for i, p := range ps {
		// d(loss)/dp, then through the sigmoid
		dp := -(2*targets[i]*den - num) / (den * den)
		ds[i] = dp * p * (1 - p)
	}

	return ds
}
