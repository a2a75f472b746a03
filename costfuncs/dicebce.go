package costfuncs

import (
	"gonum.org/v1/gonum/floats"
)

type diceBCE struct {
	BCEWeight  float64
	DiceWeight float64
	Smooth     float64
}

// DiceBCE returns the weighted sum of BCE and Dice on logits, with a Dice smoothing term of
// 1. The loss is computed over the values of a single sample, so the Dice term is per sample.
func DiceBCE(bceWeight, diceWeight float64) *diceBCE {
	return &diceBCE{bceWeight, diceWeight, 1}
}

func (c *diceBCE) TypeString() string {
	return "dice-bce"
}

func (c *diceBCE) Get() interface{} {
	return *c
}

func (c *diceBCE) Blank() interface{} {
	return c
}

func (c *diceBCE) Cost(outs, targets []float64) float64 {
	return c.BCEWeight*BCE().Cost(outs, targets) + c.DiceWeight*Dice(c.Smooth).Cost(outs, targets)
}

func (c *diceBCE) Derivs(outs, targets []float64) []float64 {
	ds := BCE().Derivs(outs, targets)
	floats.Scale(c.BCEWeight, ds)
	floats.AddScaled(ds, c.DiceWeight, Dice(c.Smooth).Derivs(outs, targets))
	return ds
}
