package costfuncs

import (
	"math"

	seg "github.com/sharnoff/forestseg"
)

type bce struct{}

// BCE returns binary cross-entropy measured on logits: outputs are unbounded scores and the
// sigmoid is applied inside the cost. Targets are 0 or 1. The cost is the mean over all values.
func BCE() bce {
	return bce{}
}

func (c bce) TypeString() string {
	return "bce-logits"
}

func (c bce) Cost(outs, targets []float64) float64 {
	var sum float64
	for i, z := range outs {
		// max(z, 0) - z*t + log(1 + e^-|z|) is the stable form of the cross-entropy
		sum += math.Max(z, 0) - z*targets[i] + math.Log1p(math.Exp(-math.Abs(z)))
	}

	return sum / float64(len(outs))
}

func (c bce) Derivs(outs, targets []float64) []float64 {
	ds := make([]float64, len(outs))
	n := float64(len(outs))
	for i, z := range outs {
		ds[i] = (seg.Sigmoid(z) - targets[i]) / n
	}

	return ds
}
