package forestseg

import (
	"math"
	"sort"
)

// Sigmoid returns the logistic function of x, computed so that it doesn't overflow for large
// negative x.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}

	e := math.Exp(x)
	return e / (1 + e)
}

// Sigmoids applies Sigmoid to every value, returning a new slice.
func Sigmoids(xs []float64) []float64 {
	ps := make([]float64, len(xs))
	for i, x := range xs {
		ps[i] = Sigmoid(x)
	}

	return ps
}

func sortedKeys(m map[string]HyperParameter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
