package optimizers

import (
	"math"

	seg "github.com/sharnoff/forestseg"
)

type adam struct {
	beta1, beta2, epsilon float64

	// first and second moment estimates, allocated on the first run
	m, v []float64

	// number of updates so far, used for bias correction
	t int
}

// Adam returns the Adam optimizer with the usual constants (β1 = 0.9, β2 = 0.999, ε = 1e-8),
// reading the HyperParameter "learning-rate" from its Node. Each Node needs its own Adam, since
// it keeps moment estimates for every weight.
func Adam() *adam {
	return &adam{
		beta1:   defaultValue["adam-beta1"],
		beta2:   defaultValue["adam-beta2"],
		epsilon: defaultValue["adam-epsilon"],
	}
}

// Betas sets the decay rates of the first and second moment estimates.
func (a *adam) Betas(beta1, beta2 float64) *adam {
	a.beta1, a.beta2 = beta1, beta2
	return a
}

func (a *adam) TypeString() string {
	return "adam"
}

func (a *adam) Needs() []string {
	return []string{"learning-rate"}
}

func (a *adam) Run(n *seg.Node, size int, grad func(int) float64, add func(int, float64)) error {
	if a.m == nil {
		a.m = make([]float64, size)
		a.v = make([]float64, size)
	}

	a.t++
	learningRate := n.HPValue("learning-rate")
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i := 0; i < size; i++ {
		g := grad(i)
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		add(i, -learningRate*mHat/(math.Sqrt(vHat)+a.epsilon))
	}

	return nil
}
