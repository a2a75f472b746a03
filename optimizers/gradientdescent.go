package optimizers

import (
	seg "github.com/sharnoff/forestseg"
)

type gradientdescent struct{}

// GradientDescent returns plain stochastic gradient descent, reading the HyperParameter
// "learning-rate" from its Node.
func GradientDescent() gradientdescent {
	return gradientdescent{}
}

// SGD is the same as GradientDescent.
func SGD() gradientdescent {
	return GradientDescent()
}

func (g gradientdescent) TypeString() string {
	return "sgd"
}

func (g gradientdescent) Needs() []string {
	return []string{"learning-rate"}
}

func (g gradientdescent) Run(n *seg.Node, size int, grad func(int) float64, add func(int, float64)) error {
	learningRate := n.HPValue("learning-rate")
	for i := 0; i < size; i++ {
		add(i, -learningRate*grad(i))
	}

	return nil
}
