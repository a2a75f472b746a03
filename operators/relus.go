// relus.go contains the activation functions derived from relu:
// * ReLU
// * Leaky ReLU
package operators

import (
	seg "github.com/sharnoff/forestseg"
)

// elementwise implements the parts of forestseg.Operator shared by Operators that map each input
// value to exactly one output value
type elementwise struct {
	inDeltas []float64
}

func (e *elementwise) OutputDims(in []int) ([]int, error) {
	return in, nil
}

func (e *elementwise) Finalize(n *seg.Node) error {
	e.inDeltas = make([]float64, n.NumInputs())
	return nil
}

func (e *elementwise) apply(n *seg.Node, values []float64, f func(float64) float64) {
	for i, v := range n.AllInputs() {
		values[i] = f(v)
	}
}

func (e *elementwise) deltas(n *seg.Node, deriv func(in float64) float64) []float64 {
	inputs := n.AllInputs()
	for i, d := range n.Deltas() {
		e.inDeltas[i] = d * deriv(inputs[i])
	}

	return e.inDeltas
}

// ****************************************
// ReLU
// ****************************************

type relu struct {
	elementwise
}

// ReLU returns the standard rectified linear unit, which implements forestseg.Operator.
func ReLU() *relu {
	return new(relu)
}

func (t *relu) TypeString() string {
	return "relu"
}

func (t *relu) Get() interface{} {
	return struct{}{}
}

func (t *relu) Blank() interface{} {
	return &struct{}{}
}

func (t *relu) Evaluate(n *seg.Node, values []float64) {
	t.apply(n, values, func(x float64) float64 {
		if x > 0 {
			return x
		}
		return 0
	})
}

func (t *relu) InputDeltas(n *seg.Node) []float64 {
	return t.deltas(n, func(x float64) float64 {
		if x > 0 {
			return 1
		}
		return 0
	})
}

// ****************************************
// Leaky ReLU
// ****************************************

type lrelu struct {
	elementwise
	Alpha float64
}

// LeakyReLU returns a standard 'leaky ReLU', where the leaky factor is given by alpha. The
// default used by the registry can be set by SetDefault("leaky-relu-alpha").
func LeakyReLU(alpha float64) *lrelu {
	return &lrelu{Alpha: alpha}
}

func (t *lrelu) TypeString() string {
	return "leaky-relu"
}

func (t *lrelu) Get() interface{} {
	return *t
}

func (t *lrelu) Blank() interface{} {
	return t
}

func (t *lrelu) Evaluate(n *seg.Node, values []float64) {
	t.apply(n, values, func(x float64) float64 {
		if x < 0 {
			return t.Alpha * x
		}
		return x
	})
}

func (t *lrelu) InputDeltas(n *seg.Node) []float64 {
	return t.deltas(n, func(x float64) float64 {
		if x < 0 {
			return t.Alpha
		}
		return 1
	})
}
