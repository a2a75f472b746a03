package penalties

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// **********************************************
// L1 (Lasso)
// **********************************************

type l1 struct {
	Lambda float64
}

// L1 adds λ·|w| to the cost of each weight. λ is a small value close to 0 where λ > 0.
func L1(λ float64) *l1 {
	return &l1{λ}
}

// Lasso is the same as L1.
func Lasso(λ float64) *l1 {
	return L1(λ)
}

func (p *l1) TypeString() string {
	return "l1-lasso"
}

func (p *l1) Penalize(ws, grads []float64) {
	for i, w := range ws {
		if w != 0 {
			grads[i] += p.Lambda * math.Copysign(1, w)
		}
	}
}

// **********************************************
// L2 (Ridge)
// **********************************************

type l2 struct {
	Lambda float64
}

// L2 adds λ·w² to the cost of each weight. λ is a small value close to 0 where λ > 0.
func L2(λ float64) *l2 {
	return &l2{λ}
}

// Ridge is the same as L2.
func Ridge(λ float64) *l2 {
	return L2(λ)
}

// WeightDecay returns the L2 penalty whose gradient is decay·w, the same as the weight decay
// option of most optimizers.
func WeightDecay(decay float64) *l2 {
	return L2(decay / 2)
}

func (p *l2) TypeString() string {
	return "l2-ridge"
}

func (p *l2) Penalize(ws, grads []float64) {
	floats.AddScaled(grads, 2*p.Lambda, ws)
}
