package penalties

import (
	"math"
)

type elasticNet struct {
	Alpha  float64
	Lambda float64
}

// λ is a small value close to 0 where λ > 0,
// α is a value that controls the ratio between L1 and L2
// Regularization, where 0 ≤ a ≤ 1. a = 1 is functionally identical to L1 and a = 0 is equivalent to
// L2.
func ElasticNet(α, λ float64) *elasticNet {
	return &elasticNet{α, λ}
}

func (p *elasticNet) TypeString() string {
	return "elastic-net"
}

func (p *elasticNet) Penalize(ws, grads []float64) {
	for i, w := range ws {
		g := (1 - p.Alpha) * 2 * w
		if w != 0 {
			g += p.Alpha * math.Copysign(1, w)
		}

		grads[i] += p.Lambda * g
	}
}
