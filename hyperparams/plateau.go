package hyperparams

import (
	"math"
)

type plateau struct {
	value float64

	factor    float64
	patience  int
	threshold float64
	min       float64

	best float64
	bad  int
}

// Plateau returns a HyperParameter that starts at 'base' and is multiplied by a factor whenever
// the observed metric (a loss, so lower is better) has not improved for more than 'patience'
// epochs. It implements forestseg.Reactive; the metric is given through Observe.
//
// An observation counts as an improvement if it is below the best so far by more than the
// relative threshold (1e-4 by default). The factor defaults to 0.5.
func Plateau(base float64, patience int) *plateau {
	return &plateau{
		value:     base,
		factor:    0.5,
		patience:  patience,
		threshold: 1e-4,
		best:      math.Inf(1),
	}
}

// Factor sets the number the value is multiplied by at each reduction.
func (p *plateau) Factor(f float64) *plateau {
	p.factor = f
	return p
}

// Threshold sets the relative amount the metric must fall by to count as an improvement.
func (p *plateau) Threshold(t float64) *plateau {
	p.threshold = t
	return p
}

// Min sets the lowest value the HyperParameter can be reduced to.
func (p *plateau) Min(m float64) *plateau {
	p.min = m
	return p
}

func (p *plateau) TypeString() string {
	return "plateau"
}

func (p *plateau) Value(iter int) float64 {
	return p.value
}

func (p *plateau) Observe(metric float64) {
	if metric < p.best*(1-p.threshold) {
		p.best = metric
		p.bad = 0
		return
	}

	p.bad++
	if p.bad > p.patience {
		p.value = math.Max(p.value*p.factor, p.min)
		p.bad = 0
	}
}
