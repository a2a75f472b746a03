package initializers

import (
	"math"
	"math/rand"
)

// gen is the source of all randomness in the package, so that weights can be reproduced
var gen = rand.New(rand.NewSource(1))

// Seed resets the random source used by every Initializer in the package. Initializers are not
// safe for concurrent use.
func Seed(seed int64) {
	gen = rand.New(rand.NewSource(seed))
}

// RNG is a distribution that weights can be drawn from.
type RNG interface {
	Gen() float64
}

type uniformRNG struct {
	Lower, Upper float64
}

// UniformRNG returns an RNG uniform over [lower, upper).
func UniformRNG(lower, upper float64) uniformRNG {
	if lower > upper {
		lower, upper = upper, lower
	}

	return uniformRNG{lower, upper}
}

func (u uniformRNG) Gen() float64 {
	return gen.Float64()*(u.Upper-u.Lower) + u.Lower
}

type truncNormal struct {
	Mean, SD float64

	// Trunc is the number of standard deviations kept on either side of the mean
	Trunc float64
}

// TruncNormal returns an RNG drawing from a normal distribution, redrawing anything farther than
// two standard deviations from the mean.
func TruncNormal(mean, sd float64) truncNormal {
	return truncNormal{mean, sd, 2}
}

func (t truncNormal) Gen() float64 {
	for {
		v := gen.NormFloat64()
		if math.Abs(v) > t.Trunc {
			continue
		}

		return v*t.SD + t.Mean
	}
}
