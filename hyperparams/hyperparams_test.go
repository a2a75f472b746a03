package hyperparams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep(t *testing.T) {
	s := Step(1).At(20, 0.25).At(10, 0.5)

	assert.Equal(t, 1.0, s.Value(0))
	assert.Equal(t, 1.0, s.Value(9))
	assert.Equal(t, 0.5, s.Value(10))
	assert.Equal(t, 0.5, s.Value(19))
	assert.Equal(t, 0.25, s.Value(100))

	// a second change at the same iteration replaces the first
	s.At(10, 0.4).At(0, 2)
	assert.Equal(t, 2.0, s.Value(0))
	assert.Equal(t, 0.4, s.Value(15))
	assert.Len(t, s.Changes, 3)
}

func TestPlateauHalvesAfterPatience(t *testing.T) {
	p := Plateau(1e-3, 3)

	p.Observe(1.0)
	assert.Equal(t, 1e-3, p.Value(0))

	// three epochs without improvement are tolerated
	for i := 0; i < 3; i++ {
		p.Observe(1.0)
		assert.Equal(t, 1e-3, p.Value(0))
	}

	p.Observe(1.0)
	assert.InDelta(t, 5e-4, p.Value(0), 1e-12)

	// an improvement resets the count
	p.Observe(0.5)
	for i := 0; i < 3; i++ {
		p.Observe(0.6)
	}
	assert.InDelta(t, 5e-4, p.Value(0), 1e-12)
}

func TestPlateauMin(t *testing.T) {
	p := Plateau(1, 0).Factor(0.1).Min(0.05)

	p.Observe(1)
	p.Observe(1)
	p.Observe(1)
	assert.Equal(t, 0.05, p.Value(0))
}
