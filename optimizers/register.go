package optimizers

import (
	"math"

	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

func init() {
	list := []interface{}{
		func() seg.Optimizer { return GradientDescent() },
		func() seg.Optimizer { return Adam() },
	}

	if err := seg.RegisterAll(list); err != nil {
		panic(err)
	}

	seg.SetDefaultOptimizer(func() seg.Optimizer { return Adam() })
}

var defaultValue = map[string]float64{
	"adam-beta1":   0.9,
	"adam-beta2":   0.999,
	"adam-epsilon": 1e-8,
}

// SetDefault sets the default constants of new Optimizers. The values that can be set are:
// "adam-beta1", "adam-beta2", and "adam-epsilon".
func SetDefault(name string, value float64) error {
	if _, ok := defaultValue[name]; !ok {
		return errors.Errorf("Value with name %q does not exist", name)
	} else if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.Errorf("Value is invalid (%v)", value)
	}

	defaultValue[name] = value
	return nil
}

// ByName returns a constructor of the Optimizer with the given name, "adam" or "sgd". Every
// Node needs its own Optimizer, so a constructor is returned rather than a value.
func ByName(name string) (func() seg.Optimizer, error) {
	switch name {
	case Adam().TypeString():
		return func() seg.Optimizer { return Adam() }, nil
	case SGD().TypeString():
		return func() seg.Optimizer { return SGD() }, nil
	default:
		return nil, errors.Errorf("Optimizer %q does not exist", name)
	}
}
