package operators

import (
	"math"

	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

func init() {
	list := []interface{}{
		func() seg.Operator { return LeakyReLU(defaultValue["leaky-relu-alpha"]) },
		func() seg.Operator { return Upsample(2) },
		func() seg.Operator { return MaxPool(2) },
		func() seg.Operator { return Conv(1) },
		func() seg.Operator { return ReLU() },
	}

	if err := seg.RegisterAll(list); err != nil {
		panic(err)
	}
}

var defaultValue = map[string]float64{
	"conv-kernel":      3,
	"conv-padding":     1,
	"leaky-relu-alpha": 0.01,
}

// SetDefault sets the default values for certain Operators. The values that can be set are:
// "conv-kernel", "conv-padding", and "leaky-relu-alpha".
func SetDefault(name string, value float64) error {
	if _, ok := defaultValue[name]; !ok {
		return errors.Errorf("Value with name %q does not exist", name)
	} else if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.Errorf("Value is invalid (%v)", value)
	}

	defaultValue[name] = value
	return nil
}

// SetDefault_Lazy simply calls SetDefault, but panics instead of returning an error
func SetDefault_Lazy(name string, value float64) {
	if err := SetDefault(name, value); err != nil {
		panic(err)
	}
}
