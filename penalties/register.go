package penalties

import (
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

func init() {
	list := []interface{}{
		func() seg.Penalty { return ElasticNet(0, 0) },
		func() seg.Penalty { return L1(0) },
		func() seg.Penalty { return L2(0) },
	}

	if err := seg.RegisterAll(list); err != nil {
		panic(err)
	}
}

// ByName returns the Penalty registered under 'name' with strength λ. For "elastic-net", the
// ratio between L1 and L2 is 0.5. An empty name or "none" gives nil, which applies no penalty.
func ByName(name string, λ float64) (seg.Penalty, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "weight-decay":
		return WeightDecay(λ), nil
	case L1(0).TypeString():
		return L1(λ), nil
	case L2(0).TypeString():
		return L2(λ), nil
	case ElasticNet(0, 0).TypeString():
		return ElasticNet(0.5, λ), nil
	default:
		return nil, errors.Errorf("Penalty %q does not exist", name)
	}
}
