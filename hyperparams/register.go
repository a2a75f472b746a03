package hyperparams

import (
	seg "github.com/sharnoff/forestseg"
)

func init() {
	// the values given here are placeholders
	list := []interface{}{
		func() seg.HyperParameter { return Constant(0) },
		func() seg.HyperParameter { return Step(0) },
		func() seg.HyperParameter { return Plateau(0, 0) },
	}

	if err := seg.RegisterAll(list); err != nil {
		panic(err)
	}
}
