package costfuncs

import (
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

func init() {
	list := []interface{}{
		func() seg.CostFunction { return DiceBCE(0.5, 0.5) },
		func() seg.CostFunction { return Dice(1) },
		func() seg.CostFunction { return BCE() },
	}

	if err := seg.RegisterAll(list); err != nil {
		panic(err)
	}
}

// ByName returns the loss with the given name. The weights are only used by "dice-bce".
func ByName(name string, bceWeight, diceWeight float64) (seg.CostFunction, error) {
	switch name {
	case "dice-bce":
		return DiceBCE(bceWeight, diceWeight), nil
	case "dice":
		return Dice(1), nil
	case "bce-logits":
		return BCE(), nil
	default:
		return nil, errors.Errorf("Loss %q does not exist", name)
	}
}
