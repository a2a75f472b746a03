package forestseg

import (
	"github.com/pkg/errors"
)

var (
	operatorsByType     = make(map[string]func() Operator)
	optimizersByType    = make(map[string]func() Optimizer)
	hyperParamsByType   = make(map[string]func() HyperParameter)
	penaltiesByType     = make(map[string]func() Penalty)
	costFunctionsByType = make(map[string]func() CostFunction)
)

// Register adds a constructor so that its type can be created by name, as is required for
// loading checkpoints. The argument must be one of: func() Operator, func() Optimizer,
// func() HyperParameter, func() Penalty, or func() CostFunction. The name is taken from the
// TypeString of the value it returns.
func Register(f interface{}) error {
	switch c := f.(type) {
	case func() Operator:
		v := c()
		if v == nil {
			return ErrRegisterNilReturn
		}
		return add(operatorsByType, v.TypeString(), c)
	case func() Optimizer:
		v := c()
		if v == nil {
			return ErrRegisterNilReturn
		}
		return add(optimizersByType, v.TypeString(), c)
	case func() HyperParameter:
		v := c()
		if v == nil {
			return ErrRegisterNilReturn
		}
		return add(hyperParamsByType, v.TypeString(), c)
	case func() Penalty:
		v := c()
		if v == nil {
			return ErrRegisterNilReturn
		}
		return add(penaltiesByType, v.TypeString(), c)
	case func() CostFunction:
		v := c()
		if v == nil {
			return ErrRegisterNilReturn
		}
		return add(costFunctionsByType, v.TypeString(), c)
	default:
		return ErrRegisterWrongType
	}
}

// RegisterAll calls Register on every element of the list, stopping at the first error.
func RegisterAll(list []interface{}) error {
	for i, f := range list {
		if err := Register(f); err != nil {
			return errors.Wrapf(err, "Failed to register element %d", i)
		}
	}

	return nil
}

func add[T any](m map[string]func() T, name string, f func() T) error {
	if name == "" {
		return errors.Errorf(`Can't register type with name ""`)
	} else if _, ok := m[name]; ok {
		return errors.Errorf("Type %q is already registered", name)
	}

	m[name] = f
	return nil
}

// NewOperator returns a new Operator of the registered type.
func NewOperator(typ string) (Operator, error) {
	f, ok := operatorsByType[typ]
	if !ok {
		return nil, errors.Errorf("Operator type %q is not registered", typ)
	}

	return f(), nil
}

// NewOptimizer returns a new Optimizer of the registered type.
func NewOptimizer(typ string) (Optimizer, error) {
	f, ok := optimizersByType[typ]
	if !ok {
		return nil, errors.Errorf("Optimizer type %q is not registered", typ)
	}

	return f(), nil
}

// NewHyperParameter returns a new HyperParameter of the registered type.
func NewHyperParameter(typ string) (HyperParameter, error) {
	f, ok := hyperParamsByType[typ]
	if !ok {
		return nil, errors.Errorf("HyperParameter type %q is not registered", typ)
	}

	return f(), nil
}

// NewPenalty returns a new Penalty of the registered type.
func NewPenalty(typ string) (Penalty, error) {
	f, ok := penaltiesByType[typ]
	if !ok {
		return nil, errors.Errorf("Penalty type %q is not registered", typ)
	}

	return f(), nil
}

// NewCostFunction returns a new CostFunction of the registered type.
func NewCostFunction(typ string) (CostFunction, error) {
	f, ok := costFunctionsByType[typ]
	if !ok {
		return nil, errors.Errorf("CostFunction type %q is not registered", typ)
	}

	return f(), nil
}
