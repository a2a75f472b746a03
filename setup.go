package forestseg

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/utils"
)

var defaultInitializer Initializer
var defaultOptimizer func() Optimizer

// SetDefaultInitializer sets the Initializer used by Networks that have not been given one, for
// Nodes that have not been given one. It is set by importing the subpackage "initializers".
func SetDefaultInitializer(i Initializer) {
	defaultInitializer = i
}

// SetDefaultOptimizer sets the function used to create Optimizers for Nodes that have not been
// given one. It is set by importing the subpackage "optimizers".
func SetDefaultOptimizer(f func() Optimizer) {
	defaultOptimizer = f
}

func (net *Network) init() {
	if net.nodesByName != nil {
		return
	}

	net.nodesByName = make(map[string]*Node)
	net.hyperParams = make(map[string]HyperParameter)
}

// Error returns the first error encountered while building the Network. Once an error has been
// set, all further construction methods do nothing.
func (net *Network) Error() error {
	return net.err
}

func (net *Network) setErr(err error) {
	if net.err == nil {
		net.err = err
	}
}

func (net *Network) newNode(name string) (*Node, error) {
	net.init()

	if net.stat >= finalized {
		return nil, ErrFinalized
	} else if name == "" {
		return nil, errors.Errorf(`Name cannot be ""`)
	} else if strings.Contains(name, `"`) {
		return nil, errors.Errorf(`Name contains illegal character:"`)
	} else if net.nodesByName[name] != nil {
		return nil, errors.Errorf("Name %q is already taken", name)
	}

	n := &Node{
		name:        name,
		host:        net,
		id:          len(net.nodesByID),
		hyperParams: make(map[string]HyperParameter),
	}

	return n, nil
}

func (net *Network) place(n *Node) {
	size := n.dims.Size()
	n.values = make([]float64, size)
	n.deltas = make([]float64, size)

	net.nodesByName[n.name] = n
	net.nodesByID = append(net.nodesByID, n)
}

// AddInput adds the input Node of the Network, with dimensions {width, height, channels}. There
// can only be one. AddInput returns nil if there was an error, which can be retrieved by
// net.Error().
func (net *Network) AddInput(name string, dims ...int) *Node {
	if net.err != nil {
		return nil
	}

	n, err := net.newNode(name)
	if err != nil {
		net.setErr(errors.Wrapf(err, "Can't add input %q", name))
		return nil
	} else if net.input != nil {
		net.setErr(errors.Errorf("Can't add input %q, Network already has input %v", name, net.input))
		return nil
	} else if err := checkDims(dims); err != nil {
		net.setErr(errors.Wrapf(err, "Can't add input %q", name))
		return nil
	}

	n.dims = utils.NewMultiDim(copyInts(dims))
	net.place(n)
	net.input = n
	return n
}

// Add adds a new Node to the Network, with the given Operator and inputs. The inputs must all
// belong to the Network and share width and height; their channels are stacked in the order
// given.
//
// Add returns nil if there was an error, which can be retrieved by net.Error(). Passing the nil
// result on to further calls is safe.
func (net *Network) Add(name string, op Operator, inputs ...*Node) *Node {
	if net.err != nil {
		return nil
	}

	n, err := net.newNode(name)
	if err != nil {
		net.setErr(errors.Wrapf(err, "Can't add node %q", name))
		return nil
	} else if op == nil {
		net.setErr(errors.Wrapf(NilArgError{"Operator"}, "Can't add node %q", name))
		return nil
	} else if len(inputs) == 0 {
		net.setErr(errors.Errorf("Can't add node %q, no inputs given", name))
		return nil
	}

	for i, in := range inputs {
		if in == nil {
			net.setErr(errors.Errorf("Can't add node %q, input %d is nil", name, i))
			return nil
		} else if in.host != net {
			net.setErr(errors.Errorf("Can't add node %q, input %d (%v) does not belong to the same Network", name, i, in))
			return nil
		}
	}

	n.inputs = append([]*Node(nil), inputs...)
	n.sumVals = make([]int, len(inputs))
	inDims := []int{inputs[0].dims.Dim(0), inputs[0].dims.Dim(1), 0}
	total := 0
	for i, in := range inputs {
		if in.dims.Dim(0) != inDims[0] || in.dims.Dim(1) != inDims[1] {
			net.setErr(errors.Errorf("Can't add node %q, input %v has dimensions %v, expected %dx%d", name, in, in.dims.Dims, inDims[0], inDims[1]))
			return nil
		}

		inDims[2] += in.dims.Dim(2)
		total += in.Size()
		n.sumVals[i] = total
	}

	outDims, err := op.OutputDims(inDims)
	if err != nil {
		net.setErr(errors.Wrapf(err, "Can't add node %q, Operator %q failed to give output dimensions", name, op.TypeString()))
		return nil
	} else if err := checkDims(outDims); err != nil {
		net.setErr(errors.Wrapf(err, "Can't add node %q, Operator %q gave invalid dimensions", name, op.TypeString()))
		return nil
	}

	n.op = op
	n.adj, _ = op.(Adjustable)
	n.dims = utils.NewMultiDim(copyInts(outDims))

	if len(inputs) > 1 {
		n.inputBuf = make([]float64, total)
	}

	net.place(n)
	for _, in := range inputs {
		in.outputs = append(in.outputs, n)
	}

	return n
}

// Opt sets the Optimizer of the Node. It is ignored for Nodes without weights.
func (n *Node) Opt(o Optimizer) *Node {
	if n == nil {
		return nil
	}

	n.opt = o
	return n
}

// Init sets the Initializer of the Node, overriding that of the Network.
func (n *Node) Init(i Initializer) *Node {
	if n == nil {
		return nil
	}

	n.init = i
	return n
}

// Pen sets the Penalty of the Node, overriding that of the Network.
func (n *Node) Pen(p Penalty) *Node {
	if n == nil {
		return nil
	}

	n.pen = p
	return n
}

// AddHP sets a HyperParameter of the Node, overriding any of the same name set on the Network.
func (n *Node) AddHP(name string, hp HyperParameter) *Node {
	if n == nil {
		return nil
	}

	n.hyperParams[name] = hp
	return n
}

// DefaultInit sets the Initializer for every Node in the Network that has not been given one.
func (net *Network) DefaultInit(i Initializer) *Network {
	net.defaultInit = i
	return net
}

// DefaultOpt sets the function creating Optimizers for every Node that has not been given one.
func (net *Network) DefaultOpt(f func() Optimizer) *Network {
	net.defaultOpt = f
	return net
}

// DefaultPen sets the Penalty for every Node in the Network that has not been given one.
func (net *Network) DefaultPen(p Penalty) *Network {
	net.defaultPen = p
	return net
}

// AddHP sets a HyperParameter for all Nodes that don't have their own of the same name.
func (net *Network) AddHP(name string, hp HyperParameter) *Network {
	net.init()
	net.hyperParams[name] = hp
	return net
}

// ClipNorm sets the maximum global L2 norm of the gradients applied at each update. A value of
// zero disables clipping.
func (net *Network) ClipNorm(max float64) *Network {
	net.clipNorm = max
	return net
}

// Finalize completes the structure of the Network, with the given CostFunction comparing the
// values of 'output' against targets. All Nodes must affect the output.
//
// Weights are initialized here, except for those loaded from a checkpoint.
func (net *Network) Finalize(cf CostFunction, output *Node) error {
	if net.err != nil {
		return net.err
	} else if net.stat >= finalized {
		return ErrFinalized
	} else if cf == nil {
		return errors.Wrapf(NilArgError{"CostFunction"}, "Can't finalize Network")
	} else if output == nil {
		return errors.Wrapf(NilArgError{"Output Node"}, "Can't finalize Network")
	} else if output.host != net {
		return errors.Errorf("Can't finalize Network, output node %v does not belong to this Network", output)
	} else if net.input == nil {
		return errors.Errorf("Can't finalize Network, no input has been added")
	} else if output.IsInput() {
		return errors.Errorf("Can't finalize Network, output node %v is also the input", output)
	}

	if err := net.checkOutput(output); err != nil {
		return err
	}

	defInit := net.defaultInit
	if defInit == nil {
		defInit = defaultInitializer
	}
	newOpt := net.defaultOpt
	if newOpt == nil {
		newOpt = defaultOptimizer
	}

	for _, n := range net.nodesByID {
		if n.IsInput() {
			continue
		}

		if err := n.op.Finalize(n); err != nil {
			return errors.Wrapf(err, "Failed to finalize Operator %q of node %v", n.op.TypeString(), n)
		}

		n.needsDeltas = n.adj != nil
		for _, in := range n.inputs {
			if in.needsDeltas {
				n.calcInDeltas = true
				n.needsDeltas = true
			}
		}

		if n.adj == nil {
			continue
		}

		n.grads = make([]float64, len(n.adj.Weights()))

		if n.pen == nil {
			n.pen = net.defaultPen
		}

		if n.opt == nil && newOpt != nil {
			n.opt = newOpt()
		}

		if n.loaded {
			continue
		}

		if n.init == nil {
			n.init = defInit
		}
		if n.init == nil {
			return errors.Errorf("Can't finalize Network, node %v has no Initializer and there is no default", n)
		}

		n.init.Set(n, n.adj.Weights())
		if r, ok := n.op.(BiasResetter); ok {
			r.ResetBiases()
		}
	}

	net.cf = cf
	net.output = output
	net.stat = finalized
	return nil
}

// checkOutput checks that all Nodes affect the output of the network
func (net *Network) checkOutput(output *Node) error {
	var mark func(*Node)
	mark = func(n *Node) {
		if n.completed {
			return
		}

		n.completed = true
		for _, in := range n.inputs {
			mark(in)
		}
	}

	mark(output)

	var err error
	for _, n := range net.nodesByID {
		if !n.completed && err == nil {
			err = errors.Errorf("Node %v does not affect Network output", n)
		}
		n.completed = false
	}

	return err
}

func checkDims(dims []int) error {
	if len(dims) != 3 {
		return errors.Errorf("Dimensions must be {width, height, channels}, got %v", dims)
	}

	for i, d := range dims {
		if d < 1 {
			return errors.Errorf("Dimension %d must be >= 1 (%d)", i, d)
		}
	}

	return nil
}

func copyInts(s []int) []int {
	c := make([]int, len(s))
	copy(c, s)
	return c
}
