package forestseg

import (
	"fmt"
)

// String returns the name of the Node, quoted.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}

	return fmt.Sprintf("%q", n.name)
}

// Name returns the name the Node was given when it was added.
func (n *Node) Name() string {
	return n.name
}

// ID returns the position of the Node in the order it was added.
func (n *Node) ID() int {
	return n.id
}

// Operator returns the Operator of the Node, or nil for the input.
func (n *Node) Operator() Operator {
	return n.op
}

// Size returns the number of values of the Node.
func (n *Node) Size() int {
	return len(n.values)
}

// Dims returns a copy of the dimensions of the Node: {width, height, channels}.
func (n *Node) Dims() []int {
	return copyInts(n.dims.Dims)
}

// InputDims returns the combined dimensions of the inputs, with their channels stacked.
func (n *Node) InputDims() []int {
	if len(n.inputs) == 0 {
		return nil
	}

	d := []int{n.inputs[0].dims.Dim(0), n.inputs[0].dims.Dim(1), 0}
	for _, in := range n.inputs {
		d[2] += in.dims.Dim(2)
	}

	return d
}

// NumInputs returns the total number of input values to the Node.
func (n *Node) NumInputs() int {
	if len(n.sumVals) == 0 {
		return 0
	}

	return n.sumVals[len(n.sumVals)-1]
}

// Inputs returns the Nodes that feed into this one, in order.
func (n *Node) Inputs() []*Node {
	return append([]*Node(nil), n.inputs...)
}

// Fans returns the number of inputs and outputs connected to a single weight of the Node. If
// the Operator does not implement Fanner, they are the total numbers of input and output values.
func (n *Node) Fans() (int, int) {
	if f, ok := n.op.(Fanner); ok {
		return f.Fans()
	}

	return n.NumInputs(), n.Size()
}

// IsInput returns whether or not the Node is the input of the Network.
func (n *Node) IsInput() bool {
	return len(n.inputs) == 0
}

// IsOutput returns whether or not the Node is the output of the Network.
func (n *Node) IsOutput() bool {
	return n.host.output == n
}

// Value returns the value of the Node at the index.
func (n *Node) Value(index int) float64 {
	return n.values[index]
}

// Values returns the values of the Node. The slice should not be modified.
func (n *Node) Values() []float64 {
	return n.values
}

// Delta returns the derivative of the cost with respect to the value at the index, for the most
// recent sample.
func (n *Node) Delta(index int) float64 {
	return n.deltas[index]
}

// Deltas returns all of the deltas of the Node. The slice should not be modified.
func (n *Node) Deltas() []float64 {
	return n.deltas
}

// AllInputs returns the values of all inputs to the Node, concatenated. The slice should not be
// modified.
func (n *Node) AllInputs() []float64 {
	if len(n.inputs) == 1 {
		return n.inputs[0].values
	}

	return n.inputBuf
}

// InputValue returns the value of the concatenated inputs at the index.
func (n *Node) InputValue(index int) float64 {
	return n.AllInputs()[index]
}

// HP returns the HyperParameter of the given name for the Node, falling back to the one set on
// the Network. It returns nil if neither has one.
func (n *Node) HP(name string) HyperParameter {
	if hp, ok := n.hyperParams[name]; ok {
		return hp
	}

	return n.host.hyperParams[name]
}

// HPValue returns the current value of the named HyperParameter. It panics if the HyperParameter
// does not exist, which is checked before Optimizers are run.
func (n *Node) HPValue(name string) float64 {
	return n.HP(name).Value(n.host.iter)
}

// Optimizer returns the Optimizer of the Node, nil if it has no weights or none has been set.
func (n *Node) Optimizer() Optimizer {
	return n.opt
}

// Penalty returns the Penalty of the Node, if any.
func (n *Node) Penalty() Penalty {
	return n.pen
}

// Input returns the input Node of the Network.
func (net *Network) Input() *Node {
	return net.input
}

// Output returns the output Node of the Network, once it has been finalized.
func (net *Network) Output() *Node {
	return net.output
}

// InputSize returns the number of values expected as input.
func (net *Network) InputSize() int {
	if net.input == nil {
		return 0
	}

	return net.input.Size()
}

// OutputSize returns the number of values produced by the Network.
func (net *Network) OutputSize() int {
	if net.output == nil {
		return 0
	}

	return net.output.Size()
}

// Node returns the Node with the given name, or nil if there is none.
func (net *Network) Node(name string) *Node {
	return net.nodesByName[name]
}

// Nodes returns all of the Nodes in the Network in the order they were added.
func (net *Network) Nodes() []*Node {
	return append([]*Node(nil), net.nodesByID...)
}

// CostFunction returns the CostFunction given at Finalize.
func (net *Network) CostFunction() CostFunction {
	return net.cf
}

// Iter returns the number of weight updates that have been applied to the Network.
func (net *Network) Iter() int {
	return net.iter
}

// NumParams returns the total number of weights in the Network.
func (net *Network) NumParams() int {
	total := 0
	for _, n := range net.nodesByID {
		if n.adj != nil {
			total += len(n.adj.Weights())
		}
	}

	return total
}

// HyperParameters returns every distinct HyperParameter attached to the Network and its Nodes.
func (net *Network) HyperParameters() []HyperParameter {
	var list []HyperParameter
	seen := make(map[HyperParameter]bool)
	add := func(hp HyperParameter) {
		if !seen[hp] {
			seen[hp] = true
			list = append(list, hp)
		}
	}

	for _, name := range sortedKeys(net.hyperParams) {
		add(net.hyperParams[name])
	}
	for _, n := range net.nodesByID {
		for _, name := range sortedKeys(n.hyperParams) {
			add(n.hyperParams[name])
		}
	}

	return list
}

// Observe passes the monitored metric to every Reactive HyperParameter of the Network.
func (net *Network) Observe(metric float64) {
	for _, hp := range net.HyperParameters() {
		if r, ok := hp.(Reactive); ok {
			r.Observe(metric)
		}
	}
}
