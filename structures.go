package forestseg

import (
	"github.com/sharnoff/forestseg/utils"
)

// Network is the main structure that is used to learn to map images to per-pixel outputs. It is
// a feed-forward graph of Nodes with a single input and a single output.
type Network struct {
	// a list of all of the Nodes, stored such that their id is their index in this slice. Because
	// inputs must exist before the Nodes using them, this is also a topological order.
	nodesByID   []*Node
	nodesByName map[string]*Node

	input, output *Node

	err error

	cf CostFunction

	defaultInit Initializer
	defaultOpt  func() Optimizer
	defaultPen  Penalty
	hyperParams map[string]HyperParameter

	// clipNorm is the maximum global L2 norm of the gradients at each update. Zero disables
	// clipping.
	clipNorm float64

	// iter is the number of weight updates that have been applied.
	iter int

	// pending is the number of samples whose gradients have been accumulated but not applied
	pending int

	stat status
}

// Nodes are the fundamental building blocks with which the Network is built. Each Node has an
// Operator that determines how it computes its values from those that it receives as input.
type Node struct {
	name string

	// used for order identification of which nodes were added first
	id int

	// used for validation during setup
	host *Network

	inputs  []*Node
	outputs []*Node

	// sumVals[i] is the total size of inputs[0..i]
	sumVals []int

	op  Operator
	adj Adjustable // nil if op has no weights

	opt  Optimizer
	pen  Penalty
	init Initializer

	// loaded is true if the weights came from a checkpoint and must not be initialized
	loaded bool

	hyperParams map[string]HyperParameter

	dims *utils.MultiDim

	values []float64
	deltas []float64

	// concatenated input values; only allocated if there is more than one input
	inputBuf []float64

	// gradients of the weights, accumulated over the current batch
	grads []float64

	// whether or not the deltas of this Node are needed by anything it depends on
	needsDeltas bool

	// whether or not the input deltas need to be calculated. Determined purely by inputs' need to
	// have deltas calculated
	calcInDeltas bool

	// general purpose marker used during finalization
	completed bool
}

type status int8

const (
	initialized status = iota
	finalized
)
