package forestseg

// Operator is the computation performed by a single Node. All Operators work on planar image
// tensors: the values of a Node with dimensions {width, height, channels} are stored with x
// changing fastest, then y, then channel.
//
// A Node with more than one input sees its inputs concatenated in the order they were given,
// which stacks their channels. All inputs to a Node must share width and height.
type Operator interface {
	// TypeString returns the name the Operator is registered under. It is also the name written
	// to checkpoints.
	TypeString() string

	// OutputDims returns the dimensions of the Node's values, given the combined dimensions of
	// its inputs.
	OutputDims(inputDims []int) ([]int, error)

	// Finalize is called once the dimensions of the Node are known and before any evaluation.
	// Operators that were loaded from a checkpoint will already have their weights set.
	Finalize(*Node) error

	// Evaluate sets the values of the Node from its inputs, available through n.AllInputs().
	Evaluate(n *Node, values []float64)

	// InputDeltas returns the derivative of the cost with respect to each of the concatenated
	// input values, given n.Deltas(). The returned slice may be reused by the Operator.
	InputDeltas(n *Node) []float64

	// Get returns the serializable state of the Operator, to be stored in checkpoints.
	Get() interface{}

	// Blank returns a pointer that the value from Get can be decoded into.
	Blank() interface{}
}

// Adjustable is an Operator with weights.
type Adjustable interface {
	Operator

	// Weights returns the weights of the Operator. The slice is modified directly by the
	// Network when training.
	Weights() []float64

	// Grad adds the gradient of each weight for the current sample to grads, which has the same
	// length as Weights.
	Grad(n *Node, grads []float64)
}

// Fanner is optionally implemented by Adjustable Operators whose weights are not fully connected,
// so that Initializers can scale by the true fan-in and fan-out of a single weight.
type Fanner interface {
	Fans() (in, out int)
}

// BiasResetter is optionally implemented by Adjustable Operators that want their biases set to
// zero after their weights have been initialized.
type BiasResetter interface {
	ResetBiases()
}

// Optimizer is the update rule for the weights of a single Node.
type Optimizer interface {
	TypeString() string

	// Needs returns the names of the HyperParameters the Optimizer reads from its Node.
	Needs() []string

	// Run applies one update. 'grad' gives the gradient of the weight at an index, 'add' adds to
	// the weight at an index. The number of weights can be 0.
	Run(n *Node, size int, grad func(int) float64, add func(int, float64)) error
}

// HyperParameter is a value that may change over the course of training, such as a learning
// rate.
type HyperParameter interface {
	TypeString() string

	// Value returns the value of the HyperParameter given the iteration (number of weight
	// updates) of the Network.
	Value(iter int) float64
}

// Reactive is implemented by HyperParameters that change in response to a monitored metric,
// rather than to the iteration.
type Reactive interface {
	HyperParameter

	// Observe records the monitored metric at the end of an epoch.
	Observe(metric float64)
}

// Initializer sets the starting weights of a Node.
type Initializer interface {
	Set(n *Node, ws []float64)
}

// Penalty adds a regularization term to the gradients of a Node, before the Optimizer runs.
type Penalty interface {
	TypeString() string

	// Penalize adds the gradient of the penalty to grads.
	Penalize(ws, grads []float64)
}

// CostFunction measures the outputs of the Network against the targets. Both slices always have
// the same length.
type CostFunction interface {
	TypeString() string

	Cost(outs, targets []float64) float64

	// Derivs returns the derivative of the cost with respect to each output.
	Derivs(outs, targets []float64) []float64
}

// Serializable is implemented by CostFunctions that have configuration to store in checkpoints.
type Serializable interface {
	Get() interface{}
	Blank() interface{}
}
