package forestseg

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// evaluate sets the values of every Node from the given inputs. Nodes are stored in an order
// where every input comes before the Nodes using it, so a single pass is enough.
func (net *Network) evaluate(inputs []float64) error {
	if net.stat < finalized {
		return ErrNotFinalized
	} else if len(inputs) != net.InputSize() {
		return SizeMismatchError{"inputs", len(inputs), net.InputSize()}
	}

	copy(net.input.values, inputs)

	for _, n := range net.nodesByID {
		if n.IsInput() {
			continue
		}

		if n.inputBuf != nil {
			start := 0
			for i, in := range n.inputs {
				copy(n.inputBuf[start:n.sumVals[i]], in.values)
				start = n.sumVals[i]
			}
		}

		n.op.Evaluate(n, n.values)
	}

	return nil
}

// GetOutputs returns a copy of the outputs of the Network for the given inputs.
func (net *Network) GetOutputs(inputs []float64) ([]float64, error) {
	if err := net.evaluate(inputs); err != nil {
		return nil, errors.Wrapf(err, "Failed to evaluate Network")
	}

	outs := make([]float64, net.OutputSize())
	copy(outs, net.output.values)
	return outs, nil
}

// backpropagate calculates the deltas of every Node that needs them, starting from the output,
// and adds the gradients of each weight to the accumulated gradients of the batch.
func (net *Network) backpropagate(outDeltas []float64) {
	for _, n := range net.nodesByID {
		if n.needsDeltas {
			for i := range n.deltas {
				n.deltas[i] = 0
			}
		}
	}

	copy(net.output.deltas, outDeltas)

	for i := len(net.nodesByID) - 1; i >= 0; i-- {
		n := net.nodesByID[i]
		if n.IsInput() || !n.needsDeltas {
			continue
		}

		if n.adj != nil {
			n.adj.Grad(n, n.grads)
		}

		if !n.calcInDeltas {
			continue
		}

		ds := n.op.InputDeltas(n)
		start := 0
		for j, in := range n.inputs {
			if in.needsDeltas {
				floats.Add(in.deltas, ds[start:n.sumVals[j]])
			}
			start = n.sumVals[j]
		}
	}
}

// Correct runs the Network on a single sample and accumulates the gradients of its weights. If
// 'saveChanges' is true, the adjustments will not be implemented immediately, and will instead
// wait until AddWeights is called. The accumulated gradients are averaged over the number of
// samples when they are applied.
func (net *Network) Correct(inputs, targets []float64, saveChanges bool) (cost float64, outs []float64, err error) {
	if outs, err = net.GetOutputs(inputs); err != nil {
		err = errors.Wrapf(err, "Getting outputs failed")
		return
	} else if len(targets) != len(outs) {
		err = SizeMismatchError{"targets", len(targets), len(outs)}
		return
	}

	cost = net.cf.Cost(outs, targets)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		err = errors.Errorf("Cost is not finite (%v)", cost)
		return
	}

	net.backpropagate(net.cf.Derivs(outs, targets))
	net.pending++

	if !saveChanges {
		err = net.AddWeights()
	}

	return
}

// AddWeights applies the gradients that have been accumulated since the last call: they are
// averaged, clipped to the global norm, penalized and handed to each Node's Optimizer. It does
// nothing if there are no accumulated gradients.
func (net *Network) AddWeights() error {
	if net.stat < finalized {
		return ErrNotFinalized
	} else if net.pending == 0 {
		return nil
	}

	scale := 1 / float64(net.pending)
	var sumSq float64
	for _, n := range net.nodesByID {
		if n.adj == nil {
			continue
		}

		floats.Scale(scale, n.grads)
		norm := floats.Norm(n.grads, 2)
		sumSq += norm * norm
	}

	total := math.Sqrt(sumSq)
	if math.IsNaN(total) || math.IsInf(total, 0) {
		net.ZeroGrads()
		return errors.Errorf("Gradient norm is not finite (%v)", total)
	}

	if net.clipNorm > 0 && total > net.clipNorm {
		clip := net.clipNorm / (total + 1e-6)
		for _, n := range net.nodesByID {
			if n.adj != nil {
				floats.Scale(clip, n.grads)
			}
		}
	}

	for _, n := range net.nodesByID {
		if n.adj == nil {
			continue
		}

		if err := n.step(); err != nil {
			return errors.Wrapf(err, "Failed to adjust weights of node %v", n)
		}
	}

	net.ZeroGrads()
	net.iter++
	return nil
}

func (n *Node) step() error {
	if n.opt == nil {
		return errors.Errorf("Node has no Optimizer")
	}

	for _, name := range n.opt.Needs() {
		if n.HP(name) == nil {
			return errors.Errorf("Missing HyperParameter %q for Optimizer %q", name, n.opt.TypeString())
		}
	}

	ws := n.adj.Weights()
	if n.pen != nil {
		n.pen.Penalize(ws, n.grads)
	}

	grad := func(i int) float64 { return n.grads[i] }
	add := func(i int, v float64) { ws[i] += v }
	return n.opt.Run(n, len(ws), grad, add)
}

// ZeroGrads discards any gradients that have been accumulated but not applied.
func (net *Network) ZeroGrads() {
	for _, n := range net.nodesByID {
		for i := range n.grads {
			n.grads[i] = 0
		}
	}

	net.pending = 0
}

// Snapshot returns a copy of every weight in the Network, by Node name.
func (net *Network) Snapshot() map[string][]float64 {
	snap := make(map[string][]float64)
	for _, n := range net.nodesByID {
		if n.adj != nil {
			snap[n.name] = append([]float64(nil), n.adj.Weights()...)
		}
	}

	return snap
}

// Restore copies weights from a Snapshot back into the Network.
func (net *Network) Restore(snap map[string][]float64) error {
	for _, n := range net.nodesByID {
		if n.adj == nil {
			continue
		}

		ws, ok := snap[n.name]
		if !ok {
			return errors.Errorf("Can't restore weights, snapshot has no weights for node %v", n)
		} else if len(ws) != len(n.adj.Weights()) {
			return errors.Wrapf(SizeMismatchError{"weights of node " + n.String(), len(ws), len(n.adj.Weights())}, "Can't restore weights")
		}
	}

	for _, n := range net.nodesByID {
		if n.adj != nil {
			copy(n.adj.Weights(), snap[n.name])
		}
	}

	return nil
}
