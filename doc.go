// Package forestseg provides the small neural network framework used to segment satellite tiles
// into forest and non-forest pixels, along with its subpackages for the rest of the pipeline.
//
// Creating Networks
//
// The center of all training is the Network, initialized by:
//
//		net := new(forestseg.Network)
//
// Networks consist of graphs of Nodes, which are analogous to the typical layer or activation
// function. Each Node has an Operator, which determines its values and the backpropagation
// through it. The values of every Node are an image tensor with dimensions {width, height,
// channels}. Nodes are added in order, with their inputs:
//
//		in := net.AddInput("image", 256, 256, 4)
//		c := net.Add("conv", operators.Conv(16), in)
//		r := net.Add("relu", operators.ReLU(), c)
//		out := net.Add("logits", operators.Conv(1).Kernel(1).Pad(0), r)
//
//		if net.Error() != nil {
//			return net.Error()
//		}
//
// A Node given several inputs sees them with their channels stacked, which is how skip
// connections are joined.
//
// Optimizers are added on a per-Node basis, but defaults can be set for the Network with
// DefaultOpt or at the package level with SetDefaultOptimizer. HyperParameters such as
// "learning-rate" may be set on either the Network or the Node. Nodes whose Operators have
// weights must have Initializers, which can also be set by default.
//
// The network is finished by providing a cost function:
//
//		err := net.Finalize(costfuncs.DiceBCE(0.5, 0.5), out)
//
// Training
//
// Correct runs a single sample forward and backward, accumulating the gradients of each weight.
// AddWeights applies the average of the accumulated gradients (after clipping to ClipNorm and
// adding any Penalty) through each Node's Optimizer; it is called at the end of each batch.
//
// Saving and Loading
//
// Save writes the architecture and weights to a single compressed file, and Load rebuilds a
// finalized Network from it:
//
//		err := net.Save(fs, "best_model.ckpt", nil)
//		loaded, meta, err := forestseg.Load(fs, "best_model.ckpt")
package forestseg
