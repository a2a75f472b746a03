package operators

import (
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/utils"
	"gonum.org/v1/gonum/floats"
)

type conv struct {
	// Filters is the number of output channels
	Filters int
	// Size is the width and height of the (square) kernel
	Size int
	// Padding is the number of zeros added on every side of the input
	Padding int

	// always either 0 or 1. It is represented as an integer to make the math easier and to reduce
	// the number of necessary conditionals
	NumBiases int

	// InChannels is set at finalization
	InChannels int

	// weights are stored by output channel, then input channel, then kernel row, then kernel
	// column. Biases (one per filter) are appended to the end.
	Ws []float64

	// set by Finalize
	ins, outs *utils.MultiDim
	inDeltas  []float64
	finalized bool
}

// Conv returns a 2D convolution with the given number of filters (output channels), which
// implements forestseg.Adjustable. Stride is always 1; downsampling is done by pooling.
//
// The kernel size and padding default to the values set by SetDefault("conv-kernel") and
// SetDefault("conv-padding"), which keep the width and height of the input. Other methods can be
// called to further customize it -- they return *conv and do not check for errors, so they can
// be chained.
func Conv(filters int) *conv {
	return &conv{
		Filters:   filters,
		Size:      int(defaultValue["conv-kernel"]),
		Padding:   int(defaultValue["conv-padding"]),
		NumBiases: 1,
	}
}

// Kernel sets the width and height of the kernel. Kernel will panic if called after the
// Operator has been finalized.
func (c *conv) Kernel(size int) *conv {
	if c.finalized {
		panic("convolutional Operator has already been finalized")
	}

	c.Size = size
	return c
}

// Pad sets the amount of zero padding on each side. Pad will panic if called after the Operator
// has been finalized.
func (c *conv) Pad(p int) *conv {
	if c.finalized {
		panic("convolutional Operator has already been finalized")
	}

	c.Padding = p
	return c
}

// NoBiases removes the bias parameters from each filter. Convolutional operators default to
// having biases.
func (c *conv) NoBiases() *conv {
	if c.finalized {
		panic("convolutional Operator has already been finalized")
	}

	c.NumBiases = 0
	return c
}

func (c *conv) TypeString() string {
	return "conv"
}

func (c *conv) OutputDims(in []int) ([]int, error) {
	if c.Filters < 1 {
		return nil, errors.Errorf("Number of filters must be >= 1 (%d)", c.Filters)
	} else if c.Size < 1 {
		return nil, errors.Errorf("Kernel size must be >= 1 (%d)", c.Size)
	} else if c.Padding < 0 {
		return nil, errors.Errorf("Padding must be >= 0 (%d)", c.Padding)
	}

	w := in[0] + 2*c.Padding - c.Size + 1
	h := in[1] + 2*c.Padding - c.Size + 1
	if w < 1 || h < 1 {
		return nil, errors.Errorf("Kernel %dx%d with padding %d does not fit input %dx%d", c.Size, c.Size, c.Padding, in[0], in[1])
	}

	return []int{w, h, c.Filters}, nil
}

// kernelLen is the number of weights in a single filter, without the bias
func (c *conv) kernelLen() int {
	return c.InChannels * c.Size * c.Size
}

func (c *conv) Finalize(n *seg.Node) error {
	c.ins = utils.NewMultiDim(n.InputDims())
	c.outs = utils.NewMultiDim(n.Dims())

	if c.InChannels != 0 && c.InChannels != c.ins.Dim(2) {
		return errors.Errorf("Saved number of input channels does not match the inputs (%d != %d)", c.InChannels, c.ins.Dim(2))
	}
	c.InChannels = c.ins.Dim(2)

	wLen := c.Filters * (c.kernelLen() + c.NumBiases)
	if c.Ws == nil {
		c.Ws = make([]float64, wLen)
	} else if len(c.Ws) != wLen {
		return errors.Errorf("Number of saved weights not equal to expected number (%d != %d)", len(c.Ws), wLen)
	}

	c.inDeltas = make([]float64, c.ins.Size())
	c.finalized = true
	return nil
}

func (c *conv) Get() interface{} {
	return *c
}

func (c *conv) Blank() interface{} {
	return c
}

func (c *conv) Weights() []float64 {
	return c.Ws
}

func (c *conv) Fans() (int, int) {
	return c.kernelLen(), c.Filters * c.Size * c.Size
}

func (c *conv) ResetBiases() {
	if c.NumBiases == 0 {
		return
	}

	for i := c.Filters * c.kernelLen(); i < len(c.Ws); i++ {
		c.Ws[i] = 0
	}
}

// FLOPs returns the number of multiply-accumulates in a single evaluation.
func (c *conv) FLOPs() int64 {
	return int64(c.outs.Size()) * int64(c.kernelLen())
}

func (c *conv) weight(out, in, ky, kx int) float64 {
	return c.Ws[((out*c.InChannels+in)*c.Size+ky)*c.Size+kx]
}

// span returns the range of output columns [x0, x1) for which the input column x+kx-Padding is
// inside the input
func (c *conv) span(kx int) (int, int) {
	x0 := c.Padding - kx
	if x0 < 0 {
		x0 = 0
	}

	x1 := c.ins.Dim(0) + c.Padding - kx
	if x1 > c.outs.Dim(0) {
		x1 = c.outs.Dim(0)
	}

	return x0, x1
}

// visit calls f for every row of every kernel offset that overlaps the input, between output
// channel 'out' and input channel 'in'. f is given the weight for the offset, the start of the
// output row, the start of the matching input row, and the number of values in both.
func (c *conv) visit(out, in int, f func(w float64, outStart, inStart, length int)) {
	inW, inH := c.ins.Dim(0), c.ins.Dim(1)
	outW, outH := c.outs.Dim(0), c.outs.Dim(1)
	inPlane, outPlane := c.ins.Plane(), c.outs.Plane()

	for ky := 0; ky < c.Size; ky++ {
		for kx := 0; kx < c.Size; kx++ {
			x0, x1 := c.span(kx)
			if x0 >= x1 {
				continue
			}

			w := c.weight(out, in, ky, kx)
			for y := 0; y < outH; y++ {
				iy := y + ky - c.Padding
				if iy < 0 || iy >= inH {
					continue
				}

				f(w, out*outPlane+y*outW+x0, in*inPlane+iy*inW+x0+kx-c.Padding, x1-x0)
			}
		}
	}
}

func (c *conv) Evaluate(n *seg.Node, values []float64) {
	inputs := n.AllInputs()
	plane := c.outs.Plane()
	biases := c.Ws[c.Filters*c.kernelLen():]

	f := func(out int) {
		vs := values[out*plane : (out+1)*plane]
		b := 0.0
		if c.NumBiases != 0 {
			b = biases[out]
		}
		for i := range vs {
			vs[i] = b
		}

		for in := 0; in < c.InChannels; in++ {
			c.visit(out, in, func(w float64, o, i, l int) {
				if w != 0 {
					floats.AddScaled(values[o:o+l], w, inputs[i:i+l])
				}
			})
		}
	}

	opsPerThread, threadsPerCPU := 1, 1
	utils.MultiThread(0, c.Filters, f, opsPerThread, threadsPerCPU)
}

func (c *conv) InputDeltas(n *seg.Node) []float64 {
	deltas := n.Deltas()
	plane := c.ins.Plane()

	// each input channel is handled by a single goroutine, so there are no conflicting writes
	f := func(in int) {
		ds := c.inDeltas[in*plane : (in+1)*plane]
		for i := range ds {
			ds[i] = 0
		}

		for out := 0; out < c.Filters; out++ {
			c.visit(out, in, func(w float64, o, i, l int) {
				if w != 0 {
					floats.AddScaled(c.inDeltas[i:i+l], w, deltas[o:o+l])
				}
			})
		}
	}

	opsPerThread, threadsPerCPU := 1, 1
	utils.MultiThread(0, c.InChannels, f, opsPerThread, threadsPerCPU)

	return c.inDeltas
}

func (c *conv) Grad(n *seg.Node, grads []float64) {
	inputs := n.AllInputs()
	deltas := n.Deltas()
	plane := c.outs.Plane()
	k2 := c.Size * c.Size

	f := func(out int) {
		for in := 0; in < c.InChannels; in++ {
			base := (out*c.InChannels + in) * k2
			for ky := 0; ky < c.Size; ky++ {
				for kx := 0; kx < c.Size; kx++ {
					grads[base+ky*c.Size+kx] += c.offsetGrad(inputs, deltas, out, in, ky, kx)
				}
			}
		}

		if c.NumBiases != 0 {
			grads[c.Filters*c.kernelLen()+out] += floats.Sum(deltas[out*plane : (out+1)*plane])
		}
	}

	opsPerThread, threadsPerCPU := 1, 1
	utils.MultiThread(0, c.Filters, f, opsPerThread, threadsPerCPU)
}

// offsetGrad is the gradient of the single weight connecting output channel 'out' to input
// channel 'in' at kernel offset (kx, ky)
func (c *conv) offsetGrad(inputs, deltas []float64, out, in, ky, kx int) float64 {
	inW, inH := c.ins.Dim(0), c.ins.Dim(1)
	outW, outH := c.outs.Dim(0), c.outs.Dim(1)
	x0, x1 := c.span(kx)
	if x0 >= x1 {
		return 0
	}

	var sum float64
	for y := 0; y < outH; y++ {
		iy := y + ky - c.Padding
		if iy < 0 || iy >= inH {
			continue
		}

		o := out*c.outs.Plane() + y*outW + x0
		i := in*c.ins.Plane() + iy*inW + x0 + kx - c.Padding
		sum += floats.Dot(deltas[o:o+x1-x0], inputs[i:i+x1-x0])
	}

	return sum
}
