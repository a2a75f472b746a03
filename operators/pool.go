package operators

import (
	"math"

	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/utils"
)

type maxPool struct {
	// Size is the width and height of each pooled area, which is also the stride
	Size int

	ins, outs *utils.MultiDim

	// the index (in inputs) of the highest value for each output
	switches []int
	inDeltas []float64
}

// MaxPool returns a pooling Operator that takes the maximum of each non-overlapping
// 'size'x'size' area of every channel. The width and height of the input must be divisible by
// 'size'.
func MaxPool(size int) *maxPool {
	return &maxPool{Size: size}
}

func (p *maxPool) TypeString() string {
	return "max-pool"
}

func (p *maxPool) OutputDims(in []int) ([]int, error) {
	if p.Size < 1 {
		return nil, errors.Errorf("Pool size must be >= 1 (%d)", p.Size)
	} else if in[0]%p.Size != 0 || in[1]%p.Size != 0 {
		return nil, errors.Errorf("Input %dx%d is not divisible by pool size %d", in[0], in[1], p.Size)
	}

	return []int{in[0] / p.Size, in[1] / p.Size, in[2]}, nil
}

func (p *maxPool) Finalize(n *seg.Node) error {
	p.ins = utils.NewMultiDim(n.InputDims())
	p.outs = utils.NewMultiDim(n.Dims())
	p.switches = make([]int, n.Size())
	p.inDeltas = make([]float64, n.NumInputs())
	return nil
}

func (p *maxPool) Get() interface{} {
	return *p
}

func (p *maxPool) Blank() interface{} {
	return p
}

func (p *maxPool) Evaluate(n *seg.Node, values []float64) {
	inputs := n.AllInputs()
	outW, outH := p.outs.Dim(0), p.outs.Dim(1)

	f := func(ch int) {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				best, at := math.Inf(-1), -1
				for dy := 0; dy < p.Size; dy++ {
					for dx := 0; dx < p.Size; dx++ {
						i := p.ins.Index(x*p.Size+dx, y*p.Size+dy, ch)
						if inputs[i] > best {
							best, at = inputs[i], i
						}
					}
				}

				o := p.outs.Index(x, y, ch)
				values[o] = best
				p.switches[o] = at
			}
		}
	}

	opsPerThread, threadsPerCPU := 1, 1
	utils.MultiThread(0, p.outs.Dim(2), f, opsPerThread, threadsPerCPU)
}

func (p *maxPool) InputDeltas(n *seg.Node) []float64 {
	for i := range p.inDeltas {
		p.inDeltas[i] = 0
	}

	// pooled areas don't overlap, so each input receives at most one delta
	for o, i := range p.switches {
		p.inDeltas[i] = n.Delta(o)
	}

	return p.inDeltas
}

type upsample struct {
	// Factor is the number of times each value is repeated in width and height
	Factor int

	ins, outs *utils.MultiDim
	inDeltas  []float64
}

// Upsample returns an Operator that enlarges every channel by an integer factor with nearest
// neighbor interpolation.
func Upsample(factor int) *upsample {
	return &upsample{Factor: factor}
}

func (u *upsample) TypeString() string {
	return "upsample"
}

func (u *upsample) OutputDims(in []int) ([]int, error) {
	if u.Factor < 1 {
		return nil, errors.Errorf("Upsampling factor must be >= 1 (%d)", u.Factor)
	}

	return []int{in[0] * u.Factor, in[1] * u.Factor, in[2]}, nil
}

func (u *upsample) Finalize(n *seg.Node) error {
	u.ins = utils.NewMultiDim(n.InputDims())
	u.outs = utils.NewMultiDim(n.Dims())
	u.inDeltas = make([]float64, n.NumInputs())
	return nil
}

func (u *upsample) Get() interface{} {
	return *u
}

func (u *upsample) Blank() interface{} {
	return u
}

func (u *upsample) Evaluate(n *seg.Node, values []float64) {
	inputs := n.AllInputs()
	outW, outH := u.outs.Dim(0), u.outs.Dim(1)

	f := func(ch int) {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				values[u.outs.Index(x, y, ch)] = inputs[u.ins.Index(x/u.Factor, y/u.Factor, ch)]
			}
		}
	}

	opsPerThread, threadsPerCPU := 1, 1
	utils.MultiThread(0, u.outs.Dim(2), f, opsPerThread, threadsPerCPU)
}

func (u *upsample) InputDeltas(n *seg.Node) []float64 {
	for i := range u.inDeltas {
		u.inDeltas[i] = 0
	}

	outW, outH := u.outs.Dim(0), u.outs.Dim(1)
	for ch := 0; ch < u.outs.Dim(2); ch++ {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				u.inDeltas[u.ins.Index(x/u.Factor, y/u.Factor, ch)] += n.Delta(u.outs.Index(x, y, ch))
			}
		}
	}

	return u.inDeltas
}
