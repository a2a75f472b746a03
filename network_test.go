package forestseg_test

import (
	"math"
	"math/rand"
	"testing"

	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/costfuncs"
	"github.com/sharnoff/forestseg/hyperparams"
	"github.com/sharnoff/forestseg/initializers"
	"github.com/sharnoff/forestseg/operators"
	"github.com/sharnoff/forestseg/optimizers"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallNet has every operator in it, including a skip connection
func smallNet(t *testing.T) *seg.Network {
	initializers.Seed(7)

	net := new(seg.Network)
	in := net.AddInput("image", 4, 4, 2)
	c1 := net.Add("conv1", operators.Conv(3), in)
	r1 := net.Add("relu1", operators.LeakyReLU(0.1), c1)
	p := net.Add("pool", operators.MaxPool(2), r1)
	c2 := net.Add("conv2", operators.Conv(2), p)
	up := net.Add("up", operators.Upsample(2), c2)
	out := net.Add("logits", operators.Conv(1).Kernel(1).Pad(0), up, r1)

	net.DefaultOpt(func() seg.Optimizer { return optimizers.SGD() })
	net.AddHP("learning-rate", hyperparams.Constant(1))

	require.NoError(t, net.Finalize(costfuncs.DiceBCE(0.5, 0.5), out))
	return net
}

func sample(seed int64, n int, binary bool) []float64 {
	rng := rand.New(rand.NewSource(seed))
	vs := make([]float64, n)
	for i := range vs {
		if binary {
			vs[i] = float64(rng.Intn(2))
		} else {
			vs[i] = rng.NormFloat64()
		}
	}
	return vs
}

func TestShapes(t *testing.T) {
	net := smallNet(t)

	assert.Equal(t, 32, net.InputSize())
	assert.Equal(t, 16, net.OutputSize())
	assert.Equal(t, []int{2, 2, 3}, net.Node("pool").Dims())
	assert.Equal(t, []int{4, 4, 5}, net.Node("logits").InputDims())

	// conv1: 3*(2*9)+3, conv2: 2*(3*9)+2, logits: 1*5+1
	assert.Equal(t, 57+56+6, net.NumParams())
}

func TestWeightGradients(t *testing.T) {
	net := smallNet(t)
	inputs := sample(1, net.InputSize(), false)
	targets := sample(2, net.OutputSize(), true)
	cf := net.CostFunction()

	before := net.Snapshot()

	// with SGD at a learning rate of 1 and a single sample, the change is the gradient
	_, _, err := net.Correct(inputs, targets, false)
	require.NoError(t, err)
	after := net.Snapshot()

	require.NoError(t, net.Restore(before))

	const h = 1e-5
	for name, ws := range before {
		for i := range ws {
			analytic := ws[i] - after[name][i]

			shifted := func(delta float64) float64 {
				snap := net.Snapshot()
				snap[name][i] += delta
				require.NoError(t, net.Restore(snap))
				outs, err := net.GetOutputs(inputs)
				require.NoError(t, err)
				snap[name][i] -= delta
				require.NoError(t, net.Restore(snap))
				return cf.Cost(outs, targets)
			}

			numeric := (shifted(h) - shifted(-h)) / (2 * h)
			assert.InDelta(t, numeric, analytic, 1e-5+1e-3*math.Abs(numeric), "%s weight %d", name, i)
		}
	}
}

func TestBatchAveragesGradients(t *testing.T) {
	a := smallNet(t)
	b := smallNet(t)

	x := sample(3, a.InputSize(), false)
	y := sample(4, a.OutputSize(), true)

	// the same sample twice in one batch gives the same update as once
	for i := 0; i < 2; i++ {
		_, _, err := a.Correct(x, y, true)
		require.NoError(t, err)
	}
	require.NoError(t, a.AddWeights())

	_, _, err := b.Correct(x, y, false)
	require.NoError(t, err)

	sa, sb := a.Snapshot(), b.Snapshot()
	for name := range sa {
		assert.InDeltaSlice(t, sb[name], sa[name], 1e-12, name)
	}
	assert.Equal(t, 1, a.Iter())
}

func TestClipNorm(t *testing.T) {
	net := smallNet(t)
	net.ClipNorm(1e-3)

	before := net.Snapshot()
	_, _, err := net.Correct(sample(5, net.InputSize(), false), sample(6, net.OutputSize(), true), false)
	require.NoError(t, err)
	after := net.Snapshot()

	var sumSq float64
	for name, ws := range before {
		for i := range ws {
			d := ws[i] - after[name][i]
			sumSq += d * d
		}
	}

	assert.LessOrEqual(t, math.Sqrt(sumSq), 1e-3+1e-9)
}

func TestSaveLoad(t *testing.T) {
	net := smallNet(t)
	fs := afero.NewMemMapFs()

	require.NoError(t, net.Save(fs, "/runs/best.ckpt", map[string]string{"epoch": "3"}))
	exists, err := afero.Exists(fs, "/runs/best.ckpt.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	loaded, meta, err := seg.Load(fs, "/runs/best.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "3", meta["epoch"])
	assert.Equal(t, net.NumParams(), loaded.NumParams())
	assert.Equal(t, "dice-bce", loaded.CostFunction().TypeString())

	inputs := sample(8, net.InputSize(), false)
	want, err := net.GetOutputs(inputs)
	require.NoError(t, err)
	got, err := loaded.GetOutputs(inputs)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConstructionErrors(t *testing.T) {
	net := new(seg.Network)
	in := net.AddInput("image", 4, 4, 1)
	small := net.Add("pool", operators.MaxPool(2), in)

	// inputs with different widths can't be joined
	assert.Nil(t, net.Add("join", operators.ReLU(), in, small))
	assert.Error(t, net.Error())

	// once an error is set, everything else is ignored
	assert.Nil(t, net.Add("relu", operators.ReLU(), in))
	assert.Error(t, net.Finalize(costfuncs.BCE(), small))
}

func TestUnusedNode(t *testing.T) {
	net := new(seg.Network)
	in := net.AddInput("image", 2, 2, 1)
	net.Add("dangling", operators.ReLU(), in)
	out := net.Add("out", operators.Conv(1), in)

	assert.Error(t, net.Finalize(costfuncs.BCE(), out))
}

func TestSizeMismatch(t *testing.T) {
	net := smallNet(t)

	_, err := net.GetOutputs(make([]float64, 3))
	require.Error(t, err)

	_, _, err = net.Correct(make([]float64, net.InputSize()), make([]float64, 2), true)
	var mismatch seg.SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "targets", mismatch.What)
}
