package unet

import (
	"math/rand"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	if err := RegisterEncoder("tiny", Encoder{Widths: []int{2, 4}, Convs: 1}); err != nil {
		panic(err)
	}
}

func tiny(t *testing.T) *Model {
	m, err := New(DefaultOptions("tiny", 4))
	require.NoError(t, err)
	return m
}

func image(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = rng.Float64()
	}
	return xs
}

func TestShapeAndComplexity(t *testing.T) {
	m := tiny(t)
	assert.Equal(t, 4*4*4, m.Net.InputSize())
	assert.Equal(t, 4*4, m.Net.OutputSize())

	c := m.Complexity()
	assert.Equal(t, 263, c.Params)
	assert.Equal(t, int64(3200), c.FLOPs)
	assert.Contains(t, c.String(), "Params: 263")

	logits, err := m.Forward(image(1, 64))
	require.NoError(t, err)
	assert.Len(t, logits, 16)

	probs, err := m.Predict(image(1, 64))
	require.NoError(t, err)
	for _, p := range probs {
		assert.True(t, p > 0 && p < 1)
	}

	_, err = m.Forward(image(1, 10))
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"resnet18", "resnet34", "efficientnet-b0", "mobilenet_v2"} {
		m, err := New(DefaultOptions(name, 8))
		require.NoError(t, err, name)
		assert.Equal(t, 64, m.Net.OutputSize(), name)
		assert.Equal(t, name+"_None", m.Opts.Tag())
	}

	m, err := New(DefaultOptions("resnet18", 8))
	require.NoError(t, err)
	assert.Equal(t, 122185, m.Complexity().Params)
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(DefaultOptions("vgg", 8))
	assert.Error(t, err)

	_, err = New(DefaultOptions("resnet18", 12))
	assert.Error(t, err)

	o := DefaultOptions("tiny", 4)
	o.DecoderAttention = "scse"
	_, err = New(o)
	assert.Error(t, err)

	o = DefaultOptions("tiny", 4)
	o.DecoderAttention = "none"
	_, err = New(o)
	assert.NoError(t, err)

	o.Loss = nil
	_, err = New(o)
	assert.Error(t, err)

	assert.Error(t, RegisterEncoder("tiny", Encoder{Widths: []int{1}, Convs: 1}))
	assert.Error(t, RegisterEncoder("empty", Encoder{Convs: 1}))
}

func TestSameSeedSameWeights(t *testing.T) {
	a, b := tiny(t), tiny(t)
	assert.Equal(t, a.Net.Snapshot(), b.Net.Snapshot())

	o := DefaultOptions("tiny", 4)
	o.Seed = 2
	c, err := New(o)
	require.NoError(t, err)
	assert.NotEqual(t, a.Net.Snapshot(), c.Net.Snapshot())
}

func TestSaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := tiny(t)
	require.NoError(t, m.Save(fs, "/runs/best_model_tiny_None.ckpt", map[string]string{"epoch": "3", "encoder": "x"}))

	got, meta, err := Load(fs, "/runs/best_model_tiny_None.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "3", meta["epoch"])
	assert.Equal(t, "tiny", meta["encoder"])
	assert.Equal(t, "tiny_None", meta["tag"])

	assert.Equal(t, "tiny", got.Opts.Encoder)
	assert.Equal(t, 4, got.Opts.Width)
	assert.Equal(t, 4, got.Opts.InChannels)
	assert.Equal(t, 1, got.Opts.Classes)
	assert.Equal(t, m.Complexity(), got.Complexity())

	img := image(5, 64)
	want, err := m.Forward(img)
	require.NoError(t, err)
	have, err := got.Forward(img)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}
