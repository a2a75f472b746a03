// Package unet builds encoder-decoder segmentation networks with skip connections, producing one
// logit per pixel and class.
package unet

import (
	"fmt"
	"strconv"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/costfuncs"
	"github.com/sharnoff/forestseg/initializers"
	"github.com/sharnoff/forestseg/operators"
	"github.com/spf13/afero"
)

// Names of the input and output Nodes.
const (
	InputName  = "image"
	OutputName = "logits"
)

// Options configures a Model.
type Options struct {
	Encoder string

	// DecoderAttention must be empty or "none"; attention blocks in the decoder are not
	// available.
	DecoderAttention string

	InChannels int
	Classes    int

	// Width and Height of the input, which must be divisible by 2 to the encoder depth
	Width, Height int

	// Seed for weight initialization
	Seed int64

	Loss seg.CostFunction
}

// DefaultOptions returns the options for 4-band tiles of the given size, with one class and the
// Dice + BCE loss.
func DefaultOptions(encoder string, size int) Options {
	return Options{
		Encoder:    encoder,
		InChannels: 4,
		Classes:    1,
		Width:      size,
		Height:     size,
		Seed:       1,
		Loss:       costfuncs.DiceBCE(0.5, 0.5),
	}
}

// Tag identifies the architecture in file names, as "<encoder>_<attention>", with "None" when
// there is no attention.
func (o Options) Tag() string {
	att := o.DecoderAttention
	if att == "" || att == "none" {
		att = "None"
	}

	return o.Encoder + "_" + att
}

// Check returns the error New would give for the options, without building anything.
func (o Options) Check() error {
	enc, err := LookupEncoder(o.Encoder)
	if err != nil {
		return err
	}
	return o.validate(enc)
}

func (o Options) validate(enc Encoder) error {
	if o.DecoderAttention != "" && o.DecoderAttention != "none" {
		return errors.Errorf("Decoder attention %q is not supported", o.DecoderAttention)
	} else if o.InChannels < 1 || o.Classes < 1 {
		return errors.Errorf("Channels (%d) and classes (%d) must be >= 1", o.InChannels, o.Classes)
	} else if o.Loss == nil {
		return errors.Errorf("Can't build model, no loss given")
	}

	div := 1 << uint(enc.Depth())
	if o.Width < div || o.Height < div || o.Width%div != 0 || o.Height%div != 0 {
		return errors.Errorf("Input %dx%d must be divisible by %d for encoder %q", o.Width, o.Height, div, o.Encoder)
	}

	return nil
}

// Model is a finalized segmentation network with the options it was built from.
type Model struct {
	Net  *seg.Network
	Opts Options
}

// New builds and initializes a Model.
func New(o Options) (*Model, error) {
	enc, err := LookupEncoder(o.Encoder)
	if err != nil {
		return nil, err
	} else if err = o.validate(enc); err != nil {
		return nil, err
	}

	initializers.Seed(o.Seed)

	net := new(seg.Network)
	net.DefaultInit(initializers.He())

	act := func() seg.Operator {
		if enc.Leak != 0 {
			return operators.LeakyReLU(enc.Leak)
		}
		return operators.ReLU()
	}

	block := func(prefix string, width int, in ...*seg.Node) *seg.Node {
		x := net.Add(prefix+"-conv1", operators.Conv(width), in...)
		x = net.Add(prefix+"-act1", act(), x)
		for i := 2; i <= enc.Convs; i++ {
			x = net.Add(fmt.Sprintf("%s-conv%d", prefix, i), operators.Conv(width), x)
			x = net.Add(fmt.Sprintf("%s-act%d", prefix, i), act(), x)
		}
		return x
	}

	x := net.AddInput(InputName, o.Width, o.Height, o.InChannels)
	skips := make([]*seg.Node, len(enc.Widths))
	for s, w := range enc.Widths {
		prefix := "enc" + strconv.Itoa(s)
		if s > 0 {
			x = net.Add(prefix+"-pool", operators.MaxPool(2), x)
		}
		x = block(prefix, w, x)
		skips[s] = x
	}

	for s := enc.Depth() - 1; s >= 0; s-- {
		prefix := "dec" + strconv.Itoa(s)
		up := net.Add(prefix+"-up", operators.Upsample(2), x)
		x = block(prefix, enc.Widths[s], up, skips[s])
	}

	out := net.Add(OutputName, operators.Conv(o.Classes).Kernel(1).Pad(0), x)
	if err = net.Finalize(o.Loss, out); err != nil {
		return nil, errors.Wrapf(err, "Failed to build model %q", o.Tag())
	}

	return &Model{Net: net, Opts: o}, nil
}

// Forward returns the logits for a planar image, one plane per class.
func (m *Model) Forward(image []float64) ([]float64, error) {
	return m.Net.GetOutputs(image)
}

// Predict returns the sigmoid probabilities for a planar image.
func (m *Model) Predict(image []float64) ([]float64, error) {
	logits, err := m.Forward(image)
	if err != nil {
		return nil, err
	}

	return seg.Sigmoids(logits), nil
}

// Complexity is the size of a Model.
type Complexity struct {
	Params int
	// FLOPs counts the multiply-accumulates of one forward pass
	FLOPs int64
}

func (c Complexity) String() string {
	return fmt.Sprintf("Params: %s, FLOPs: %s",
		strings.TrimSpace(humanize.SIWithDigits(float64(c.Params), 3, "")),
		strings.TrimSpace(humanize.SIWithDigits(float64(c.FLOPs), 3, "")))
}

// Complexity returns the number of weights and the cost of a forward pass.
func (m *Model) Complexity() Complexity {
	c := Complexity{Params: m.Net.NumParams()}
	for _, n := range m.Net.Nodes() {
		if f, ok := n.Operator().(interface{ FLOPs() int64 }); ok {
			c.FLOPs += f.FLOPs()
		}
	}

	return c
}

func (o Options) meta() map[string]string {
	return map[string]string{
		"encoder":           o.Encoder,
		"decoder_attention": o.DecoderAttention,
		"in_channels":       strconv.Itoa(o.InChannels),
		"classes":           strconv.Itoa(o.Classes),
		"width":             strconv.Itoa(o.Width),
		"height":            strconv.Itoa(o.Height),
		"tag":               o.Tag(),
	}
}

// Save writes the Model as a checkpoint at 'path'. Entries of 'extra' are stored alongside the
// options and returned by Load.
func (m *Model) Save(fs afero.Fs, path string, extra map[string]string) error {
	meta := m.Opts.meta()
	for k, v := range extra {
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}

	return m.Net.Save(fs, path, meta)
}

// Load reads a Model written by Save, along with its stored metadata.
func Load(fs afero.Fs, path string) (*Model, map[string]string, error) {
	net, meta, err := seg.Load(fs, path)
	if err != nil {
		return nil, nil, err
	}

	o := Options{
		Encoder:          meta["encoder"],
		DecoderAttention: meta["decoder_attention"],
		Loss:             net.CostFunction(),
	}

	in := net.Input().Dims()
	o.Width, o.Height, o.InChannels = in[0], in[1], in[2]
	o.Classes = net.Output().Dims()[2]

	return &Model{Net: net, Opts: o}, meta, nil
}
