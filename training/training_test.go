package training

import (
	"io"
	"math/rand"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/unet"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	if err := unet.RegisterEncoder("tiny", unet.Encoder{Widths: []int{2, 4}, Convs: 1}); err != nil {
		panic(err)
	}
}

func quiet() log.FieldLogger {
	l := log.New()
	l.Out = io.Discard
	return l
}

// samples are 4x4 images whose mask marks where the first channel is bright
func samples(seed int64, n int) dataset.Memory {
	rng := rand.New(rand.NewSource(seed))
	m := make(dataset.Memory, n)
	for k := range m {
		s := dataset.Sample{Name: strconv.Itoa(k), Width: 4, Height: 4, Channels: 4}
		s.Image = make([]float64, 64)
		s.Mask = make([]float64, 16)
		for i := range s.Image {
			s.Image[i] = rng.Float64()
		}
		for i := range s.Mask {
			if s.Image[i] > 0.5 {
				s.Mask[i] = 1
			}
		}
		m[k] = s
	}
	return m
}

func baseArgs(t *testing.T, fs afero.Fs) Args {
	m, err := unet.New(unet.DefaultOptions("tiny", 4))
	require.NoError(t, err)

	return Args{
		Model:  m,
		Train:  dataset.NewLoader(samples(1, 6), 2),
		Val:    dataset.NewLoader(samples(2, 3), 2),
		Epochs: 4,
		Fs:     fs,
		OutDir: "/runs/tiny",
		RunID:  "run-1",
		Log:    quiet(),
	}
}

func TestMachine(t *testing.T) {
	var changes []State
	m := &Machine{OnChange: func(_, to State, _ int) { changes = append(changes, to) }}
	assert.Equal(t, Idle, m.State())

	err := m.To(Validating)
	assert.Equal(t, TransitionError{Idle, Validating}, err)

	for epoch := 1; epoch <= 2; epoch++ {
		require.NoError(t, m.To(Training))
		assert.Equal(t, epoch, m.Epoch())
		require.NoError(t, m.To(Validating))
		assert.Error(t, m.To(Training))
		require.NoError(t, m.To(Checkpointing))
	}
	require.NoError(t, m.To(Done))
	assert.Error(t, m.To(Failed))
	assert.Error(t, m.To(Training))

	assert.Equal(t, []State{Training, Validating, Checkpointing, Training, Validating, Checkpointing, Done}, changes)

	f := &Machine{}
	require.NoError(t, f.To(Training))
	require.NoError(t, f.To(Failed))
	assert.Error(t, f.To(Training))
	assert.Equal(t, "failed", f.State().String())
}

func TestPolicy(t *testing.T) {
	p := NewPolicy(2)
	type obs struct {
		score          float64
		improved, stop bool
	}
	for i, o := range []obs{
		{0.2, true, false},
		{0.5, true, false},
		{0.5, false, false},
		{0.4, false, true},
	} {
		improved, stop := p.Observe(i+1, o.score)
		assert.Equal(t, o.improved, improved, "epoch %d", i+1)
		assert.Equal(t, o.stop, stop, "epoch %d", i+1)
	}

	best, epoch := p.Best()
	assert.Equal(t, 0.5, best)
	assert.Equal(t, 2, epoch)

	_, epoch = NewPolicy(1).Best()
	assert.Equal(t, 0, epoch)
}

func TestTrainKeepsBestCheckpoint(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Patience = 10

	var updates []Epoch
	args.Update = func(e Epoch) { updates = append(updates, e) }

	res, err := Train(args)
	require.NoError(t, err)
	assert.Equal(t, 4, res.EpochsRun)
	assert.False(t, res.StoppedEarly)
	require.Len(t, res.ValMetrics, 4)
	require.Len(t, res.TrainMetrics, 4)
	assert.Len(t, res.EpochTimes, 4)
	assert.Len(t, updates, 4)
	assert.Equal(t, "tiny_None", res.Tag)
	assert.Equal(t, 263, res.Params)

	// the best epoch is the first with the highest validation dice
	bestEpoch, bestDice := 0, 0.0
	for i, s := range res.ValMetrics {
		if s.GeneralizedDice > bestDice {
			bestEpoch, bestDice = i+1, s.GeneralizedDice
		}
		assert.Equal(t, updates[i].Improved, bestEpoch == i+1)
	}
	require.NotZero(t, bestEpoch)
	assert.Equal(t, bestEpoch, res.BestEpoch)
	assert.Equal(t, bestDice, res.BestDice)

	require.Equal(t, CheckpointPath("/runs/tiny", "tiny_None"), res.Checkpoint)
	loaded, meta, err := unet.Load(fs, res.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(bestEpoch), meta["epoch"])
	assert.Equal(t, "run-1", meta["run_id"])

	// the checkpoint and the restored model both hold the best weights
	ev, err := Evaluate(loaded.Net, args.Val, 0)
	require.NoError(t, err)
	assert.Equal(t, bestDice, ev.GeneralizedDice)
	assert.Equal(t, loaded.Net.Snapshot(), args.Model.Net.Snapshot())
}

func TestEventLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Epochs = 2

	_, err := Train(args)
	require.NoError(t, err)

	events, err := ReadEvents(fs, "/runs/tiny/events.csv")
	require.NoError(t, err)
	require.Len(t, events, 2*13)
	assert.Equal(t, Event{RunID: "run-1", Epoch: 1, Split: "train", Metric: "loss", Value: events[0].Value, Time: events[0].Time}, events[0])
	assert.Equal(t, "learning_rate", events[12].Metric)
	assert.InDelta(t, 1e-3, events[12].Value, 1e-15)
	assert.Equal(t, 2, events[13].Epoch)

	// a second run appends to the same log
	args = baseArgs(t, fs)
	args.Epochs = 1
	args.RunID = "run-2"
	_, err = Train(args)
	require.NoError(t, err)

	events, err = ReadEvents(fs, "/runs/tiny/events.csv")
	require.NoError(t, err)
	require.Len(t, events, 3*13)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "run-2", events[26].RunID)
}

func TestEarlyStopping(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Epochs = 10
	args.Patience = 1
	args.LearningRate = 1e-12

	res, err := Train(args)
	require.NoError(t, err)
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 2, res.EpochsRun)
	assert.Equal(t, 1, res.BestEpoch)
}

type failing struct {
	dataset.Memory
	at int
}

func (f failing) Get(i int) (dataset.Sample, error) {
	if i == f.at {
		return dataset.Sample{}, errors.New("tile is missing")
	}
	return f.Memory.Get(i)
}

func TestFailedBatchAbortsRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Train = dataset.NewLoader(failing{samples(1, 6), 3}, 2)

	res, err := Train(args)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tile is missing")
	assert.Equal(t, 0, res.EpochsRun)
	assert.Empty(t, res.Checkpoint)

	ok, err := afero.Exists(fs, CheckpointPath("/runs/tiny", "tiny_None"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgsValidation(t *testing.T) {
	args := baseArgs(t, afero.NewMemMapFs())
	args.Epochs = 0
	_, err := Train(args)
	assert.Error(t, err)

	args = baseArgs(t, afero.NewMemMapFs())
	args.Val = nil
	_, err = Train(args)
	assert.Error(t, err)

	for _, f := range []func(*Args){
		func(a *Args) { a.Optimizer = "rmsprop" },
		func(a *Args) { a.Penalty = "l3" },
		func(a *Args) { a.Schedule = "cosine" },
		func(a *Args) { a.Schedule = ScheduleStep },
		func(a *Args) { a.Steps = []Step{{Epoch: 2, LearningRate: 1e-4}} },
	} {
		args = baseArgs(t, afero.NewMemMapFs())
		f(&args)
		_, err = Train(args)
		assert.Error(t, err)
	}
}

// rates returns the learning rate logged for every epoch
func rates(t *testing.T, fs afero.Fs) []float64 {
	events, err := ReadEvents(fs, "/runs/tiny/events.csv")
	require.NoError(t, err)

	var lrs []float64
	for _, e := range events {
		if e.Metric == "learning_rate" {
			lrs = append(lrs, e.Value)
		}
	}
	return lrs
}

func TestStepSchedule(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Epochs = 3
	args.Schedule = ScheduleStep
	args.Steps = []Step{{Epoch: 3, LearningRate: 1e-4}, {Epoch: 2, LearningRate: 5e-4}}

	res, err := Train(args)
	require.NoError(t, err)
	require.Equal(t, 3, res.EpochsRun)
	assert.InDeltaSlice(t, []float64{1e-3, 5e-4, 1e-4}, rates(t, fs), 1e-15)
}

func TestSelectableComponents(t *testing.T) {
	fs := afero.NewMemMapFs()
	args := baseArgs(t, fs)
	args.Epochs = 2
	args.Optimizer = "sgd"
	args.Penalty = "elastic-net"
	args.Schedule = ScheduleConstant
	args.LearningRate = 0.01

	before := args.Model.Net.Snapshot()
	_, err := Train(args)
	require.NoError(t, err)
	assert.NotEqual(t, before, args.Model.Net.Snapshot())
	assert.InDeltaSlice(t, []float64{0.01, 0.01}, rates(t, fs), 1e-15)

	for _, n := range args.Model.Net.Nodes() {
		if o := n.Optimizer(); o != nil {
			assert.Equal(t, "sgd", o.TypeString())
			require.NotNil(t, n.Penalty())
			assert.Equal(t, "elastic-net", n.Penalty().TypeString())
		}
	}
}
