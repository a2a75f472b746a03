// Package training runs the epoch loop of a segmentation model: mini-batch updates, validation,
// early stopping, learning rate reduction on plateaus, and best-checkpoint persistence.
package training

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/hyperparams"
	"github.com/sharnoff/forestseg/metrics"
	"github.com/sharnoff/forestseg/optimizers"
	"github.com/sharnoff/forestseg/penalties"
	"github.com/sharnoff/forestseg/unet"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Learning rate schedules
const (
	SchedulePlateau  = "plateau"
	ScheduleStep     = "step"
	ScheduleConstant = "constant"
)

// Step sets the learning rate from the start of an epoch on, counting epochs from 1.
type Step struct {
	Epoch        int     `yaml:"epoch" json:"epoch"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
}

// CheckSchedule returns an error if 'name' is not a schedule or 'steps' don't suit it.
func CheckSchedule(name string, steps []Step) error {
	switch name {
	case "", SchedulePlateau, ScheduleConstant:
		if len(steps) != 0 {
			return errors.Errorf("Learning rate steps are only used by the %q schedule", ScheduleStep)
		}
	case ScheduleStep:
		if len(steps) == 0 {
			return errors.Errorf("The %q schedule needs at least one step", ScheduleStep)
		}
		for _, st := range steps {
			if st.Epoch < 1 || st.LearningRate <= 0 {
				return errors.Errorf("Invalid learning rate step (epoch %d, rate %g)", st.Epoch, st.LearningRate)
			}
		}
	default:
		return errors.Errorf("Learning rate schedule %q does not exist", name)
	}

	return nil
}

// Args configures a run. Zero values of the numeric fields take the defaults given.
type Args struct {
	Model *unet.Model

	Train, Val *dataset.Loader

	// Epochs is the largest number of epochs run
	Epochs int

	// Patience is the number of epochs without a better validation score before stopping.
	// Default 7.
	Patience int

	// Optimizer is the name of the optimizers constructor used for every Node, default "adam"
	Optimizer string
	// LearningRate is the starting learning rate, default 1e-3
	LearningRate float64

	// Penalty is the name of the penalties type applied with strength WeightDecay, default
	// "weight-decay" (gradients gain WeightDecay * w). "none" applies nothing.
	Penalty string
	// WeightDecay defaults to 1e-4; negative disables the penalty.
	WeightDecay float64
	// ClipNorm is the largest global gradient norm, default 1. Negative disables clipping.
	ClipNorm float64

	// Schedule of the learning rate: SchedulePlateau (default), ScheduleStep or ScheduleConstant.
	Schedule string

	// PlateauPatience is the number of epochs without a lower validation loss before the learning
	// rate is reduced, default 3. PlateauFactor is what it is multiplied by, default 0.5.
	PlateauPatience int
	PlateauFactor   float64

	// Steps are the learning rates of ScheduleStep
	Steps []Step

	Fs     afero.Fs
	OutDir string

	// RunID identifies the run in the event log. A random one is generated if empty.
	RunID string

	Log log.FieldLogger

	// Update, if not nil, is called at the end of every epoch
	Update func(Epoch)
}

func (a *Args) defaults() error {
	if a.Model == nil {
		return errors.Errorf("Model is nil")
	} else if a.Train == nil || a.Val == nil {
		return errors.Errorf("Training and validation loaders must both be given")
	} else if a.Epochs < 1 {
		return errors.Errorf("Epochs must be >= 1 (%d)", a.Epochs)
	} else if a.Fs == nil {
		return errors.Errorf("Fs is nil")
	}

	if a.Optimizer == "" {
		a.Optimizer = "adam"
	}
	if a.Penalty == "" {
		a.Penalty = "weight-decay"
	}
	if a.Schedule == "" {
		a.Schedule = SchedulePlateau
	}
	if err := CheckSchedule(a.Schedule, a.Steps); err != nil {
		return err
	}

	if a.Patience == 0 {
		a.Patience = 7
	}
	if a.LearningRate == 0 {
		a.LearningRate = 1e-3
	}
	if a.WeightDecay == 0 {
		a.WeightDecay = 1e-4
	}
	if a.ClipNorm == 0 {
		a.ClipNorm = 1
	}
	if a.PlateauPatience == 0 {
		a.PlateauPatience = 3
	}
	if a.PlateauFactor == 0 {
		a.PlateauFactor = 0.5
	}
	if a.RunID == "" {
		a.RunID = uuid.New().String()
	}
	if a.Log == nil {
		a.Log = log.StandardLogger()
	}

	return nil
}

// Epoch is the outcome of one epoch.
type Epoch struct {
	Epoch        int
	Train, Val   metrics.Summary
	LearningRate float64
	Improved     bool
	Duration     time.Duration
}

// Result is the outcome of a run. Epoch numbers count from 1.
type Result struct {
	RunID string `json:"run_id"`
	Tag   string `json:"experiment_tag"`

	BestDice  float64 `json:"best_dice"`
	BestEpoch int     `json:"best_epoch"`
	// Checkpoint is the path of the best weights, empty if no epoch improved
	Checkpoint string `json:"checkpoint,omitempty"`

	EpochsRun    int                 `json:"epochs_run"`
	StoppedEarly bool                `json:"stopped_early"`
	EpochTimes   []float64           `json:"epoch_times"`
	TotalTime    float64             `json:"total_time"`
	AvgEpochTime float64             `json:"avg_epoch_time"`
	EpochTime    metrics.Description `json:"epoch_time_summary"`

	TrainMetrics []metrics.Summary `json:"epoch_train_metrics"`
	ValMetrics   []metrics.Summary `json:"epoch_val_metrics"`

	Params     int    `json:"params"`
	FLOPs      int64  `json:"flops"`
	Complexity string `json:"complexity"`
}

// CheckpointPath returns where the best weights of the architecture 'tag' are kept in 'dir'.
func CheckpointPath(dir, tag string) string {
	return filepath.Join(dir, "best_model_"+tag+".ckpt")
}

// trainer holds the state of a run in progress
type trainer struct {
	Args
	net    *seg.Network
	lr     seg.HyperParameter
	events *EventLog
	logger log.FieldLogger
}

// Train runs the training loop. After it ends, the best weights seen are restored into the Model,
// with the last epoch's weights kept if no epoch improved. No step is retried: any error stops
// the run in the Failed state and is returned along with the results so far.
func Train(args Args) (Result, error) {
	if err := args.defaults(); err != nil {
		return Result{}, errors.Wrap(err, "Can't start training")
	}

	t := &trainer{Args: args, net: args.Model.Net}
	t.events = NewEventLog(t.Fs, filepath.Join(t.OutDir, EventsFile))
	t.logger = t.Log.WithFields(log.Fields{"run": t.RunID, "tag": t.Model.Opts.Tag()})

	opt, err := optimizers.ByName(t.Optimizer)
	if err != nil {
		return Result{}, errors.Wrap(err, "Can't start training")
	}
	var pen seg.Penalty
	if t.WeightDecay > 0 {
		if pen, err = penalties.ByName(t.Penalty, t.WeightDecay); err != nil {
			return Result{}, errors.Wrap(err, "Can't start training")
		}
	}

	t.lr = t.schedule()
	t.net.AddHP("learning-rate", t.lr)
	t.net.SetOptimizers(opt, pen)
	if t.ClipNorm < 0 {
		t.ClipNorm = 0
	}
	t.net.ClipNorm(t.ClipNorm)

	cx := t.Model.Complexity()
	res := Result{
		RunID:      t.RunID,
		Tag:        t.Model.Opts.Tag(),
		Params:     cx.Params,
		FLOPs:      cx.FLOPs,
		Complexity: cx.String(),
	}
	t.logger.Infof("Experiment %s: %v", res.Tag, cx)

	err = t.run(&res)

	if len(res.EpochTimes) != 0 {
		res.TotalTime = metrics.Sum(res.EpochTimes)
		res.AvgEpochTime = res.TotalTime / float64(len(res.EpochTimes))
		res.EpochTime = metrics.Describe(res.EpochTimes)
	}

	return res, err
}

// schedule returns the learning rate HyperParameter. Steps take effect at the first update of
// their epoch.
func (t *trainer) schedule() seg.HyperParameter {
	switch t.Schedule {
	case ScheduleConstant:
		return hyperparams.Constant(t.LearningRate)
	case ScheduleStep:
		s := hyperparams.Step(t.LearningRate)
		batches := t.Train.NumBatches()
		for _, st := range t.Steps {
			s.At((st.Epoch-1)*batches, st.LearningRate)
		}
		return s
	default:
		return hyperparams.Plateau(t.LearningRate, t.PlateauPatience).Factor(t.PlateauFactor)
	}
}

func (t *trainer) run(res *Result) error {
	m := &Machine{OnChange: func(from, to State, epoch int) {
		t.logger.WithField("epoch", epoch).Debugf("%v -> %v", from, to)
	}}

	fail := func(err error) error {
		m.To(Failed)
		t.logger.WithError(err).WithField("epoch", m.Epoch()).Error("Training failed")
		return err
	}

	policy := NewPolicy(t.Patience)
	var best map[string][]float64

	for {
		if err := m.To(Training); err != nil {
			return fail(err)
		}

		epoch := m.Epoch()
		start := time.Now()
		logger := t.logger.WithField("epoch", epoch)

		// the rate the epoch trains with
		lr := t.lr.Value(t.net.Iter())

		trainSum, err := t.trainEpoch(epoch)
		if err != nil {
			return fail(errors.Wrapf(err, "Training failed in epoch %d", epoch))
		}

		if err = m.To(Validating); err != nil {
			return fail(err)
		}
		valSum, err := t.validate(epoch)
		if err != nil {
			return fail(errors.Wrapf(err, "Validation failed in epoch %d", epoch))
		}

		if err = m.To(Checkpointing); err != nil {
			return fail(err)
		}

		improved, stop := policy.Observe(epoch, valSum.GeneralizedDice)
		if improved {
			best = t.net.Snapshot()
			res.Checkpoint = CheckpointPath(t.OutDir, res.Tag)
			extra := map[string]string{
				"run_id": t.RunID,
				"epoch":  strconv.Itoa(epoch),
				"dice":   strconv.FormatFloat(valSum.GeneralizedDice, 'g', -1, 64),
			}
			if err = t.Model.Save(t.Fs, res.Checkpoint, extra); err != nil {
				return fail(errors.Wrapf(err, "Failed to save checkpoint in epoch %d", epoch))
			}
			logger.WithField("dice", valSum.GeneralizedDice).Info("Saved new best checkpoint")
		}

		at := time.Now()
		events := summaryEvents(t.RunID, epoch, "train", trainSum, at)
		events = append(events, summaryEvents(t.RunID, epoch, "val", valSum, at)...)
		events = append(events, Event{RunID: t.RunID, Epoch: epoch, Split: "train", Metric: "learning_rate", Value: lr, Time: at.UTC().Format(time.RFC3339)})
		if err = t.events.Append(events); err != nil {
			return fail(err)
		}

		// the learning rate schedule follows the validation loss
		t.net.Observe(valSum.Loss)

		dur := time.Since(start)
		res.EpochsRun = epoch
		res.TrainMetrics = append(res.TrainMetrics, trainSum)
		res.ValMetrics = append(res.ValMetrics, valSum)
		res.EpochTimes = append(res.EpochTimes, dur.Seconds())

		logger.Infof("Train Loss: %.4f | Dice: %.4f", trainSum.Loss, trainSum.GeneralizedDice)
		logger.Infof("Val Loss: %.4f | Dice: %.4f", valSum.Loss, valSum.GeneralizedDice)

		if t.Update != nil {
			t.Update(Epoch{Epoch: epoch, Train: trainSum, Val: valSum, LearningRate: lr, Improved: improved, Duration: dur})
		}

		if stop {
			res.StoppedEarly = true
			logger.Infof("Early stopping at epoch %d", epoch)
		}

		if stop || epoch >= t.Epochs {
			break
		}
	}

	res.BestDice, res.BestEpoch = policy.Best()
	if best != nil {
		if err := t.net.Restore(best); err != nil {
			return fail(errors.Wrap(err, "Failed to restore best weights"))
		}
	}

	if err := m.To(Done); err != nil {
		return fail(err)
	}
	return nil
}

// trainEpoch runs every training batch, updating the weights at the end of each.
func (t *trainer) trainEpoch(epoch int) (metrics.Summary, error) {
	var conf metrics.Confusion
	var lossTotal float64
	batches := 0

	err := t.Train.Epoch(epoch, func(batch []dataset.Sample) error {
		var batchLoss float64
		for _, s := range batch {
			cost, outs, err := t.net.Correct(s.Image, s.Mask, true)
			if err != nil {
				return errors.Wrapf(err, "Sample %q", s.Name)
			}

			batchLoss += cost
			if err = conf.UpdateLogits(outs, s.Mask); err != nil {
				return err
			}
		}

		if err := t.net.AddWeights(); err != nil {
			return errors.Wrapf(err, "Batch %d", batches)
		}

		lossTotal += batchLoss / float64(len(batch))
		batches++
		return nil
	})
	if err != nil {
		return metrics.Summary{}, err
	}

	return conf.Summarize(mean(lossTotal, batches)), nil
}

// validate runs every validation batch without changing any weights.
func (t *trainer) validate(epoch int) (metrics.Summary, error) {
	s, err := Evaluate(t.net, t.Val, epoch)
	return s.Summary, err
}

// Evaluation is the result of running a network over a Loader without training it.
type Evaluation struct {
	metrics.Summary
	Confusion metrics.Confusion
}

// Evaluate runs 'net' over every batch of 'l', averaging the per-batch mean loss.
func Evaluate(net *seg.Network, l *dataset.Loader, epoch int) (Evaluation, error) {
	var ev Evaluation
	var lossTotal float64
	batches := 0
	cf := net.CostFunction()

	err := l.Epoch(epoch, func(batch []dataset.Sample) error {
		var batchLoss float64
		for _, s := range batch {
			outs, err := net.GetOutputs(s.Image)
			if err != nil {
				return errors.Wrapf(err, "Sample %q", s.Name)
			} else if len(outs) != len(s.Mask) {
				return errors.Wrapf(seg.SizeMismatchError{What: "mask", Got: len(s.Mask), Need: len(outs)}, "Sample %q", s.Name)
			}

			batchLoss += cf.Cost(outs, s.Mask)
			if err = ev.Confusion.UpdateLogits(outs, s.Mask); err != nil {
				return err
			}
		}

		lossTotal += batchLoss / float64(len(batch))
		batches++
		return nil
	})
	if err != nil {
		return ev, err
	}

	ev.Summary = ev.Confusion.Summarize(mean(lossTotal, batches))
	return ev, nil
}

func mean(total float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// String summarizes the result in one line.
func (r Result) String() string {
	return fmt.Sprintf("%s: best dice %.4f at epoch %d of %d (%.1fs)", r.Tag, r.BestDice, r.BestEpoch, r.EpochsRun, r.TotalTime)
}
