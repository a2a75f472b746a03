// Package experiment trains and evaluates every run of a configured experiment.
package experiment

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/config"
	"github.com/sharnoff/forestseg/costfuncs"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/evaluation"
	"github.com/sharnoff/forestseg/training"
	"github.com/sharnoff/forestseg/unet"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ResultsFile is written to the experiment's output directory after training, and again after
// evaluation.
const ResultsFile = "experiment_results.json"

// Host describes the machine a run was trained on.
type Host struct {
	CPU     string `json:"cpu"`
	Cores   int    `json:"logical_cores"`
	HeapMB  uint64 `json:"heap_mb"`
	HeapStr string `json:"heap"`
}

func host() Host {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Host{
		CPU:     cpuid.CPU.BrandName,
		Cores:   cpuid.CPU.LogicalCores,
		HeapMB:  ms.HeapSys / (1 << 20),
		HeapStr: humanize.Bytes(ms.HeapSys),
	}
}

// RunResult is the outcome of one run.
type RunResult struct {
	Config config.Run `json:"config"`
	training.Result
	Host Host `json:"host"`

	Evaluation *evaluation.Report `json:"evaluation,omitempty"`
}

// Options configures Run.
type Options struct {
	Fs         afero.Fs
	Experiment config.Experiment
	Log        log.FieldLogger

	// Table, if not nil, receives the summary table of each evaluation
	Table io.Writer
}

// Data are the loaders of an experiment.
type Data struct {
	Train, Val, Eval *dataset.Loader
}

// Open opens the splits of the experiment. Only the training split is augmented.
func Open(fs afero.Fs, e config.Experiment) (Data, error) {
	open := func(s config.Split, augment bool, seed int64) (*dataset.Dataset, error) {
		d, err := dataset.Open(fs, s.Images, s.Masks, seed)
		if err != nil {
			return nil, err
		}

		if augment {
			d.Transforms = append(d.Transforms, dataset.Augment()...)
		}
		if e.InputSize != e.TileSize {
			d.Transforms = append(d.Transforms, dataset.Resize(e.InputSize, e.InputSize))
		}
		d.Normalize = e.Normalize
		return d, nil
	}

	var data Data
	train, err := open(e.Train, e.Augment, e.Seed)
	if err != nil {
		return data, errors.Wrap(err, "Can't open training split")
	}
	val, err := open(e.Val, false, e.Seed)
	if err != nil {
		return data, errors.Wrap(err, "Can't open validation split")
	}

	data.Train = dataset.NewLoader(train, e.BatchSize)
	data.Train.Shuffle = true
	data.Train.Seed = e.Seed
	data.Val = dataset.NewLoader(val, e.BatchSize)
	data.Eval = data.Val

	if e.EvalData() != e.Val {
		ev, err := open(e.EvalData(), false, e.Seed)
		if err != nil {
			return data, errors.Wrap(err, "Can't open evaluation split")
		}
		data.Eval = dataset.NewLoader(ev, e.BatchSize)
	}

	return data, nil
}

// ModelOptions returns the options of the model trained by 'r'.
func ModelOptions(e config.Experiment, r config.Run) (unet.Options, error) {
	o := unet.DefaultOptions(r.Encoder, e.InputSize)
	o.DecoderAttention = r.DecoderAttention
	o.InChannels = e.Channels
	o.Seed = e.Seed

	var err error
	o.Loss, err = costfuncs.ByName(e.Loss, e.BCEWeight, e.DiceWeight)
	return o, err
}

// TrainingArgs returns the settings 'e' trains every run with. The returned Args have no model,
// data or output directory.
func TrainingArgs(e config.Experiment) training.Args {
	// zero disables the penalty and clipping here, where the training defaults would apply
	disabled := func(v float64) float64 {
		if v == 0 {
			return -1
		}
		return v
	}

	return training.Args{
		Epochs:          e.Epochs,
		Patience:        e.Patience,
		Optimizer:       e.Optimizer,
		LearningRate:    e.LearningRate,
		Penalty:         e.Penalty,
		WeightDecay:     disabled(e.WeightDecay),
		ClipNorm:        disabled(e.ClipNorm),
		Schedule:        e.LRSchedule,
		PlateauPatience: e.PlateauPatience,
		PlateauFactor:   e.PlateauFactor,
		Steps:           e.LRSteps,
	}
}

// Run trains every run of the experiment in order, then evaluates each best checkpoint and
// draws its training curves. Training stops at the first failed run; the results of the runs
// before it are still written.
func Run(o Options) ([]RunResult, error) {
	e := o.Experiment
	if o.Log == nil {
		o.Log = log.StandardLogger()
	}
	logger := o.Log.WithField("experiment", e.Name)

	if err := e.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Invalid experiment %q", e.Name)
	}

	data, err := Open(o.Fs, e)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"train": data.Train.Source.Len(),
		"val":   data.Val.Source.Len(),
		"eval":  data.Eval.Source.Len(),
	}).Info("Opened dataset")

	if err = o.Fs.MkdirAll(e.OutDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "Failed to create %q", e.OutDir)
	}

	var results []RunResult
	for _, r := range e.Runs {
		res, err := train(o, data, r, logger)
		if err != nil {
			if werr := writeResults(o.Fs, e.OutDir, results); werr != nil {
				logger.WithError(werr).Error("Failed to save results")
			}
			return results, errors.Wrapf(err, "Run %s failed", r.Tag())
		}
		results = append(results, res)
	}

	if err = writeResults(o.Fs, e.OutDir, results); err != nil {
		return results, err
	}

	for i := range results {
		if err = evaluate(o, data, &results[i], logger); err != nil {
			return results, err
		}
	}

	return results, writeResults(o.Fs, e.OutDir, results)
}

func train(o Options, data Data, r config.Run, logger log.FieldLogger) (RunResult, error) {
	e := o.Experiment
	mo, err := ModelOptions(e, r)
	if err != nil {
		return RunResult{}, err
	}
	model, err := unet.New(mo)
	if err != nil {
		return RunResult{}, err
	}

	if err = o.Fs.MkdirAll(r.OutDir, 0755); err != nil {
		return RunResult{}, errors.Wrapf(err, "Failed to create %q", r.OutDir)
	}

	args := TrainingArgs(e)
	args.Model = model
	args.Train, args.Val = data.Train, data.Val
	args.Fs = o.Fs
	args.OutDir = r.OutDir
	args.Log = logger

	res, err := training.Train(args)

	out := RunResult{Config: r, Result: res, Host: host()}
	if err == nil {
		logger.WithField("tag", r.Tag()).Infof("%v (%s per epoch)", res, time.Duration(res.AvgEpochTime*float64(time.Second)).Round(time.Millisecond))
	}
	return out, err
}

func evaluate(o Options, data Data, res *RunResult, logger log.FieldLogger) error {
	e := o.Experiment
	r := res.Config
	l := logger.WithField("tag", r.Tag())

	title := fmt.Sprintf("Training Curves (%s)", r.Encoder)
	curves := filepath.Join(r.OutDir, evaluation.CurvesFile)
	if err := evaluation.PlotTraining(o.Fs, curves, title, res.TrainMetrics, res.ValMetrics); err != nil {
		return err
	}

	if res.Checkpoint == "" {
		l.Warn("No checkpoint was saved, skipping evaluation")
		return nil
	}

	rep, err := evaluation.Run(evaluation.Options{
		Fs:         o.Fs,
		Checkpoint: res.Checkpoint,
		Data:       data.Eval,
		OutDir:     r.OutDir,
		Threshold:  e.Threshold,
		Seeds:      e.PredictionSeeds,
		Samples:    e.PredictionSamples,
		Table:      o.Table,
		Log:        l,
	})
	if err != nil {
		return errors.Wrapf(err, "Evaluation of %s failed", r.Tag())
	}

	res.Evaluation = &rep
	return nil
}

func writeResults(fs afero.Fs, dir string, results []RunResult) error {
	if results == nil {
		results = []RunResult{}
	}

	bs, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Failed to encode results")
	}

	path := filepath.Join(dir, ResultsFile)
	return errors.Wrapf(afero.WriteFile(fs, path, bs, 0644), "Failed to write %q", path)
}

// ReadResults reads the results written by Run.
func ReadResults(fs afero.Fs, dir string) ([]RunResult, error) {
	path := filepath.Join(dir, ResultsFile)
	bs, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read %q", path)
	}

	var results []RunResult
	if err = json.Unmarshal(bs, &results); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse %q", path)
	}
	return results, nil
}
