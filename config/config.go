// Package config holds the settings of a training experiment: where its tiles are, how its
// models are trained and evaluated, and which architectures it compares.
package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/costfuncs"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/optimizers"
	"github.com/sharnoff/forestseg/penalties"
	"github.com/sharnoff/forestseg/tiling"
	"github.com/sharnoff/forestseg/training"
	"github.com/sharnoff/forestseg/unet"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Split is the pair of directories holding one partition of the dataset.
type Split struct {
	Images string `yaml:"images"`
	Masks  string `yaml:"masks"`
}

// Run is one architecture trained by an experiment.
type Run struct {
	Encoder          string `yaml:"encoder"`
	DecoderAttention string `yaml:"decoder_attention"`
	OutDir           string `yaml:"out_dir"`
}

// Tag returns the name the run's checkpoint and results are filed under.
func (r Run) Tag() string {
	return unet.Options{Encoder: r.Encoder, DecoderAttention: r.DecoderAttention}.Tag()
}

// Values of Experiment.EvalSplit
const (
	EvalVal  = "val"
	EvalTest = "test"
)

// Experiment is the full configuration of an experiment.
type Experiment struct {
	Name string `yaml:"name"`

	DataDir string `yaml:"data_dir"`
	OutDir  string `yaml:"model_runs_output"`

	Train Split `yaml:"train"`
	Val   Split `yaml:"val"`
	Test  Split `yaml:"test"`

	// EvalSplit is the split the trained checkpoints are evaluated on, EvalVal or EvalTest
	EvalSplit string `yaml:"eval_split"`

	BatchSize int   `yaml:"batch_size"`
	Epochs    int   `yaml:"epochs"`
	Seed      int64 `yaml:"seed"`

	// TileSize is the size of the tiles on disk. InputSize is what the network sees; tiles are
	// resized to it when the two differ.
	TileSize  int `yaml:"tile_size"`
	InputSize int `yaml:"input_size"`
	Channels  int `yaml:"channels"`

	NoDataThreshold float64 `yaml:"nodata_threshold"`
	Threshold       float64 `yaml:"threshold"`

	// Optimizer is "adam" or "sgd"
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`

	// Penalty is applied to the weights with strength weight_decay: "weight-decay", "l1-lasso",
	// "l2-ridge", "elastic-net" or "none". A weight_decay of 0 applies no penalty.
	Penalty     string  `yaml:"penalty"`
	WeightDecay float64 `yaml:"weight_decay"`
	// ClipNorm is the largest global gradient norm; 0 disables clipping
	ClipNorm float64 `yaml:"clip_norm"`

	// Patience is the number of epochs without a better validation Dice before stopping
	Patience int `yaml:"patience"`

	// LRSchedule is "plateau", "step" or "constant". The plateau schedule multiplies the rate by
	// plateau_factor after plateau_patience epochs without a lower validation loss; the step
	// schedule uses lr_steps.
	LRSchedule      string          `yaml:"lr_schedule"`
	PlateauPatience int             `yaml:"plateau_patience"`
	PlateauFactor   float64         `yaml:"plateau_factor"`
	LRSteps         []training.Step `yaml:"lr_steps,omitempty"`

	// Loss is "dice-bce", "dice" or "bce-logits". Only "dice-bce" uses the weights.
	Loss       string  `yaml:"loss"`
	BCEWeight  float64 `yaml:"bce_weight"`
	DiceWeight float64 `yaml:"dice_weight"`

	// Augment turns on random flips and rotations of the training tiles
	Augment   bool              `yaml:"augment"`
	Normalize dataset.Normalize `yaml:"normalize"`

	PredictionSeeds   []int64 `yaml:"prediction_seeds"`
	PredictionSamples int     `yaml:"prediction_samples"`

	Runs []Run `yaml:"runs"`
}

// base has the settings shared by both presets, with the splits under 'dataDir'.
func base(name, dataDir, outDir, labels string) Experiment {
	split := func(dir string) Split {
		return Split{
			Images: filepath.Join(dataDir, dir, "images"),
			Masks:  filepath.Join(dataDir, dir, labels),
		}
	}

	return Experiment{
		Name:    name,
		DataDir: dataDir,
		OutDir:  outDir,

		// the held-out Test directory is used for validation and the Validation directory for
		// testing
		Train: split(tiling.TrainDir),
		Val:   split(tiling.TestDir),
		Test:  split(tiling.ValidationDir),

		EvalSplit: EvalVal,

		BatchSize: 8,
		Epochs:    50,
		Seed:      42,

		TileSize:  512,
		InputSize: 512,
		Channels:  4,

		NoDataThreshold: 0.1,
		Threshold:       0.5,

		Optimizer:    "adam",
		LearningRate: 1e-3,

		Penalty:     "weight-decay",
		WeightDecay: 1e-4,
		ClipNorm:    1,

		Patience: 7,

		LRSchedule:      training.SchedulePlateau,
		PlateauPatience: 3,
		PlateauFactor:   0.5,

		Loss:       "dice-bce",
		BCEWeight:  0.5,
		DiceWeight: 0.5,

		Augment: true,

		PredictionSeeds:   []int64{42, 37, 21},
		PredictionSamples: 3,
	}
}

func runs(outDir string, encoders ...string) []Run {
	rs := make([]Run, len(encoders))
	for i, e := range encoders {
		rs[i] = Run{Encoder: e, OutDir: filepath.Join(outDir, e)}
	}
	return rs
}

// First returns the experiment comparing encoders on the reference dataset.
func First() Experiment {
	e := base("first", "/AMAZON", "/results", "label")
	e.Runs = runs(e.OutDir, "resnet18", "resnet34", "efficientnet-b0", "mobilenet_v2")
	return e
}

// Second returns the experiment training one encoder on the custom-built dataset.
func Second() Experiment {
	e := base("second", "/CUSTOM_AMAZON", "results_custom", "labels")
	e.Runs = runs(e.OutDir, "resnet18")
	return e
}

// Preset returns an experiment by name.
func Preset(name string) (Experiment, error) {
	switch strings.ToLower(name) {
	case "first":
		return First(), nil
	case "second":
		return Second(), nil
	}

	return Experiment{}, errors.Errorf("Unknown experiment preset %q", name)
}

// Load reads a YAML file over 'e'. Settings missing from the file keep their value in 'e'; a
// list given in the file replaces the whole list.
func Load(fs afero.Fs, path string, e Experiment) (Experiment, error) {
	bs, err := afero.ReadFile(fs, path)
	if err != nil {
		return e, errors.Wrapf(err, "Failed to read config %q", path)
	}

	if err = yaml.UnmarshalStrict(bs, &e); err != nil {
		return e, errors.Wrapf(err, "Failed to parse config %q", path)
	}

	return e, nil
}

// Save writes 'e' as YAML.
func Save(fs afero.Fs, path string, e Experiment) error {
	bs, err := yaml.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "Failed to encode config")
	}

	if err = fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create directory for %q", path)
	}
	return errors.Wrapf(afero.WriteFile(fs, path, bs, 0644), "Failed to write config %q", path)
}

// Rebase moves the output of the experiment to 'out'. Runs writing inside the old output
// directory are moved with it; others keep their directory.
func (e *Experiment) Rebase(out string) {
	old := e.OutDir
	e.OutDir = out
	for i, r := range e.Runs {
		rel, err := filepath.Rel(old, r.OutDir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			e.Runs[i].OutDir = filepath.Join(out, rel)
		}
	}
}

// EvalData returns the split checkpoints are evaluated on.
func (e Experiment) EvalData() Split {
	if e.EvalSplit == EvalTest {
		return e.Test
	}
	return e.Val
}

// Validate checks that the experiment can be run.
func (e Experiment) Validate() error {
	switch {
	case e.BatchSize < 1:
		return errors.Errorf("batch_size must be >= 1 (%d)", e.BatchSize)
	case e.Epochs < 1:
		return errors.Errorf("epochs must be >= 1 (%d)", e.Epochs)
	case e.TileSize < 1 || e.InputSize < 1:
		return errors.Errorf("tile_size and input_size must be >= 1 (%d, %d)", e.TileSize, e.InputSize)
	case e.Channels < 3:
		return errors.Errorf("channels must be >= 3 (%d)", e.Channels)
	case e.NoDataThreshold < 0 || e.NoDataThreshold > 1:
		return errors.Errorf("nodata_threshold must be in [0, 1] (%g)", e.NoDataThreshold)
	case e.Threshold <= 0 || e.Threshold >= 1:
		return errors.Errorf("threshold must be in (0, 1) (%g)", e.Threshold)
	case e.LearningRate <= 0:
		return errors.Errorf("learning_rate must be > 0 (%g)", e.LearningRate)
	case e.WeightDecay < 0:
		return errors.Errorf("weight_decay must be >= 0 (%g)", e.WeightDecay)
	case e.ClipNorm < 0:
		return errors.Errorf("clip_norm must be >= 0 (%g)", e.ClipNorm)
	case e.Patience < 1:
		return errors.Errorf("patience must be >= 1 (%d)", e.Patience)
	case e.PlateauPatience < 1:
		return errors.Errorf("plateau_patience must be >= 1 (%d)", e.PlateauPatience)
	case e.PlateauFactor <= 0 || e.PlateauFactor >= 1:
		return errors.Errorf("plateau_factor must be in (0, 1) (%g)", e.PlateauFactor)
	case e.BCEWeight < 0 || e.DiceWeight < 0 || e.BCEWeight+e.DiceWeight == 0:
		return errors.Errorf("bce_weight and dice_weight must be >= 0 and not both 0")
	case e.EvalSplit != EvalVal && e.EvalSplit != EvalTest:
		return errors.Errorf("eval_split must be %q or %q (%q)", EvalVal, EvalTest, e.EvalSplit)
	case len(e.Runs) == 0:
		return errors.Errorf("No runs configured")
	}

	for _, s := range []Split{e.Train, e.Val, e.EvalData()} {
		if s.Images == "" || s.Masks == "" {
			return errors.Errorf("Every split needs an images and a masks directory")
		}
	}

	if err := e.Normalize.Validate(e.Channels); err != nil {
		return err
	}

	if _, err := costfuncs.ByName(e.Loss, e.BCEWeight, e.DiceWeight); err != nil {
		return errors.Wrap(err, "Invalid loss")
	} else if _, err = optimizers.ByName(e.Optimizer); err != nil {
		return errors.Wrap(err, "Invalid optimizer")
	} else if _, err = penalties.ByName(e.Penalty, e.WeightDecay); err != nil {
		return errors.Wrap(err, "Invalid penalty")
	} else if err = training.CheckSchedule(e.LRSchedule, e.LRSteps); err != nil {
		return errors.Wrap(err, "Invalid lr_schedule")
	}

	tags := make(map[string]bool)
	for i, r := range e.Runs {
		o := unet.DefaultOptions(r.Encoder, e.InputSize)
		o.DecoderAttention = r.DecoderAttention
		o.InChannels = e.Channels
		if err := o.Check(); err != nil {
			return errors.Wrapf(err, "Run %d", i)
		}

		if r.OutDir == "" {
			return errors.Errorf("Run %d (%s) has no out_dir", i, r.Tag())
		} else if tags[r.OutDir+"/"+r.Tag()] {
			return errors.Errorf("Run %d (%s) repeats an earlier run", i, r.Tag())
		}
		tags[r.OutDir+"/"+r.Tag()] = true
	}

	return nil
}
