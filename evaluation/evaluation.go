// Package evaluation measures a trained checkpoint on a held-out split and renders its reports:
// the metrics summary, ROC and precision-recall curves, and prediction panels.
package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
	"github.com/sharnoff/forestseg/dataset"
	"github.com/sharnoff/forestseg/metrics"
	"github.com/sharnoff/forestseg/unet"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Names of the files written to the output directory
const (
	ReportFile    = "evaluation.json"
	ROCFile       = "roc_curve.png"
	PRFile        = "precision_recall_curve.png"
	ConfusionFile = "confusion_matrix.png"
)

// PredictionsFile returns the name of the prediction panel drawn with 'seed'.
func PredictionsFile(seed int64, encoder string) string {
	return fmt.Sprintf("predictions_%d_%s.png", seed, encoder)
}

// Options configures an evaluation.
type Options struct {
	Fs         afero.Fs
	Checkpoint string
	Data       *dataset.Loader
	OutDir     string

	// Threshold on the forest probability, default 0.5
	Threshold float64

	// Seeds pick the samples of the prediction panels, one panel per seed. Samples is the number
	// of rows in each, default 3.
	Seeds   []int64
	Samples int

	// Table, if not nil, receives the summary table
	Table io.Writer

	Log log.FieldLogger
}

// Report is the outcome of an evaluation. Every value is finite.
type Report struct {
	Tag        string `json:"experiment_tag"`
	Checkpoint string `json:"checkpoint"`
	// Epoch is the epoch the checkpoint was saved at, if known
	Epoch string `json:"epoch,omitempty"`

	Threshold float64 `json:"threshold"`
	Tiles     int     `json:"tiles"`
	Pixels    int64   `json:"pixels"`

	Metrics   metrics.Summary       `json:"metrics"`
	Confusion metrics.Confusion     `json:"confusion"`
	Classes   []metrics.ClassReport `json:"classification_report"`
	AUC       float64               `json:"roc_auc"`
	AP        float64               `json:"average_precision"`

	// TileDice describes the GeneralizedDice of each tile on its own
	TileDice metrics.Description `json:"tile_dice"`

	Files []string `json:"files"`
}

func (o *Options) defaults() error {
	if o.Fs == nil {
		return errors.Errorf("Fs is nil")
	} else if o.Data == nil {
		return errors.Errorf("No data to evaluate on")
	}

	if o.Threshold == 0 {
		o.Threshold = 0.5
	}
	if o.Samples == 0 {
		o.Samples = 3
	}
	if o.Log == nil {
		o.Log = log.StandardLogger()
	}
	return nil
}

// Run loads the checkpoint and evaluates it over every sample of the data, writing the report,
// confusion matrix, curves and prediction panels to OutDir.
func Run(o Options) (Report, error) {
	if err := o.defaults(); err != nil {
		return Report{}, errors.Wrap(err, "Can't evaluate")
	}

	model, meta, err := unet.Load(o.Fs, o.Checkpoint)
	if err != nil {
		return Report{}, errors.Wrapf(err, "Can't evaluate %q", o.Checkpoint)
	}

	logger := o.Log.WithField("tag", model.Opts.Tag())
	rep, scores, err := Measure(model, o.Data, o.Threshold)
	if err != nil {
		return rep, err
	}
	rep.Checkpoint = o.Checkpoint
	rep.Epoch = meta["epoch"]

	if err = o.Fs.MkdirAll(o.OutDir, 0755); err != nil {
		return rep, errors.Wrapf(err, "Failed to create %q", o.OutDir)
	}

	if err = PlotConfusion(o.Fs, filepath.Join(o.OutDir, ConfusionFile), rep.Confusion); err != nil {
		return rep, err
	}
	rep.Files = append(rep.Files, ConfusionFile)

	curves := scores.Curves()
	rep.AUC, rep.AP = curves.AUC, curves.AP

	if curves.TPR == nil {
		logger.Warn("Only one class present, skipping ROC and precision-recall curves")
	} else {
		if err = PlotROC(o.Fs, filepath.Join(o.OutDir, ROCFile), curves); err != nil {
			return rep, err
		}
		if err = PlotPR(o.Fs, filepath.Join(o.OutDir, PRFile), curves); err != nil {
			return rep, err
		}
		rep.Files = append(rep.Files, ROCFile, PRFile)
	}

	if len(o.Seeds) != 0 && o.Data.Source.Len() == 0 {
		logger.Warn("No samples to evaluate, skipping prediction panels")
		o.Seeds = nil
	}

	for _, seed := range o.Seeds {
		name := PredictionsFile(seed, model.Opts.Encoder)
		err = SavePredictions(o.Fs, filepath.Join(o.OutDir, name), model, o.Data.Source, seed, o.Samples, o.Threshold)
		if err != nil {
			return rep, err
		}
		rep.Files = append(rep.Files, name)
	}

	if err = writeJSON(o.Fs, filepath.Join(o.OutDir, ReportFile), rep); err != nil {
		return rep, err
	}

	if o.Table != nil {
		if err = WriteTable(o.Table, rep); err != nil {
			return rep, errors.Wrap(err, "Failed to write summary table")
		}
	}

	logger.WithFields(log.Fields{"dice": rep.Metrics.GeneralizedDice, "auc": rep.AUC}).Info("Evaluation done")
	return rep, nil
}

// Measure runs the model over every sample of the loader, thresholding the sigmoid output. It
// returns the report without curves or files, and the scores the curves are built from.
func Measure(model *unet.Model, l *dataset.Loader, threshold float64) (Report, *metrics.Scores, error) {
	rep := Report{Tag: model.Opts.Tag(), Threshold: threshold}
	scores := new(metrics.Scores)
	cf := model.Net.CostFunction()

	var lossTotal float64
	var perTile []float64

	err := l.Epoch(0, func(batch []dataset.Sample) error {
		for _, s := range batch {
			logits, err := model.Forward(s.Image)
			if err != nil {
				return errors.Wrapf(err, "Sample %q", s.Name)
			} else if len(logits) != len(s.Mask) {
				return errors.Wrapf(seg.SizeMismatchError{What: "mask", Got: len(s.Mask), Need: len(logits)}, "Sample %q", s.Name)
			}

			probs := seg.Sigmoids(logits)
			var tile metrics.Confusion
			if err = tile.Update(probs, s.Mask, threshold); err != nil {
				return err
			} else if err = scores.Add(probs, s.Mask); err != nil {
				return err
			}

			rep.Confusion.Add(tile)
			perTile = append(perTile, tile.GeneralizedDice())
			lossTotal += cf.Cost(logits, s.Mask)
		}
		return nil
	})
	if err != nil {
		return rep, scores, errors.Wrapf(err, "Failed to evaluate %s", rep.Tag)
	}

	rep.Tiles = len(perTile)
	rep.Pixels = rep.Confusion.Total()
	loss := 0.0
	if rep.Tiles != 0 {
		loss = lossTotal / float64(rep.Tiles)
	}
	rep.Metrics = rep.Confusion.Summarize(loss)
	rep.Classes = rep.Confusion.Report()
	rep.TileDice = metrics.Describe(perTile)

	return rep, scores, nil
}

func writeJSON(fs afero.Fs, path string, v interface{}) error {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "Failed to encode %q", path)
	}

	return errors.Wrapf(afero.WriteFile(fs, path, bs, 0644), "Failed to write %q", path)
}

// WriteTable prints the classification report and overall metrics as aligned columns.
func WriteTable(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "%s\tprecision\trecall\tf1-score\tsupport\t\n", r.Tag)
	for _, c := range r.Classes {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%d\t\n", c.Class, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintln(tw, "\t\t\t\t\t")

	rows := []struct {
		name string
		v    float64
	}{
		{"loss", r.Metrics.Loss},
		{metrics.GeneralizedDice, r.Metrics.GeneralizedDice},
		{metrics.IoU, r.Metrics.IoU},
		{"ROC AUC", r.AUC},
		{"AP", r.AP},
		{"tile dice (median)", r.TileDice.Median},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%.4f\t\t\t\t\n", row.name, row.v)
	}

	return tw.Flush()
}
