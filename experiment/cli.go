package experiment

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Args are the command-line flags of the experiment commands. Each can also be given through
// the environment.
type Args struct {
	Config  string `arg:"--config,env:EXPERIMENT_CONFIG" help:"YAML file overriding the preset"`
	Epochs  int    `arg:"--epochs,env:EXPERIMENT_EPOCHS" help:"maximum number of epochs per run"`
	Out     string `arg:"--out,env:EXPERIMENT_OUT" help:"output directory of the experiment"`
	Verbose bool   `arg:"-v,--verbose,env:EXPERIMENT_VERBOSE" help:"log every state change"`
}

// Resolve applies the configuration file and flags on top of 'preset'.
func (a Args) Resolve(fs afero.Fs, preset config.Experiment) (config.Experiment, error) {
	e := preset
	if a.Config != "" {
		var err error
		if e, err = config.Load(fs, a.Config, e); err != nil {
			return e, err
		}
	}

	if a.Epochs != 0 {
		e.Epochs = a.Epochs
	}
	if a.Out != "" {
		e.Rebase(a.Out)
	}

	return e, e.Validate()
}

// Main runs 'preset' as configured by 'args', printing evaluation tables to 'out'.
func Main(fs afero.Fs, preset config.Experiment, args Args, out io.Writer, logger *log.Logger) error {
	if args.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	e, err := args.Resolve(fs, preset)
	if err != nil {
		return errors.Wrapf(err, "Can't configure experiment %q", preset.Name)
	}

	logger.WithFields(log.Fields{
		"experiment": e.Name,
		"runs":       len(e.Runs),
		"epochs":     e.Epochs,
		"out":        e.OutDir,
	}).Info("Starting experiment")

	results, err := Run(Options{Fs: fs, Experiment: e, Log: logger, Table: out})
	for _, r := range results {
		logger.Info(r.Result.String())
	}
	return err
}
