package tiling

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/raster"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Options configures Preprocess.
type Options struct {
	Fs afero.Fs

	// SentinelDir holds one sub-directory of band files per scene
	SentinelDir string
	// SentinelOut receives the stacked image and labels of every scene
	SentinelOut string
	// LabelPath is the classified label raster covering all scenes
	LabelPath string
	// TilesDir receives the tiles of all scenes, before splitting
	TilesDir string
	// DatasetDir receives the Training, Validation and Test splits
	DatasetDir string

	ForestValue     uint16
	TileSize        int
	NoDataThreshold float64
	Ratios          Ratios
	Seed            int64

	Log log.FieldLogger
}

// DefaultOptions returns the settings of the standard preprocessing run, without paths.
func DefaultOptions(fs afero.Fs) Options {
	return Options{
		Fs:              fs,
		ForestValue:     100,
		TileSize:        512,
		NoDataThreshold: 0.1,
		Ratios:          DefaultRatios,
		Seed:            42,
		Log:             log.StandardLogger(),
	}
}

// ScenePaths are the files Preprocess writes for a scene called 'key'.
type ScenePaths struct {
	Image, Label, Binary string
}

// PathsFor returns the output paths of a scene.
func (o Options) PathsFor(key string) ScenePaths {
	dir := filepath.Join(o.SentinelOut, key)
	return ScenePaths{
		Image:  filepath.Join(dir, key+".tif"),
		Label:  filepath.Join(dir, key+"_LABEL.tif"),
		Binary: filepath.Join(dir, key+"_LABEL_BINARY.tif"),
	}
}

// Result summarizes a preprocessing run.
type Result struct {
	Scenes  []string
	Skipped map[string]error
	Tiles   Report
	Split   SplitReport
}

// Preprocess runs every scene of SentinelDir through band stacking, 8-bit scaling, label clipping
// and binarization, tiles it, and finally splits all tiles. Tiles and splits of an earlier run
// in the same directories are replaced. A scene that fails is logged and skipped. Errors reading
// the label raster or splitting abort the run.
func Preprocess(o Options) (Result, error) {
	res := Result{Skipped: make(map[string]error)}

	if o.Log == nil {
		o.Log = log.StandardLogger()
	}

	label, err := raster.Read(o.Fs, o.LabelPath)
	if err != nil {
		return res, errors.Wrap(err, "Can't read label raster")
	}

	scenes, err := Scenes(o.Fs, o.SentinelDir)
	if err != nil {
		return res, err
	}

	// tiles of scenes that are gone or now fail must not outlive this run
	for _, sub := range []string{ImagesDir, LabelsDir} {
		dir := filepath.Join(o.TilesDir, sub)
		if err = o.Fs.RemoveAll(dir); err != nil {
			return res, errors.Wrapf(err, "Failed to clear %q", dir)
		}
	}

	gen := NewGenerator(o.Fs, o.TileSize, o.NoDataThreshold)
	gen.Log = o.Log

	for _, key := range scenes {
		logger := o.Log.WithField("scene", key)

		p, err := o.scene(key, label)
		if err != nil {
			logger.WithError(err).Error("Skipping scene")
			res.Skipped[key] = err
			continue
		}

		rep, err := gen.Generate(Pair{Image: p.Image, Label: p.Binary, Prefix: key}, o.TilesDir)
		res.Tiles.add(rep)
		if err != nil {
			logger.WithError(err).Error("Skipping scene")
			res.Skipped[key] = err
			continue
		}

		logger.WithFields(log.Fields{
			"written":    rep.Written,
			"discarded":  rep.Discarded,
			"incomplete": rep.Incomplete,
		}).Info("Tiled scene")
		res.Scenes = append(res.Scenes, key)
	}

	if res.Split, err = Split(o.Fs, o.TilesDir, o.DatasetDir, o.Ratios, o.Seed); err != nil {
		return res, errors.Wrap(err, "Failed to split tiles")
	}

	o.Log.WithFields(log.Fields{
		"train":      len(res.Split.Train),
		"validation": len(res.Split.Validation),
		"test":       len(res.Split.Test),
	}).Info("Split dataset")

	return res, nil
}

func (o Options) scene(key string, label *raster.Raster) (ScenePaths, error) {
	p := o.PathsFor(key)

	stacked, err := StackBands(o.Fs, filepath.Join(o.SentinelDir, key))
	if err != nil {
		return p, err
	}

	img, err := ScaleTo8Bit(stacked)
	if err != nil {
		return p, err
	} else if err = raster.Write(o.Fs, p.Image, img); err != nil {
		return p, err
	}

	clipped, err := ClipToGrid(label, img)
	if err != nil {
		return p, errors.Wrapf(err, "Can't clip label to %q", p.Image)
	} else if err = raster.Write(o.Fs, p.Label, clipped); err != nil {
		return p, err
	}

	bin, err := Binarize(clipped, o.ForestValue)
	if err != nil {
		return p, err
	} else if err = raster.Write(o.Fs, p.Binary, bin); err != nil {
		return p, err
	}

	return p, nil
}
