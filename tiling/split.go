package tiling

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/raster"
	"github.com/spf13/afero"
)

// Names of the split directories.
const (
	TrainDir      = "Training"
	ValidationDir = "Validation"
	TestDir       = "Test"
)

// Ratios gives the fraction of tiles in each split.
type Ratios struct {
	Train, Validation, Test float64
}

// DefaultRatios is an 80/15/5 split.
var DefaultRatios = Ratios{Train: 0.8, Validation: 0.15, Test: 0.05}

// Validate returns an error if any ratio is outside [0, 1] or they don't sum to 1.
func (r Ratios) Validate() error {
	for _, v := range []float64{r.Train, r.Validation, r.Test} {
		if v < 0 || v > 1 {
			return errors.Errorf("Split ratio %v is not in [0, 1]", v)
		}
	}

	if sum := r.Train + r.Validation + r.Test; sum < 1-1e-6 || sum > 1+1e-6 {
		return errors.Errorf("Split ratios must sum to 1 (%v)", sum)
	}

	return nil
}

// SplitReport lists the tiles copied into each split.
type SplitReport struct {
	Train, Validation, Test []string
}

// TileNames returns the sorted names of the *.tif files of 'dir'.
func TileNames(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list %q", dir)
	}

	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".tif") {
			names = append(names, info.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// Split copies the tiles of 'base'/images and 'base'/labels into the Training, Validation and
// Test directories of 'out', replacing whatever those held before. Only names present in both are used. They are shuffled with 'seed'
// and cut at int(n*train) and int(n*(train+validation)), so the same inputs always give the same
// split.
func Split(fs afero.Fs, base, out string, ratios Ratios, seed int64) (SplitReport, error) {
	var rep SplitReport

	if err := ratios.Validate(); err != nil {
		return rep, err
	}

	images, err := TileNames(fs, filepath.Join(base, ImagesDir))
	if err != nil {
		return rep, err
	}
	labels, err := TileNames(fs, filepath.Join(base, LabelsDir))
	if err != nil {
		return rep, err
	}

	hasLabel := make(map[string]bool, len(labels))
	for _, l := range labels {
		hasLabel[l] = true
	}

	var names []string
	for _, n := range images {
		if hasLabel[n] {
			names = append(names, n)
		}
	}

	rand.New(rand.NewSource(seed)).Shuffle(len(names), func(i, j int) {
		names[i], names[j] = names[j], names[i]
	})

	n := float64(len(names))
	trainEnd := int(n * ratios.Train)
	valEnd := int(n * (ratios.Train + ratios.Validation))
	if valEnd > len(names) {
		valEnd = len(names)
	}

	rep.Train = names[:trainEnd]
	rep.Validation = names[trainEnd:valEnd]
	rep.Test = names[valEnd:]

	// a tile left from an earlier split could otherwise end up in two splits
	for _, dir := range []string{TrainDir, ValidationDir, TestDir} {
		for _, sub := range []string{ImagesDir, LabelsDir} {
			path := filepath.Join(out, dir, sub)
			if err := fs.RemoveAll(path); err != nil {
				return rep, errors.Wrapf(err, "Failed to clear %q", path)
			}
		}
	}

	for dir, set := range map[string][]string{TrainDir: rep.Train, ValidationDir: rep.Validation, TestDir: rep.Test} {
		for _, name := range set {
			for _, sub := range []string{ImagesDir, LabelsDir} {
				src := filepath.Join(base, sub, name)
				dst := filepath.Join(out, dir, sub, name)
				if err := copyTile(fs, src, dst); err != nil {
					return rep, err
				}
			}
		}
	}

	return rep, nil
}

// copyTile copies a tile and, if it has one, its sidecar.
func copyTile(fs afero.Fs, src, dst string) error {
	if err := copyFile(fs, src, dst); err != nil {
		return err
	}

	err := copyFile(fs, raster.SidecarPath(src), raster.SidecarPath(dst))
	if os.IsNotExist(errors.Cause(err)) {
		return nil
	}
	return err
}

func copyFile(fs afero.Fs, src, dst string) error {
	b, err := afero.ReadFile(fs, src)
	if err != nil {
		return errors.Wrapf(err, "Failed to read %q", src)
	}

	if err = fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create directory for %q", dst)
	} else if err = afero.WriteFile(fs, dst, b, 0644); err != nil {
		return errors.Wrapf(err, "Failed to write %q", dst)
	}

	return nil
}
