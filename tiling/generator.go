// Package tiling turns geo-referenced satellite images and label rasters into aligned, fixed-size
// training tiles, and splits them into datasets.
package tiling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/raster"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Directories tiles are written to, under the output directory.
const (
	ImagesDir = "images"
	LabelsDir = "labels"
)

// Generator slices aligned image and label rasters into non-overlapping square tiles.
type Generator struct {
	Fs afero.Fs

	// TileSize is the width and height of every tile
	TileSize int

	// NoDataThreshold is the largest fraction of no-data pixels a kept tile may have
	NoDataThreshold float64

	// DefaultNoData is used for images whose metadata has no no-data value
	DefaultNoData float64

	Log log.FieldLogger
}

// NewGenerator returns a Generator with no-data defaulting to 0.
func NewGenerator(fs afero.Fs, tileSize int, noDataThreshold float64) *Generator {
	return &Generator{
		Fs:              fs,
		TileSize:        tileSize,
		NoDataThreshold: noDataThreshold,
		Log:             log.StandardLogger(),
	}
}

// Pair is an image raster with the label raster aligned to it.
type Pair struct {
	Image, Label string

	// Prefix is the start of every tile name, usually the name of the scene
	Prefix string
}

// Report counts what happened to the tiles of one or more pairs.
type Report struct {
	Written    int
	Discarded  int
	Incomplete int

	// Tiles lists the names of written tiles, in the order they were written
	Tiles []string
}

func (r *Report) add(o Report) {
	r.Written += o.Written
	r.Discarded += o.Discarded
	r.Incomplete += o.Incomplete
	r.Tiles = append(r.Tiles, o.Tiles...)
}

// TileName returns the file name of the i-th tile with the given prefix.
func TileName(prefix string, i int) string {
	return fmt.Sprintf("%s_%03d.tif", prefix, i)
}

// isTileOf reports whether 'name' is a tile written with 'prefix', or the sidecar of one.
func isTileOf(name, prefix string) bool {
	name = strings.TrimSuffix(name, raster.SidecarPath(""))
	num := strings.TrimPrefix(name, prefix+"_")
	if num == name || !strings.HasSuffix(num, ".tif") {
		return false
	}

	num = strings.TrimSuffix(num, ".tif")
	if num == "" {
		return false
	}
	for _, c := range num {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// RemoveTiles deletes the tiles written with 'prefix' from 'dir'/images and 'dir'/labels, along
// with their sidecars. Directories that don't exist are skipped.
func RemoveTiles(fs afero.Fs, dir, prefix string) error {
	for _, sub := range []string{ImagesDir, LabelsDir} {
		d := filepath.Join(dir, sub)
		infos, err := afero.ReadDir(fs, d)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return errors.Wrapf(err, "Failed to list %q", d)
		}

		for _, info := range infos {
			if info.IsDir() || !isTileOf(info.Name(), prefix) {
				continue
			}

			path := filepath.Join(d, info.Name())
			if err = fs.Remove(path); err != nil {
				return errors.Wrapf(err, "Failed to remove stale tile %q", path)
			}
		}
	}

	return nil
}

// Generate writes the tiles of a single pair to 'outDir'/images and 'outDir'/labels, replacing
// any tiles an earlier call wrote there with the same prefix. Windows are visited in row-major
// order and kept tiles are numbered consecutively from 0. Tiles that would cross the right or
// bottom edge are not produced.
func (g *Generator) Generate(p Pair, outDir string) (Report, error) {
	var rep Report

	if g.TileSize < 1 {
		return rep, errors.Errorf("Tile size must be >= 1 (%d)", g.TileSize)
	}

	if err := RemoveTiles(g.Fs, outDir, p.Prefix); err != nil {
		return rep, err
	}

	img, err := raster.Read(g.Fs, p.Image)
	if err != nil {
		return rep, err
	}

	lbl, err := raster.Read(g.Fs, p.Label)
	if err != nil {
		return rep, err
	}

	if err = g.check(p, img, lbl); err != nil {
		return rep, err
	}

	if img.Geo.NoData == nil {
		nd := g.DefaultNoData
		img.Geo.NoData = &nd
	}

	cols, rows := img.Width/g.TileSize, img.Height/g.TileSize
	ceil := func(n int) int { return (n + g.TileSize - 1) / g.TileSize }
	rep.Incomplete = ceil(img.Width)*ceil(img.Height) - cols*rows
	if img.Width%g.TileSize != 0 || img.Height%g.TileSize != 0 {
		g.Log.WithFields(log.Fields{"image": p.Image, "width": img.Width, "height": img.Height}).
			Debug("Skipping incomplete tiles at the edges")
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x, y := col*g.TileSize, row*g.TileSize
			index := row*cols + col

			ti, err := img.Window(x, y, g.TileSize, g.TileSize)
			if err != nil {
				return rep, errors.Wrapf(err, "Failed to cut tile %d of %q", index, p.Image)
			}

			if ratio := ti.NoDataRatio(); ratio > g.NoDataThreshold {
				rep.Discarded++
				continue
			}

			tl, err := lbl.Window(x, y, g.TileSize, g.TileSize)
			if err != nil {
				return rep, errors.Wrapf(err, "Failed to cut tile %d of %q", index, p.Label)
			}

			name := TileName(p.Prefix, rep.Written)
			if err = raster.Write(g.Fs, filepath.Join(outDir, ImagesDir, name), ti); err != nil {
				return rep, err
			} else if err = raster.Write(g.Fs, filepath.Join(outDir, LabelsDir, name), tl); err != nil {
				return rep, err
			}

			rep.Written++
			rep.Tiles = append(rep.Tiles, name)
		}
	}

	return rep, nil
}

func (g *Generator) check(p Pair, img, lbl *raster.Raster) error {
	if img.Width != lbl.Width || img.Height != lbl.Height {
		return raster.MalformedRasterError{
			Path:   p.Label,
			Reason: fmt.Sprintf("size %dx%d does not match image %dx%d", lbl.Width, lbl.Height, img.Width, img.Height),
		}
	} else if img.Width < g.TileSize || img.Height < g.TileSize {
		return raster.MalformedRasterError{
			Path:   p.Image,
			Reason: fmt.Sprintf("size %dx%d is smaller than a tile (%d)", img.Width, img.Height, g.TileSize),
		}
	} else if img.Geo.CRS != lbl.Geo.CRS {
		return errors.Wrapf(raster.CRSMismatchError{A: img.Geo.CRS, B: lbl.Geo.CRS}, "Can't tile %q with %q", p.Image, p.Label)
	}

	return nil
}

// GenerateAll runs Generate on every pair. A pair that fails is logged and skipped; the errors
// are returned alongside the combined report.
func (g *Generator) GenerateAll(pairs []Pair, outDir string) (Report, []error) {
	var total Report
	var errs []error

	for _, p := range pairs {
		rep, err := g.Generate(p, outDir)
		total.add(rep)

		fields := log.Fields{"image": p.Image, "label": p.Label}
		if err != nil {
			g.Log.WithFields(fields).WithError(err).Error("Skipping pair")
			errs = append(errs, err)
			continue
		}

		g.Log.WithFields(fields).Infof("Wrote %d tiles, discarded %d", rep.Written, rep.Discarded)
	}

	return total, errs
}
