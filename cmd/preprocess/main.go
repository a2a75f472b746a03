// Command preprocess stacks Sentinel-2 scenes, aligns the label raster to each, and cuts both into
// training, validation and test tiles.
package main

import (
	arg "github.com/alexflint/go-arg"
	"github.com/sharnoff/forestseg/tiling"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	args := struct {
		SentinelDir     string  `arg:"--sentinel-dir" help:"one directory of band files per scene"`
		SentinelOut     string  `arg:"--sentinel-out" help:"where stacked scenes and their labels are written"`
		LabelPath       string  `arg:"--label-path" help:"classified label raster covering every scene"`
		TilesDir        string  `arg:"--tiles-dir" help:"where tiles are written before splitting"`
		DatasetDir      string  `arg:"--dataset-dir" help:"where the Training, Validation and Test splits are written"`
		ForestValue     uint16  `arg:"--forest-value" help:"label value of forest"`
		TileSize        int     `arg:"--tile-size"`
		NoDataThreshold float64 `arg:"--nodata-threshold" help:"largest no-data ratio of a kept tile"`
		Seed            int64   `arg:"--seed" help:"seed of the split shuffle"`
		Verbose         bool    `arg:"-v,--verbose"`
	}{
		SentinelDir:     "/SENTINEL_IMAGES",
		SentinelOut:     "/SENTINEL_OUTPUT",
		LabelPath:       "/prodes_amazonia_legal_2023.tif",
		TilesDir:        "/CUSTOM_TILES",
		DatasetDir:      "/CUSTOM_AMAZON",
		ForestValue:     100,
		TileSize:        512,
		NoDataThreshold: 0.1,
		Seed:            42,
	}
	arg.MustParse(&args)

	if args.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	o := tiling.DefaultOptions(afero.NewOsFs())
	o.SentinelDir = args.SentinelDir
	o.SentinelOut = args.SentinelOut
	o.LabelPath = args.LabelPath
	o.TilesDir = args.TilesDir
	o.DatasetDir = args.DatasetDir
	o.ForestValue = args.ForestValue
	o.TileSize = args.TileSize
	o.NoDataThreshold = args.NoDataThreshold
	o.Seed = args.Seed

	res, err := tiling.Preprocess(o)
	if err != nil {
		log.Fatal(err)
	}

	log.WithFields(log.Fields{
		"scenes":  len(res.Scenes),
		"skipped": len(res.Skipped),
		"tiles":   res.Tiles.Written,
	}).Info("Preprocessing done")
}
