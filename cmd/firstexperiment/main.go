// Command firstexperiment trains and compares the four encoders on the reference tiles.
package main

import (
	"os"

	arg "github.com/alexflint/go-arg"
	"github.com/sharnoff/forestseg/config"
	"github.com/sharnoff/forestseg/experiment"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	var args experiment.Args
	arg.MustParse(&args)

	if err := experiment.Main(afero.NewOsFs(), config.First(), args, os.Stdout, log.StandardLogger()); err != nil {
		log.Fatal(err)
	}
}
