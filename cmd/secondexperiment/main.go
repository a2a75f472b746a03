// Command secondexperiment trains one encoder on the tiles built by preprocess.
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

	if err := experiment.Main(afero.NewOsFs(), config.Second(), args, os.Stdout, log.StandardLogger()); err != nil {
		log.Fatal(err)
	}
}
