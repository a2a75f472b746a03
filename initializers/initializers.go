// Package initializers provides the starting weights of Nodes. Importing it sets He as the
// default Initializer.
package initializers

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

func init() {
	seg.SetDefaultInitializer(He())
}

type random struct {
	RNG
}

// Random returns an Initializer that draws every weight from the RNG, with no scaling.
func Random(g RNG) random {
	return random{g}
}

// Set is the implementation of forestseg.Initializer
func (r random) Set(n *seg.Node, ws []float64) {
	for i := range ws {
		ws[i] = r.Gen()
	}
}

// Uniform returns an Initializer drawing uniformly from [lower, upper).
func Uniform(lower, upper float64) random {
	return Random(UniformRNG(lower, upper))
}

type varianceScaling struct {
	// either: "in", "out", "avg"
	mode   string
	factor float64
}

// VarianceScaling returns an Initializer drawing from a truncated normal distribution with
// variance factor/fan, where fan is the fan-in, the fan-out, or their average depending on the
// mode: "in", "out" or "avg".
func VarianceScaling(mode string, factor float64) *varianceScaling {
	return &varianceScaling{mode, factor}
}

// Set is the implementation of forestseg.Initializer
func (v *varianceScaling) Set(n *seg.Node, ws []float64) {
	in, out := n.Fans()

	var fan float64
	switch v.mode {
	case "in":
		fan = float64(in)
	case "out":
		fan = float64(out)
	default:
		fan = float64(in+out) / 2
	}

	Random(TruncNormal(0, math.Sqrt(v.factor/fan))).Set(n, ws)
}

// He scales by the fan-in with a factor of 2, for layers followed by ReLU.
func He() *varianceScaling {
	return VarianceScaling("in", 2)
}

// LeCun scales by the fan-in with a factor of 1.
func LeCun() *varianceScaling {
	return VarianceScaling("in", 1)
}

// Xavier scales by the average of fan-in and fan-out with a factor of 1.
func Xavier() *varianceScaling {
	return VarianceScaling("avg", 1)
}

var byName = map[string]func() seg.Initializer{
	"he":      func() seg.Initializer { return He() },
	"lecun":   func() seg.Initializer { return LeCun() },
	"xavier":  func() seg.Initializer { return Xavier() },
	"uniform": func() seg.Initializer { return Uniform(-0.05, 0.05) },
}

// ByName returns the Initializer with the given name.
func ByName(name string) (seg.Initializer, error) {
	f, ok := byName[name]
	if !ok {
		return nil, errors.Errorf("Initializer %q does not exist (available: %v)", name, Names())
	}

	return f(), nil
}

// Names returns the names accepted by ByName.
func Names() []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}

	sort.Strings(names)
	return names
}
