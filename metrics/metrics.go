// Package metrics accumulates pixel-level segmentation scores: confusion counts, the overlap and
// classification metrics derived from them, and threshold-free ROC and precision-recall curves.
package metrics

import (
	"github.com/pkg/errors"
	seg "github.com/sharnoff/forestseg"
)

// Names of the metrics reported for every epoch, in the order they are reported.
const (
	GeneralizedDice = "GeneralizedDice"
	IoU             = "IoU"
	Precision       = "Precision"
	Recall          = "Recall"
	F1              = "F1"
)

// Names lists every metric of a Summary other than the loss.
var Names = []string{GeneralizedDice, IoU, Precision, Recall, F1}

// Confusion counts binary predictions against targets, with the forest class as positive.
type Confusion struct {
	TP, FP, TN, FN int64
}

// Update adds predictions to the counts: a pixel is predicted positive if its score is above
// 'threshold', and is positive if its target is above 0.5.
func (c *Confusion) Update(scores, targets []float64, threshold float64) error {
	if len(scores) != len(targets) {
		return seg.SizeMismatchError{What: "targets", Got: len(targets), Need: len(scores)}
	}

	for i, s := range scores {
		pred, truth := s > threshold, targets[i] > 0.5
		switch {
		case pred && truth:
			c.TP++
		case pred:
			c.FP++
		case truth:
			c.FN++
		default:
			c.TN++
		}
	}

	return nil
}

// UpdateLogits is Update for raw network outputs, where a logit above 0 is a probability above
// 0.5.
func (c *Confusion) UpdateLogits(logits, targets []float64) error {
	return c.Update(logits, targets, 0)
}

// Add adds the counts of another Confusion.
func (c *Confusion) Add(o Confusion) {
	c.TP += o.TP
	c.FP += o.FP
	c.TN += o.TN
	c.FN += o.FN
}

// Reset clears all counts.
func (c *Confusion) Reset() {
	*c = Confusion{}
}

// Total returns the number of pixels counted.
func (c Confusion) Total() int64 {
	return c.TP + c.FP + c.TN + c.FN
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Precision is TP / (TP + FP), or 0 if nothing was predicted positive.
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall is TP / (TP + FN), or 0 if there are no positives.
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	return ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// IoU is TP / (TP + FP + FN) for the positive class.
func (c Confusion) IoU() float64 {
	return ratio(c.TP, c.TP+c.FP+c.FN)
}

// Dice returns the Dice score of the positive class (forest) and of the negative class
// (background), and whether each class occurs in either the predictions or the targets.
func (c Confusion) Dice() (forest, background float64, hasForest, hasBackground bool) {
	fd := 2*c.TP + c.FP + c.FN
	bd := 2*c.TN + c.FP + c.FN
	return ratio(2*c.TP, fd), ratio(2*c.TN, bd), fd != 0, bd != 0
}

// GeneralizedDice is the mean Dice score of both classes. A class that occurs in neither the
// predictions nor the targets is left out of the mean; with no pixels at all it is 0.
func (c Confusion) GeneralizedDice() float64 {
	f, b, hasF, hasB := c.Dice()
	switch {
	case hasF && hasB:
		return (f + b) / 2
	case hasF:
		return f
	case hasB:
		return b
	default:
		return 0
	}
}

// Summary is the loss and metrics of one pass over a split.
type Summary struct {
	Loss            float64 `json:"loss" csv:"loss"`
	GeneralizedDice float64 `json:"GeneralizedDice" csv:"GeneralizedDice"`
	IoU             float64 `json:"IoU" csv:"IoU"`
	Precision       float64 `json:"Precision" csv:"Precision"`
	Recall          float64 `json:"Recall" csv:"Recall"`
	F1              float64 `json:"F1" csv:"F1"`
}

// Summarize returns the metrics of the counts with the given mean loss.
func (c Confusion) Summarize(loss float64) Summary {
	return Summary{
		Loss:            loss,
		GeneralizedDice: c.GeneralizedDice(),
		IoU:             c.IoU(),
		Precision:       c.Precision(),
		Recall:          c.Recall(),
		F1:              c.F1(),
	}
}

// Get returns a metric by name; "loss" gives the loss.
func (s Summary) Get(name string) (float64, error) {
	switch name {
	case "loss":
		return s.Loss, nil
	case GeneralizedDice:
		return s.GeneralizedDice, nil
	case IoU:
		return s.IoU, nil
	case Precision:
		return s.Precision, nil
	case Recall:
		return s.Recall, nil
	case F1:
		return s.F1, nil
	}

	return 0, errors.Errorf("Unknown metric %q", name)
}

// ClassReport is one row of a classification report.
type ClassReport struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int64   `json:"support"`
}

// Report returns the per-class precision, recall, F1 and support, background first.
func (c Confusion) Report() []ClassReport {
	// the background class swaps the roles of positives and negatives
	bg := Confusion{TP: c.TN, FP: c.FN, TN: c.TP, FN: c.FP}
	return []ClassReport{
		{Class: "Background", Precision: bg.Precision(), Recall: bg.Recall(), F1: bg.F1(), Support: c.TN + c.FP},
		{Class: "Forest", Precision: c.Precision(), Recall: c.Recall(), F1: c.F1(), Support: c.TP + c.FN},
	}
}
