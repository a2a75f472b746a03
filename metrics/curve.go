package metrics

import (
	seg "github.com/sharnoff/forestseg"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Scores collects per-pixel probabilities with their labels, for curves that need every
// threshold.
type Scores struct {
	scores []float64
	labels []bool
}

// Add appends probabilities and their targets; a target above 0.5 is positive.
func (s *Scores) Add(probs, targets []float64) error {
	if len(probs) != len(targets) {
		return seg.SizeMismatchError{What: "targets", Got: len(targets), Need: len(probs)}
	}

	s.scores = append(s.scores, probs...)
	for _, t := range targets {
		s.labels = append(s.labels, t > 0.5)
	}

	return nil
}

// Len returns the number of pixels added.
func (s *Scores) Len() int {
	return len(s.scores)
}

// Curves are the ROC and precision-recall curves of a set of Scores, with one point per distinct
// threshold from the highest down.
type Curves struct {
	TPR, FPR  []float64
	Precision []float64

	// AUC is the area under the ROC curve
	AUC float64
	// AP is the average precision: the precision at each threshold weighted by the increase in
	// recall
	AP float64
}

// Recall returns the recall at each point, which is the true positive rate.
func (c Curves) Recall() []float64 {
	return c.TPR
}

// Curves computes the ROC and precision-recall curves. If either class is missing every value
// of the result is zero, since neither curve is defined.
func (s *Scores) Curves() Curves {
	var pos, neg float64
	for _, l := range s.labels {
		if l {
			pos++
		} else {
			neg++
		}
	}

	if pos == 0 || neg == 0 {
		return Curves{}
	}

	y := append([]float64(nil), s.scores...)
	classes := append([]bool(nil), s.labels...)
	stat.SortWeightedLabeled(y, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	c := Curves{TPR: tpr, FPR: fpr, Precision: make([]float64, len(tpr))}
	c.AUC = integrate.Trapezoidal(fpr, tpr)

	for i := range tpr {
		tp, fp := tpr[i]*pos, fpr[i]*neg
		if tp+fp == 0 {
			c.Precision[i] = 1
		} else {
			c.Precision[i] = tp / (tp + fp)
		}

		if i > 0 {
			c.AP += (tpr[i] - tpr[i-1]) * c.Precision[i]
		}
	}

	return c
}
