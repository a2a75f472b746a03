package hyperparams

import (
	"sort"
)

// change is the value of a stepped HyperParameter from iteration 'From' on
type change struct {
	From  int     `json:"from"`
	Value float64 `json:"value"`
}

type stepped struct {
	Changes []change `json:"changes"`
}

// Step returns a HyperParameter that is 'base' until the first change given by At.
func Step(base float64) *stepped {
	return &stepped{Changes: []change{{0, base}}}
}

// At makes the HyperParameter 'value' from iteration 'iter' on, replacing any change already at
// 'iter'. Changes can be given in any order.
func (s *stepped) At(iter int, value float64) *stepped {
	i := sort.Search(len(s.Changes), func(i int) bool { return s.Changes[i].From >= iter })
	if i < len(s.Changes) && s.Changes[i].From == iter {
		s.Changes[i].Value = value
		return s
	}

	s.Changes = append(s.Changes, change{})
	copy(s.Changes[i+1:], s.Changes[i:])
	s.Changes[i] = change{iter, value}
	return s
}

func (s *stepped) TypeString() string {
	return "step"
}

func (s *stepped) Value(iter int) float64 {
	// index of the first change after 'iter'; the one before it is in effect
	i := sort.Search(len(s.Changes), func(i int) bool { return s.Changes[i].From > iter })
	if i == 0 {
		return s.Changes[0].Value
	}
	return s.Changes[i-1].Value
}
