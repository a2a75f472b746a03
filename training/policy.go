package training

// Policy decides when a validation score is a new best and when training should stop.
type Policy struct {
	// Patience is the number of epochs in a row without improvement after which training stops
	Patience int

	best      float64
	bestEpoch int
	bad       int
}

// NewPolicy returns a Policy with no best score yet. The first score above 0 is an improvement.
func NewPolicy(patience int) *Policy {
	return &Policy{Patience: patience}
}

// Observe records the score of an epoch. A score improves only if it is strictly greater than
// the best so far; 'stop' is set once Patience epochs in a row have not improved.
func (p *Policy) Observe(epoch int, score float64) (improved, stop bool) {
	if score > p.best {
		p.best = score
		p.bestEpoch = epoch
		p.bad = 0
		return true, false
	}

	p.bad++
	return false, p.Patience > 0 && p.bad >= p.Patience
}

// Best returns the best score and the epoch it was seen at. The epoch is 0 if no score has
// improved.
func (p *Policy) Best() (float64, int) {
	return p.best, p.bestEpoch
}
