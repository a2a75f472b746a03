package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Loader groups the samples of a Source into mini-batches.
type Loader struct {
	Source    Source
	BatchSize int

	// Shuffle reorders the samples every epoch, seeded by Seed and the epoch
	Shuffle bool
	Seed    int64
}

// NewLoader returns a Loader with the given batch size. It does not shuffle.
func NewLoader(src Source, batchSize int) *Loader {
	return &Loader{Source: src, BatchSize: batchSize}
}

// NumBatches returns the number of batches in an epoch. The last may be smaller than BatchSize.
func (l *Loader) NumBatches() int {
	if l.BatchSize < 1 {
		return 0
	}

	return (l.Source.Len() + l.BatchSize - 1) / l.BatchSize
}

// Order returns the indexes of the samples in the order they are used in 'epoch'.
func (l *Loader) Order(epoch int) []int {
	n := l.Source.Len()
	if !l.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}

	return rand.New(rand.NewSource(l.Seed + int64(epoch))).Perm(n)
}

// Epoch loads every batch of 'epoch' in order and gives it to 'f', stopping at the first error.
func (l *Loader) Epoch(epoch int, f func(batch []Sample) error) error {
	if l.BatchSize < 1 {
		return errors.Errorf("Batch size must be >= 1 (%d)", l.BatchSize)
	}

	l.Source.SetEpoch(epoch)
	order := l.Order(epoch)

	batch := make([]Sample, 0, l.BatchSize)
	for start := 0; start < len(order); start += l.BatchSize {
		end := start + l.BatchSize
		if end > len(order) {
			end = len(order)
		}

		batch = batch[:0]
		for _, i := range order[start:end] {
			s, err := l.Source.Get(i)
			if err != nil {
				return errors.Wrapf(err, "Failed to load batch %d", start/l.BatchSize)
			}
			batch = append(batch, s)
		}

		if err := f(batch); err != nil {
			return err
		}
	}

	return nil
}
