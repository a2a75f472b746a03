package utils

// MultiDim maps n-dimensional points to indexes of a flat slice, with the first dimension
// changing fastest. For image tensors the dimensions are {width, height, channels}.
//
// the fields are made public in order to allow exporting to JSON,
// but they should not actually be altered once it has been initialized
type MultiDim struct {
	// the width, height, depth, etc. of each dimension
	Dims []int

	// Sizes[i] is the number of values covered by one step in dimension i+1; the last is the
	// total size
	Sizes []int
}

// NewMultiDim returns a MultiDim with the given dimensions. The slice is kept, not copied.
func NewMultiDim(dims []int) *MultiDim {
	m := &MultiDim{
		Dims:  dims,
		Sizes: make([]int, len(dims)),
	}

	m.Sizes[0] = m.Dims[0]
	for i := 1; i < len(m.Sizes); i++ {
		m.Sizes[i] = m.Sizes[i-1] * m.Dims[i]
	}

	return m
}

// Index returns the index corresponding to the given point. It assumes that the point has the
// same number of dimensions and is in range.
func (m *MultiDim) Index(point ...int) int {
	index := point[0]
	for i := 1; i < len(m.Sizes); i++ {
		index += point[i] * m.Sizes[i-1]
	}

	return index
}

// Point returns the point corresponding to the index. It assumes that the index is in range.
func (m *MultiDim) Point(index int) []int {
	p := make([]int, len(m.Dims))
	for i := len(p) - 1; i >= 1; i-- {
		p[i] = index / m.Sizes[i-1]
		index = index % m.Sizes[i-1]
	}

	p[0] = index
	return p
}

// Size returns the total number of values.
func (m *MultiDim) Size() int {
	return m.Sizes[len(m.Sizes)-1]
}

// Dim returns the size of dimension d.
func (m *MultiDim) Dim(d int) int {
	return m.Dims[d]
}

// Plane returns the number of values in all but the last dimension; for an image tensor, the
// number of pixels in a single channel.
func (m *MultiDim) Plane() int {
	if len(m.Sizes) == 1 {
		return 1
	}

	return m.Sizes[len(m.Sizes)-2]
}

// Increment increments the given point by 1.
//
// if it overflows, it leaves it at the highest possible value
// returns false if it overflows, else returns true
func (m *MultiDim) Increment(point []int) bool {
	for i := range point {
		point[i]++
		if point[i] < m.Dims[i] {
			break
		}

		if i == len(point)-1 {
			for j := range point {
				point[j] = m.Dims[j] - 1
			}
			return false
		}

		point[i] = 0
	}

	return true
}
