package engine

import "math"

// Welford is a streaming mean/variance accumulator (Welford's online
// algorithm), used to aggregate per-iteration DPS into a chunk result
// without retaining every sample. Chunk results are combined into a job
// result by the scheduler's iteration-weighted mean, not by Welford.
type Welford struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// NewWelford returns an empty accumulator.
func NewWelford() *Welford {
	return &Welford{}
}

// Push folds one sample into the accumulator.
func (w *Welford) Push(x float64) {
	w.count++
	if w.count == 1 {
		w.min, w.max = x, x
	} else {
		if x < w.min {
			w.min = x
		}
		if x > w.max {
			w.max = x
		}
	}
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

// Count returns the number of samples folded in so far.
func (w *Welford) Count() int64 { return w.count }

// Mean returns the running mean, or 0 for an empty accumulator.
func (w *Welford) Mean() float64 { return w.mean }

// Variance returns the population variance, or 0 for fewer than 2 samples.
func (w *Welford) Variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 {
	v := w.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Min and Max return the running extremes.
func (w *Welford) Min() float64 { return w.min }
func (w *Welford) Max() float64 { return w.max }

// Merge combines another accumulator's statistics into w using the
// pairwise parallel-variance formula, so independent workers can each keep
// a partial Welford and merge at the end without re-visiting samples.
func (w *Welford) Merge(other *Welford) {
	if other.count == 0 {
		return
	}
	if w.count == 0 {
		*w = *other
		return
	}

	n1, n2 := float64(w.count), float64(other.count)
	delta := other.mean - w.mean
	totalCount := n1 + n2

	newMean := w.mean + delta*n2/totalCount
	newM2 := w.m2 + other.m2 + delta*delta*n1*n2/totalCount

	if other.min < w.min {
		w.min = other.min
	}
	if other.max > w.max {
		w.max = other.max
	}
	w.count = int64(totalCount)
	w.mean = newMean
	w.m2 = newM2
}
