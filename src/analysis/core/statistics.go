package core

import "math"

// -----------------------------------------------------------------------------

// CalculateMeanStd computes mean and population standard deviation in two passes.
func CalculateMeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)))
}

// -----------------------------------------------------------------------------
// CompensatedSum is a Neumaier (improved Kahan) running sum. It keeps the
// rounding error of add/remove cycles bounded over long streams.
// -----------------------------------------------------------------------------

type CompensatedSum struct {
	sum float64
	c   float64
}

func (s *CompensatedSum) Add(v float64) {
	t := s.sum + v
	if math.Abs(s.sum) >= math.Abs(v) {
		s.c += (s.sum - t) + v
	} else {
		s.c += (v - t) + s.sum
	}
	s.sum = t
}

func (s *CompensatedSum) Value() float64 { return s.sum + s.c }

func (s *CompensatedSum) Reset() { s.sum, s.c = 0, 0 }

// -----------------------------------------------------------------------------
// RollingStats keeps mean and M2 of the last N values using Welford's update
// for insertions and its inverse for removals.
// -----------------------------------------------------------------------------

type RollingStats struct {
	window []float64
	next   int
	count  int
	mean   float64
	m2     float64
}

// -----------------------------------------------------------------------------

func NewRollingStats(size int) *RollingStats {
	if size < 1 {
		size = 1
	}
	return &RollingStats{window: make([]float64, size)}
}

// -----------------------------------------------------------------------------

// Push adds v and drops the oldest value once the window is full.
func (r *RollingStats) Push(v float64) {
	if r.count == len(r.window) {
		old := r.window[r.next]
		r.window[r.next] = v
		r.next = (r.next + 1) % len(r.window)

		// replace old with v in one step, n unchanged
		n := float64(r.count)
		delta := v - old
		newMean := r.mean + delta/n
		r.m2 += delta * (v - newMean + old - r.mean)
		r.mean = newMean
		if r.m2 < 0 {
			r.m2 = 0
		}
		return
	}

	r.window[r.next] = v
	r.next = (r.next + 1) % len(r.window)
	r.count++
	delta := v - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (v - r.mean)
}

// -----------------------------------------------------------------------------

func (r *RollingStats) Full() bool { return r.count == len(r.window) }

func (r *RollingStats) Count() int { return r.count }

func (r *RollingStats) Mean() float64 { return r.mean }

// StdDev is the population standard deviation of the window.
func (r *RollingStats) StdDev() float64 {
	if r.count < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.count))
}

// -----------------------------------------------------------------------------

// With returns mean and population stddev as if v replaced the oldest value
// of a full window (or were appended to a partial one). r is unchanged.
func (r *RollingStats) With(v float64) (float64, float64) {
	c := *r
	c.window = nil
	if r.count == len(r.window) {
		old := r.window[r.next]
		n := float64(c.count)
		delta := v - old
		newMean := c.mean + delta/n
		c.m2 += delta * (v - newMean + old - c.mean)
		c.mean = newMean
	} else {
		c.count++
		delta := v - c.mean
		c.mean += delta / float64(c.count)
		c.m2 += delta * (v - c.mean)
	}
	if c.m2 < 0 || c.count < 2 {
		return c.mean, 0
	}
	return c.mean, math.Sqrt(c.m2 / float64(c.count))
}
