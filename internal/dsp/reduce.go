package dsp

import "math"

// Reductions accumulate in float64 over float32 storage so that long windows
// do not lose precision.

// RMS returns the root mean square of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SumSquares returns the sum of squared samples.
func SumSquares(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return sum
}

// AbsSum returns the sum of absolute sample values.
func AbsSum(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum
}

// Dot returns the dot product over the shorter of the two vectors.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := range n {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// L2Normalize returns a unit-length copy of v. The zero vector stays zero.
func L2Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := math.Sqrt(Dot(v, v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// MeanPool averages equally sized frames element-wise. Frames shorter than
// the first one contribute only to the indices they cover.
func MeanPool(frames [][]float32) []float32 {
	if len(frames) == 0 {
		return nil
	}
	width := len(frames[0])
	acc := make([]float64, width)
	for _, f := range frames {
		for i := range min(width, len(f)) {
			acc[i] += float64(f[i])
		}
	}
	out := make([]float32, width)
	n := float64(len(frames))
	for i, v := range acc {
		out[i] = float32(v / n)
	}
	return out
}

// MaxAt returns the largest scores[i] over indices, or 0 when indices is
// empty. Out-of-range indices are ignored.
func MaxAt(scores []float32, indices []int) float64 {
	best := 0.0
	found := false
	for _, idx := range indices {
		if idx < 0 || idx >= len(scores) {
			continue
		}
		v := float64(scores[idx])
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
