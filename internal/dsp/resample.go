// Package dsp holds the sample-level signal processing used on the capture
// path: rate conversion, the rolling inference window and stereo features.
package dsp

import "math"

// Resample converts samples from sourceRate to targetRate by nearest-neighbour
// decimation. Output index i reads input index floor(i*source/target). There is
// no anti-aliasing filter; the classifier tolerates the folded energy.
//
// Equal rates return the input slice itself. Non-positive rates return nil.
func Resample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil
	}
	if sourceRate == targetRate {
		return samples
	}
	n := len(samples)
	if n == 0 {
		return []float32{}
	}

	outLen := ResampledLength(n, sourceRate, targetRate)
	out := make([]float32, outLen)
	ratio := float64(sourceRate) / float64(targetRate)
	for i := range out {
		src := int(math.Floor(float64(i) * ratio))
		if src > n-1 {
			src = n - 1
		}
		out[i] = samples[src]
	}
	return out
}

// ResampledLength returns round(n*target/source), rounding halves away from zero.
func ResampledLength(n, sourceRate, targetRate int) int {
	if sourceRate <= 0 || targetRate <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(targetRate) / float64(sourceRate)))
}
