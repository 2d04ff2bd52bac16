package dsp

import "math"

// FeatureConfig holds the mapping constants for the stereo features
type FeatureConfig struct {
	VolumeFloor      float64 // RMS treated as silence
	DistanceRange    float64 // RMS span above the floor mapped to distance 0..1
	DirectionEpsilon float64 // below this summed energy the direction is 0
}

// DefaultFeatureConfig returns the calibrated defaults.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{VolumeFloor: 0.01, DistanceRange: 0.3, DirectionEpsilon: 0.001}
}

// Features are the coarse loudness and position estimates for a span of audio.
// Direction is -1 for fully left and +1 for fully right.
type Features struct {
	Volume    float64
	Distance  float64
	Direction float64
}

// ExtractFeatures computes features for one chunk. channels[0] is the mono
// reference; channels[1], when present, is the right channel.
func ExtractFeatures(channels [][]float32, cfg FeatureConfig) Features {
	var acc FeatureAccumulator
	acc.Add(channels)
	return acc.Features(cfg)
}

// FeatureAccumulator sums the feature reductions across several chunks so the
// published values cover the whole span between two inferences.
type FeatureAccumulator struct {
	sumSquares float64
	samples    int
	left       float64
	right      float64
	stereo     bool
}

// Add folds a chunk into the accumulator.
func (a *FeatureAccumulator) Add(channels [][]float32) {
	if len(channels) == 0 {
		return
	}
	mono := channels[0]
	a.sumSquares += SumSquares(mono)
	a.samples += len(mono)

	if len(channels) >= 2 {
		a.stereo = true
		a.left += AbsSum(channels[0])
		a.right += AbsSum(channels[1])
	}
}

// Features returns the features of everything added since the last Reset.
func (a *FeatureAccumulator) Features(cfg FeatureConfig) Features {
	var f Features
	if a.samples > 0 {
		f.Volume = math.Sqrt(a.sumSquares / float64(a.samples))
	}
	if cfg.DistanceRange > 0 {
		f.Distance = Clamp((f.Volume-cfg.VolumeFloor)/cfg.DistanceRange, 0, 1)
	}
	if a.stereo {
		total := a.left + a.right
		if total >= cfg.DirectionEpsilon && total > 0 {
			f.Direction = (a.right - a.left) / total
		}
	}
	return f
}

// Reset clears the accumulator.
func (a *FeatureAccumulator) Reset() {
	*a = FeatureAccumulator{}
}

// Samples is the number of mono samples accumulated.
func (a *FeatureAccumulator) Samples() int { return a.samples }
