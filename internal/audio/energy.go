package audio

import "math"

// DefaultEnergyThreshold is tuned so that normal room noise does not trigger
// transcription in the always-on loop.
const DefaultEnergyThreshold = 0.02

// RMS computes the root-mean-square amplitude of int16 samples, normalized to
// [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Gate is the cheap energy check run before any transcription work.
type Gate struct {
	Threshold float64
}

// NewGate returns a gate with the given threshold; non-positive values get
// the default.
func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &Gate{Threshold: threshold}
}

// Open reports whether the window is loud enough to be worth transcribing.
func (g *Gate) Open(samples []int16) bool {
	return RMS(samples) >= g.Threshold
}
