package detect

import "math"

// ZeroMagnitudePenalty is the contribution of a bin with no energy.
// It is large enough that a silent frame never crosses any sane threshold
// while keeping the sum finite.
const ZeroMagnitudePenalty = 1e12

// FrameScore is the deviation score of one frame.
type FrameScore struct {
	Time  float64
	Score float64
}

// Score returns the deviation of a spectrum from target:
// the sum over bins of (target - frequency)^2 / magnitude.
// Lower is a stronger whistle match. An empty spectrum scores as silence.
func Score(spec Spectrum, target float64) float64 {
	if len(spec) == 0 {
		return ZeroMagnitudePenalty
	}

	var sum float64
	for _, b := range spec {
		if !(b.Magnitude > 0) {
			sum += ZeroMagnitudePenalty
			continue
		}
		d := target - b.Frequency
		sum += d * d / b.Magnitude
	}
	if math.IsInf(sum, 0) || math.IsNaN(sum) {
		return math.MaxFloat64
	}
	return sum
}
