// Package detect finds referee-whistle events in a PCM sample buffer.
//
// The pipeline is strictly forward: the buffer is cut into fixed-size,
// non-overlapping frames, each frame is Hann-windowed and transformed into a
// magnitude spectrum restricted to a band around the whistle frequency, the
// spectrum is reduced to a deviation score, and the time-ordered scores are
// segmented into merged, filtered whistle events.
package detect

import (
	"errors"
	"fmt"
)

// Static errors for detection configuration.
var (
	// ErrFrameSize is returned when the frame size is not a positive power of two.
	ErrFrameSize = errors.New("detect: frame size must be a positive power of two")
	// ErrSampleRate is returned when the sample rate is not positive.
	ErrSampleRate = errors.New("detect: sample rate must be positive")
	// ErrBand is returned when the target band is empty or above Nyquist.
	ErrBand = errors.New("detect: invalid target frequency band")
	// ErrSampleRateMismatch is returned when a buffer's rate differs from the configured rate.
	ErrSampleRateMismatch = errors.New("detect: buffer sample rate does not match configuration")
)

// Params holds the tunable constants of the whistle detector.
type Params struct {
	// TargetHz is the whistle frequency the scorer measures deviation from.
	TargetHz float64
	// BandHz is the half-width of the analysed band around TargetHz.
	BandHz float64
	// FrameSize is the number of samples per frame. Must be a power of two.
	FrameSize int
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int
	// Threshold is the score below which a frame counts as a whistle frame.
	Threshold float64
	// MergeGap is the largest idle time in seconds that still joins two runs.
	MergeGap float64
	// MinDuration drops events whose duration is at or below this many seconds.
	MinDuration float64
}

// DefaultParams returns the reference tuning: a 3.4 kHz whistle at 44.1 kHz.
func DefaultParams() Params {
	return Params{
		TargetHz:    3400,
		BandHz:      100,
		FrameSize:   2048,
		SampleRate:  44100,
		Threshold:   5.0,
		MergeGap:    0.5,
		MinDuration: 0.1,
	}
}

// Validate reports configuration errors that must stop a run before any
// frame is processed.
func (p Params) Validate() error {
	if !IsPowerOfTwo(p.FrameSize) {
		return fmt.Errorf("%w: got %d", ErrFrameSize, p.FrameSize)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrSampleRate, p.SampleRate)
	}
	lo, hi := p.Band()
	if p.BandHz < 0 || hi < lo || lo > float64(p.SampleRate)/2 {
		return fmt.Errorf("%w: [%.1f, %.1f] Hz at %d Hz", ErrBand, lo, hi, p.SampleRate)
	}
	return nil
}

// Band returns the inclusive analysed frequency range.
func (p Params) Band() (lo, hi float64) {
	return p.TargetHz - p.BandHz, p.TargetHz + p.BandHz
}

// FrameDuration returns the length of one frame in seconds.
func (p Params) FrameDuration() float64 {
	return float64(p.FrameSize) / float64(p.SampleRate)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
