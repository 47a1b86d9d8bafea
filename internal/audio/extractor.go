// Package audio provides the audio side of the pipeline: pulling a mono PCM
// track out of a video container and decoding it into a sample buffer.
package audio

import "context"

// ExtractOpts configures the PCM track produced by an Extractor.
type ExtractOpts struct {
	// SampleRate is the output sample rate in Hz.
	// Default: 44100.
	SampleRate int
}

// DefaultExtractOpts returns the default options for audio extraction.
func DefaultExtractOpts() ExtractOpts {
	return ExtractOpts{
		SampleRate: 44100,
	}
}

// Extractor defines the interface for extracting the audio track of a video.
type Extractor interface {
	// ExtractPCM writes the audio track of videoPath to wavPath as a mono,
	// signed 16-bit little-endian PCM WAV file at opts.SampleRate.
	//
	// The caller owns wavPath and is responsible for removing it.
	ExtractPCM(ctx context.Context, videoPath, wavPath string, opts ExtractOpts) error
}

// Decoder defines the interface for loading a PCM file into memory.
type Decoder interface {
	// Decode reads the whole file at path into a Buffer.
	Decode(ctx context.Context, path string) (*Buffer, error)
}

// Buffer is a fully decoded mono audio track.
// Samples hold raw 16-bit amplitudes widened to float64.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
