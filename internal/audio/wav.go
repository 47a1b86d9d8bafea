package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Static errors for PCM decoding.
var (
	// ErrInvalidWAV is returned when the file is not a readable WAV file.
	ErrInvalidWAV = errors.New("audio: not a valid WAV file")
	// ErrNotMono is returned when the WAV file has more than one channel.
	ErrNotMono = errors.New("audio: expected mono PCM")
	// ErrUnsupportedBitDepth is returned for anything other than 16-bit PCM.
	ErrUnsupportedBitDepth = errors.New("audio: expected 16-bit PCM")
)

// WAVDecoder implements Decoder for mono 16-bit PCM WAV files.
type WAVDecoder struct{}

// NewWAVDecoder creates a new WAVDecoder.
func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{}
}

// Decode implements Decoder.Decode. Samples keep their raw int16 scale.
func (d *WAVDecoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if dec.NumChans != 1 {
		return nil, fmt.Errorf("%w: got %d channels (extract with -ac 1)", ErrNotMono, dec.NumChans)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("%w: got %d bits", ErrUnsupportedBitDepth, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read PCM buffer: %w", err)
	}

	return &Buffer{
		Samples:    toFloat(buf),
		SampleRate: int(dec.SampleRate),
	}, nil
}

func toFloat(buf *goaudio.IntBuffer) []float64 {
	if buf == nil {
		return []float64{}
	}
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v)
	}
	return out
}

// WriteWAV encodes samples as a mono 16-bit PCM WAV file. Values are
// clamped to the int16 range.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path) // #nosec G304 - path is produced by the caller
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 32767:
			s = 32767
		case s < -32768:
			s = -32768
		}
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close encoder: %w", err)
	}
	return f.Close()
}

// Verify interface implementation at compile time.
var _ Decoder = (*WAVDecoder)(nil)
