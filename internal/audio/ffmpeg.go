package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Static errors for audio extraction.
var (
	// ErrInputNotFound is returned when the source video does not exist.
	ErrInputNotFound = errors.New("audio: input file does not exist")
	// ErrInvalidSampleRate is returned when the requested sample rate is not positive.
	ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")
)

// FFmpegExtractor implements Extractor using the ffmpeg CLI.
type FFmpegExtractor struct {
	ffmpegPath string
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegExtractor(ffmpegPath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegExtractor{ffmpegPath: ffmpegPath}
}

// ExtractPCM implements Extractor.ExtractPCM.
func (e *FFmpegExtractor) ExtractPCM(ctx context.Context, videoPath, wavPath string, opts ExtractOpts) error {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrInputNotFound, videoPath)
	}
	if opts.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, opts.SampleRate)
	}

	if err := os.MkdirAll(filepath.Dir(wavPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	return e.run(ctx, extractArgs(videoPath, wavPath, opts.SampleRate))
}

// extractArgs builds the ffmpeg arguments for a mono s16le WAV track.
func extractArgs(videoPath, wavPath string, sampleRate int) []string {
	return []string{
		"-y",            // Overwrite output
		"-i", videoPath, // Input video
		"-vn",                   // Drop video
		"-acodec", "pcm_s16le", // Signed 16-bit little-endian PCM
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1", // Mono
		"-nostats",
		"-loglevel", "error",
		wavPath,
	}
}

func (e *FFmpegExtractor) run(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

// Verify interface implementation at compile time.
var _ Extractor = (*FFmpegExtractor)(nil)
