package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestVideo renders a small video whose audio is a 3.4 kHz tone.
func createTestVideo(t *testing.T, path string, durationSec float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=green:s=64x64:d=%.2f", durationSec),
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=3400:sample_rate=48000:duration=%.2f", durationSec),
		"-ac", "2",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, out)
	}
}

func TestNewFFmpegExtractor(t *testing.T) {
	assert.Equal(t, "ffmpeg", NewFFmpegExtractor("").ffmpegPath)
	assert.Equal(t, "/opt/ffmpeg", NewFFmpegExtractor("/opt/ffmpeg").ffmpegPath)
}

func TestExtractArgs(t *testing.T) {
	args := extractArgs("in.mp4", "out.wav", 44100)

	assert.Equal(t, "-y", args[0])
	assert.Contains(t, args, "-vn")
	assert.Equal(t, "out.wav", args[len(args)-1])

	joined := fmt.Sprint(args)
	assert.Contains(t, joined, "-acodec pcm_s16le")
	assert.Contains(t, joined, "-ar 44100")
	assert.Contains(t, joined, "-ac 1")
}

func TestFFmpegExtractor_MissingInput(t *testing.T) {
	e := NewFFmpegExtractor("")
	err := e.ExtractPCM(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), "out.wav", DefaultExtractOpts())
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestFFmpegExtractor_InvalidSampleRate(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.mp4")
	require.NoError(t, WriteWAV(src, []float64{0}, 8000))

	err := NewFFmpegExtractor("").ExtractPCM(context.Background(), src, "out.wav", ExtractOpts{})
	assert.ErrorIs(t, err, ErrInvalidSampleRate)
}

func TestFFmpegExtractor_ExtractAndDecode(t *testing.T) {
	checkFFmpeg(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "match.mp4")
	wavPath := filepath.Join(dir, "work", "audio.wav")
	createTestVideo(t, src, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e := NewFFmpegExtractor("")
	require.NoError(t, e.ExtractPCM(ctx, src, wavPath, DefaultExtractOpts()))

	buf, err := NewWAVDecoder().Decode(ctx, wavPath)
	require.NoError(t, err)
	assert.Equal(t, 44100, buf.SampleRate)
	assert.InDelta(t, 2.0, buf.Duration(), 0.1)

	var peak float64
	for _, s := range buf.Samples {
		if s > peak {
			peak = s
		}
	}
	assert.Greater(t, peak, 1000.0, "tone should survive extraction at int16 scale")
}

func TestFFmpegExtractor_BadInput(t *testing.T) {
	checkFFmpeg(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "broken.mp4")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0600))

	err := NewFFmpegExtractor("").ExtractPCM(context.Background(), src, filepath.Join(dir, "out.wav"), DefaultExtractOpts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg error")
}
