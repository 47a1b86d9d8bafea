// Package media provides the video side of the pipeline: cutting rally
// clips out of the source video and joining them into a reel.
package media

import "context"

// Processor defines the interface for video cutting and joining.
// Implementations should use ffmpeg or similar tools and must not re-encode.
type Processor interface {
	// CutClip writes duration seconds of src, starting at start seconds,
	// to dst using stream copy. start must be >= 0 and duration > 0.
	CutClip(ctx context.Context, src, dst string, start, duration float64) error

	// JoinVideos concatenates videoPaths, in order, into output without
	// re-encoding. On failure no file is left at output.
	JoinVideos(ctx context.Context, videoPaths []string, output string) error

	// GetMediaDuration returns the duration in seconds of a media file.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
