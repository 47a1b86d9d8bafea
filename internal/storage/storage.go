// Package storage owns the files a highlight job produces: per-job work
// directories for intermediate clips, uploaded sources, and the optional
// publication of finished reels to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for job scratch space and reel publication.
type Storage interface {
	// WorkDir creates (if needed) and returns a scratch directory for jobID.
	WorkDir(ctx context.Context, jobID string) (string, error)

	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files and empty directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads the file at path under key and returns its public URL.
	// Returns ErrS3NotConfigured if no remote store is configured.
	Publish(ctx context.Context, key, path string) (url string, err error)
}
