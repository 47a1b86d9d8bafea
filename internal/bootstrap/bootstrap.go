// Package bootstrap provides dependency initialization for rallycut.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/maauso/rallycut/internal/audio"
	"github.com/maauso/rallycut/internal/config"
	"github.com/maauso/rallycut/internal/job"
	"github.com/maauso/rallycut/internal/media"
	"github.com/maauso/rallycut/internal/rally"
	"github.com/maauso/rallycut/internal/storage"
)

// ErrFFmpegNotFound is returned when the configured ffmpeg binary cannot be run.
var ErrFFmpegNotFound = errors.New("bootstrap: ffmpeg not found")

// Dependencies holds all initialized dependencies shared by the CLI and the
// HTTP server.
type Dependencies struct {
	Service *job.HighlightService
	Storage storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFFmpegNotFound, cfg.FFmpegPath, err)
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	clips := rally.NewExtractor(processor, processor, store,
		rally.WithMaxConcurrent(cfg.MaxConcurrentClips),
		rally.WithLogger(logger),
	)

	svc := job.NewHighlightService(
		job.Dependencies{
			Repo:    job.NewMemoryRepository(),
			Audio:   audio.NewFFmpegExtractor(cfg.FFmpegPath),
			Decoder: audio.NewWAVDecoder(),
			Prober:  processor,
			Clips:   clips,
			Storage: store,
		},
		job.Settings{
			Detection:     cfg.Detection(),
			Extraction:    cfg.Extraction(),
			DetectWorkers: cfg.Workers(),
			OutputDir:     cfg.OutputDir,
		},
		logger,
	)

	return &Dependencies{
		Service: svc,
		Storage: store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}
