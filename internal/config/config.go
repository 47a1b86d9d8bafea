// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/rally"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Whistle detection
	WhistleTargetHz    float64 `env:"WHISTLE_TARGET_HZ, default=3400" json:"whistle_target_hz" validate:"gt=0"`
	WhistleBandHz      float64 `env:"WHISTLE_BAND_HZ, default=100" json:"whistle_band_hz" validate:"gt=0,ltfield=WhistleTargetHz"`
	FrameSize          int     `env:"FRAME_SIZE, default=2048" json:"frame_size" validate:"pow2,min=64,max=65536"`
	SampleRate         int     `env:"SAMPLE_RATE, default=44100" json:"sample_rate" validate:"min=8000,max=192000"`
	DetectionThreshold float64 `env:"DETECTION_THRESHOLD, default=5.0" json:"detection_threshold" validate:"gt=0"`
	MergeGapSec        float64 `env:"MERGE_GAP_SEC, default=0.5" json:"merge_gap_sec" validate:"gte=0"`
	MinEventSec        float64 `env:"MIN_EVENT_SEC, default=0.1" json:"min_event_sec" validate:"gte=0"`
	DetectWorkers      int     `env:"DETECT_WORKERS, default=0" json:"detect_workers" validate:"gte=0"`

	// Clip extraction
	PreRollSec         float64 `env:"PRE_ROLL_SEC, default=9.0" json:"pre_roll_sec" validate:"gte=0"`
	TrailTrimSec       float64 `env:"TRAIL_TRIM_SEC, default=1.0" json:"trail_trim_sec" validate:"gte=0"`
	MaxConcurrentClips int     `env:"MAX_CONCURRENT_CLIPS, default=3" json:"max_concurrent_clips" validate:"min=1,max=64"`
	FFmpegPath         string  `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`

	// Storage settings
	TempDir   string `env:"TEMP_DIR, default=/tmp/rallycut" json:"temp_dir" validate:"required"`
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/rallycut/out" json:"output_dir" validate:"required"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty" validate:"required_with=S3Bucket"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// NewValidator returns a validator with the "pow2" rule registered. The
// HTTP layer shares it for request overrides.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		return detect.IsPowerOfTwo(int(fl.Field().Int()))
	})
	return v
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Detection projects the detection settings.
func (c *Config) Detection() detect.Params {
	return detect.Params{
		TargetHz:    c.WhistleTargetHz,
		BandHz:      c.WhistleBandHz,
		FrameSize:   c.FrameSize,
		SampleRate:  c.SampleRate,
		Threshold:   c.DetectionThreshold,
		MergeGap:    c.MergeGapSec,
		MinDuration: c.MinEventSec,
	}
}

// Extraction projects the clip planning settings.
func (c *Config) Extraction() rally.Options {
	return rally.Options{
		PreRoll:   c.PreRollSec,
		TrailTrim: c.TrailTrimSec,
	}
}

// Workers returns DetectWorkers, or the CPU count when it is 0.
func (c *Config) Workers() int {
	if c.DetectWorkers > 0 {
		return c.DetectWorkers
	}
	return runtime.NumCPU()
}

// NewLogger creates a structured logger on stdout.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	key := ""
	if c.AWSAccessKeyID != "" {
		key = "****"
	}
	return fmt.Sprintf(
		"Config{Port: %d, WhistleTargetHz: %g, WhistleBandHz: %g, FrameSize: %d, SampleRate: %d, "+
			"DetectionThreshold: %g, MergeGapSec: %g, MinEventSec: %g, PreRollSec: %g, TrailTrimSec: %g, "+
			"MaxConcurrentClips: %d, TempDir: %s, OutputDir: %s, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, "+
			"LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WhistleTargetHz,
		c.WhistleBandHz,
		c.FrameSize,
		c.SampleRate,
		c.DetectionThreshold,
		c.MergeGapSec,
		c.MinEventSec,
		c.PreRollSec,
		c.TrailTrimSec,
		c.MaxConcurrentClips,
		c.TempDir,
		c.OutputDir,
		c.S3Bucket,
		c.S3Region,
		key,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
