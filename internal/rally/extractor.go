package rally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Static errors for extraction.
var (
	// ErrClipFailed wraps the first clip extraction failure.
	ErrClipFailed = errors.New("clip extraction failed")
	// ErrConcatFailed wraps a concatenation failure.
	ErrConcatFailed = errors.New("concatenation failed")
)

// Cutter cuts one clip out of a source video.
type Cutter interface {
	CutClip(ctx context.Context, src, dst string, start, duration float64) error
}

// Joiner concatenates clips, in order, into one output file.
type Joiner interface {
	JoinVideos(ctx context.Context, videoPaths []string, output string) error
}

// Cleaner removes intermediate files.
type Cleaner interface {
	CleanupTemp(ctx context.Context, paths []string) error
}

// DefaultMaxConcurrent is the default clip extraction pool size.
const DefaultMaxConcurrent = 3

// Extractor cuts planned clips with a bounded pool, joins them in rally
// order and then removes the intermediates.
type Extractor struct {
	cutter        Cutter
	joiner        Joiner
	cleaner       Cleaner
	maxConcurrent int
	logger        *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxConcurrent sets how many clips are cut at once.
func WithMaxConcurrent(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(cutter Cutter, joiner Joiner, cleaner Cleaner, opts ...Option) *Extractor {
	e := &Extractor{
		cutter:        cutter,
		joiner:        joiner,
		cleaner:       cleaner,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes one extraction run.
type Request struct {
	Source  string
	WorkDir string
	Output  string
	Clips   []Clip
	// Artifacts are removed together with the clips after a successful join.
	Artifacts []string
	// Progress, if set, is called after each clip with the number done so far.
	// Calls are serialized.
	Progress func(done, total int)
}

// Result holds the outcome of a run. Output is empty when there was
// nothing to cut.
type Result struct {
	Output string
	Clips  []Clip
}

// ClipPath returns the intermediate file for a clip, keeping the source
// container so stream copy stays valid.
func ClipPath(workDir, source string, index int) string {
	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(workDir, fmt.Sprintf("clip_%03d%s", index, ext))
}

// Extract cuts every clip, waits for all of them, joins them into
// req.Output and cleans up. With no clips nothing is cut or joined. On
// failure the intermediates are left in place.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	clips := make([]Clip, len(req.Clips))
	for i, c := range req.Clips {
		c.Path = ClipPath(req.WorkDir, req.Source, c.Index)
		clips[i] = c
	}

	if len(clips) == 0 {
		e.logger.Info("no rallies to extract")
		e.cleanup(ctx, leftovers(nil, req))
		return &Result{Clips: clips}, nil
	}

	start := time.Now()
	if err := e.cutAll(ctx, req.Source, clips, req.Progress); err != nil {
		return nil, err
	}
	e.logger.Info("clips extracted",
		slog.Int("clips", len(clips)),
		slog.Duration("elapsed", time.Since(start)),
	)

	paths := make([]string, len(clips))
	for i, c := range clips {
		paths[i] = c.Path
	}
	if err := e.joiner.JoinVideos(ctx, paths, req.Output); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConcatFailed, err)
	}
	e.logger.Info("highlight reel written", slog.String("output", req.Output))

	e.cleanup(ctx, leftovers(paths, req))

	return &Result{Output: req.Output, Clips: clips}, nil
}

// leftovers lists what to remove after a successful run. The work dir comes
// last since it is only removed once empty.
func leftovers(clipPaths []string, req Request) []string {
	out := make([]string, 0, len(clipPaths)+len(req.Artifacts)+1)
	out = append(out, clipPaths...)
	out = append(out, req.Artifacts...)
	if req.WorkDir != "" {
		out = append(out, req.WorkDir)
	}
	return out
}

// cutAll runs the clip jobs through a semaphore-bounded pool. The first
// failure cancels the clips that have not finished yet.
func (e *Extractor) cutAll(ctx context.Context, src string, clips []Clip, progress func(done, total int)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	sem := make(chan struct{}, e.maxConcurrent)

	for _, c := range clips {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(c Clip) {
			defer wg.Done()
			defer func() { <-sem }()

			e.logger.Debug("cutting clip",
				slog.Int("rally", c.Index),
				slog.Float64("start", c.Start),
				slog.Float64("duration", c.Duration),
			)
			err := e.cutter.CutClip(ctx, src, c.Path, c.Start, c.Duration)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: rally %d: %w", ErrClipFailed, c.Index, err)
					cancel()
				}
				return
			}
			done++
			if progress != nil {
				progress(done, len(clips))
			}
		}(c)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClipFailed, err)
	}
	return nil
}

func (e *Extractor) cleanup(ctx context.Context, paths []string) {
	if len(paths) == 0 || e.cleaner == nil {
		return
	}
	if err := e.cleaner.CleanupTemp(ctx, paths); err != nil {
		e.logger.Warn("cleanup failed", slog.String("error", err.Error()))
	}
}
