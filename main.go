// Command rallycut cuts a volleyball match video into a highlight reel of
// its rallies, using the referee's whistles to find where each rally starts
// and ends.
//
// Usage:
//
//	rallycut [-o reel.mp4] [-push] match.mp4
//	rallycut -watch incoming/ [-o reels/]
//
// Settings are read from the environment (see internal/config).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/maauso/rallycut/internal/bootstrap"
	"github.com/maauso/rallycut/internal/config"
	"github.com/maauso/rallycut/internal/job"
	"github.com/maauso/rallycut/internal/rally"
)

const reelSuffix = "_rallies"

// watchSettle is how long a new file must stay unchanged before it is
// processed; ffmpeg and copies write in several bursts.
const watchSettle = 2 * time.Second

var errUsage = errors.New("usage: rallycut [-o output] [-push] <video> | rallycut -watch <dir> [-o dir]")

type options struct {
	output string
	push   bool
	watch  string
	source string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLoggerTo(stderr)
	slog.SetDefault(logger)

	if opts.push && !cfg.S3Enabled() {
		return errors.New("-push requires S3_BUCKET and S3_REGION")
	}

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	if opts.watch != "" {
		outDir := opts.output
		if outDir == "" {
			outDir = cfg.OutputDir
		}
		logger.Info("watching for videos",
			slog.String("dir", opts.watch),
			slog.String("output_dir", outDir),
		)
		return watchDir(ctx, opts.watch, watchSettle, logger, func(path string) {
			out := filepath.Join(outDir, reelName(path))
			if err := convert(ctx, deps.Service, path, out, opts.push, stdout); err != nil {
				logger.Error("conversion failed",
					slog.String("source", path),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	out := opts.output
	if out == "" {
		out = filepath.Join(filepath.Dir(opts.source), reelName(opts.source))
	}
	return convert(ctx, deps.Service, opts.source, out, opts.push, stdout)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("rallycut", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.output, "o", "", "output reel path (directory in -watch mode)")
	fs.BoolVar(&opts.push, "push", false, "upload the reel to S3")
	fs.StringVar(&opts.watch, "watch", "", "process every video created in this directory")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case opts.watch != "" && fs.NArg() == 0:
		return opts, nil
	case opts.watch == "" && fs.NArg() == 1:
		opts.source = fs.Arg(0)
		return opts, nil
	default:
		return options{}, errUsage
	}
}

// reelName is the default reel file name for a source video.
func reelName(source string) string {
	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".mp4"
	}
	return strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + reelSuffix + ext
}

// isVideoFile reports whether a watched file should be processed. Hidden
// files (in-progress writes) and reels produced by rallycut are skipped.
func isVideoFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	if strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), reelSuffix) {
		return false
	}
	switch ext {
	case ".mp4", ".mov", ".mkv", ".avi", ".m4v", ".webm", ".mts":
		return true
	}
	return false
}

func convert(ctx context.Context, svc *job.HighlightService, source, output string, push bool, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Processing %s\n", source)

	progress := mpb.NewWithContext(ctx, mpb.WithOutput(stdout), mpb.WithWidth(64))
	var bar *mpb.Bar

	res, err := svc.Process(ctx, job.Input{
		SourcePath: source,
		OutputPath: output,
		PushToS3:   push,
		OnDetected: func(rallies []rally.Interval, clips []rally.Clip) {
			for i, r := range rallies {
				fmt.Fprintf(stdout, "Rally %d from %.2f to %.2f\n", i, r.Start, r.End)
			}
			if len(clips) == 0 {
				return
			}
			bar = progress.AddBar(int64(len(clips)),
				mpb.PrependDecorators(
					decor.Name("Cutting: "),
					decor.CountersNoUnit("%d / %d"),
				),
				mpb.AppendDecorators(
					decor.Percentage(),
					decor.Elapsed(decor.ET_STYLE_GO),
				),
			)
		},
		OnClip: func(done, _ int) {
			if bar != nil {
				bar.SetCurrent(int64(done))
			}
		},
	})
	if bar != nil && !bar.Completed() {
		bar.Abort(false)
	}
	progress.Wait()
	if err != nil {
		return err
	}

	switch {
	case res.VideoURL != "":
		fmt.Fprintf(stdout, "Highlights: %s (%s)\n", res.OutputPath, res.VideoURL)
	case res.OutputPath != "":
		fmt.Fprintf(stdout, "Highlights: %s\n", res.OutputPath)
	default:
		fmt.Fprintln(stdout, "No rallies found")
	}
	return nil
}

// watchDir calls handle once for each video file created in dir, after it
// has been quiet for settle. Files are handled one at a time; it returns
// when ctx is done.
func watchDir(ctx context.Context, dir string, settle time.Duration, logger *slog.Logger, handle func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if isVideoFile(event.Name) {
					pending[event.Name] = time.Now()
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, path)
				handle(path)
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}
