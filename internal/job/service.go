package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/maauso/rallycut/internal/audio"
	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/rally"
	"github.com/maauso/rallycut/internal/storage"
)

// Prober reports the duration of a media file.
type Prober interface {
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}

// ClipExtractor cuts and joins planned clips.
type ClipExtractor interface {
	Extract(ctx context.Context, req rally.Request) (*rally.Result, error)
}

// Dependencies are the collaborators a HighlightService drives.
type Dependencies struct {
	Repo    Repository
	Audio   audio.Extractor
	Decoder audio.Decoder
	// Prober is optional; without it the last clip is not capped.
	Prober  Prober
	Clips   ClipExtractor
	Storage storage.Storage
}

// Settings are the pipeline defaults applied when an Input has no override.
type Settings struct {
	Detection     detect.Params
	Extraction    rally.Options
	DetectWorkers int
	OutputDir     string
}

// Input describes one highlight run.
type Input struct {
	// SourcePath is the video to process.
	SourcePath string
	// OutputPath overrides the default <OutputDir>/<job id><ext>.
	OutputPath string
	// PushToS3 uploads the reel once written.
	PushToS3 bool
	// Artifacts are extra files removed with the intermediates once the
	// run succeeds, such as an uploaded source.
	Artifacts []string
	// Detection overrides Settings.Detection when set.
	Detection *detect.Params
	// Extraction overrides Settings.Extraction when set.
	Extraction *rally.Options
	// OnDetected is called once rallies are known, before any clip is cut.
	OnDetected func(rallies []rally.Interval, clips []rally.Clip)
	// OnClip is called after each clip is cut.
	OnClip func(done, total int)
}

// Output contains the result of a highlight run.
type Output struct {
	JobID      string
	Status     Status
	Events     []detect.Event
	Rallies    []rally.Interval
	Warnings   []string
	OutputPath string
	VideoURL   string
}

// HighlightService runs the audio → whistle → rally → reel pipeline for
// jobs and keeps their state in a Repository.
type HighlightService struct {
	deps     Dependencies
	settings Settings
	logger   *slog.Logger
}

// NewHighlightService creates a new HighlightService.
func NewHighlightService(deps Dependencies, settings Settings, logger *slog.Logger) *HighlightService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HighlightService{deps: deps, settings: settings, logger: logger}
}

// CreateJob creates a new job and persists it to the repository.
// The job is created in IN_QUEUE status, ready for processing.
func (s *HighlightService) CreateJob(ctx context.Context, input Input) (*Job, error) {
	job := New(input.SourcePath)
	job.PushToS3 = input.PushToS3

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("source", input.SourcePath),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.deps.Repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *HighlightService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.deps.Repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *HighlightService) ListJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := s.deps.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	return jobs, nil
}

// ErrJobActive is returned when deleting a job that has not finished.
var ErrJobActive = errors.New("job is still running")

// DeleteJob removes a finished job and its local reel.
func (s *HighlightService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.deps.Repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	if job.OutputPath != "" {
		if err := s.deps.Storage.CleanupTemp(ctx, []string{job.OutputPath}); err != nil {
			return fmt.Errorf("remove reel: %w", err)
		}
	}
	if err := s.deps.Repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// Submit creates a job and runs it in the background. The run outlives the
// caller's context but keeps its values.
func (s *HighlightService) Submit(ctx context.Context, input Input) (*Job, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Run(runCtx, job, input); err != nil {
			s.logger.Error("job failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return job, nil
}

// Process creates a job and runs it to completion.
func (s *HighlightService) Process(ctx context.Context, input Input) (*Output, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, job, input)
}

// Run executes the pipeline for a job created with CreateJob. A failing stage
// marks the job FAILED and is returned as a *StageError; intermediate files
// are left on disk in that case.
func (s *HighlightService) Run(ctx context.Context, job *Job, input Input) (*Output, error) {
	start := time.Now()
	logger := s.logger.With(slog.String("job_id", job.ID))

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	s.save(ctx, job)

	reel, err := s.run(ctx, logger, job, input)
	if err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = &StageError{Stage: job.Stage, Err: err}
			err = stageErr
		}
		if ctx.Err() != nil {
			_ = job.Cancel()
		} else {
			_ = job.Fail(stageErr.Stage, stageErr.Err.Error())
		}
		s.save(context.WithoutCancel(ctx), job)
		logger.Error("job failed",
			slog.String("stage", string(stageErr.Stage)),
			slog.String("error", stageErr.Err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return s.output(job), err
	}

	if reel != "" && input.PushToS3 {
		job.SetStage(StagePublish)
		url, err := s.deps.Storage.Publish(ctx, "highlights/"+filepath.Base(reel), reel)
		if err != nil {
			_ = job.Fail(StagePublish, err.Error())
			s.save(context.WithoutCancel(ctx), job)
			return s.output(job), &StageError{Stage: StagePublish, Err: err}
		}
		job.SetOutput(reel, url)
		logger.Info("reel uploaded", slog.String("url", url))
	}

	if err := job.Complete(); err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	s.save(ctx, job)

	logger.Info("job completed",
		slog.Int("rallies", len(job.Clone().Rallies)),
		slog.String("output", reel),
		slog.Duration("elapsed", time.Since(start)),
	)
	return s.output(job), nil
}

// run executes the stages and returns the reel path, empty when no rally
// was found.
func (s *HighlightService) run(ctx context.Context, logger *slog.Logger, job *Job, input Input) (string, error) {
	params := s.settings.Detection
	if input.Detection != nil {
		params = *input.Detection
	}
	opts := s.settings.Extraction
	if input.Extraction != nil {
		opts = *input.Extraction
	}

	// Parameters are checked before any file is touched.
	detector, err := detect.NewDetector(params, detect.WithWorkers(s.settings.DetectWorkers))
	if err != nil {
		return "", &StageError{Stage: StageDetection, Err: err}
	}

	// Decode
	job.SetStage(StageDecode)
	s.save(ctx, job)

	workDir, err := s.deps.Storage.WorkDir(ctx, job.ID)
	if err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	wavPath := filepath.Join(workDir, "audio.wav")
	if err := s.deps.Audio.ExtractPCM(ctx, input.SourcePath, wavPath, audio.ExtractOpts{SampleRate: params.SampleRate}); err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	buf, err := s.deps.Decoder.Decode(ctx, wavPath)
	if err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	logger.Info("audio decoded",
		slog.Int("samples", len(buf.Samples)),
		slog.Int("sample_rate", buf.SampleRate),
		slog.Float64("seconds", buf.Duration()),
	)
	job.UpdateProgress(10)

	// Detection
	job.SetStage(StageDetection)
	s.save(ctx, job)

	res, err := detector.Detect(ctx, buf.Samples, buf.SampleRate)
	if err != nil {
		return "", &StageError{Stage: StageDetection, Err: err}
	}

	rallies := rally.Pair(res.Events)
	job.SetDetection(res.Frames, res.Events, rallies)
	job.UpdateProgress(40)
	logger.Info("whistles detected",
		slog.Int("frames", res.Frames),
		slog.Int("candidates", len(res.Candidates)),
		slog.Int("events", len(res.Events)),
		slog.Int("rallies", len(rallies)),
	)

	if len(rallies) == 0 {
		if input.OnDetected != nil {
			input.OnDetected(rallies, nil)
		}
		logger.Info("no rallies found, nothing to extract")
		s.cleanup(ctx, logger, append([]string{wavPath, workDir}, input.Artifacts...)...)
		return "", nil
	}

	if s.deps.Prober != nil {
		if d, err := s.deps.Prober.GetMediaDuration(ctx, input.SourcePath); err != nil {
			logger.Warn("could not probe source duration", slog.String("error", err.Error()))
		} else {
			opts.SourceDuration = d
		}
	}

	clips, warnings := rally.Plan(rallies, opts)
	for _, w := range warnings {
		logger.Warn("rally adjusted", slog.Int("rally", w.Rally), slog.String("reason", w.Message))
		job.AddWarning(w.String())
	}
	job.SetClips(clips)
	if input.OnDetected != nil {
		input.OnDetected(rallies, clips)
	}

	// Extraction and concatenation
	job.SetStage(StageExtraction)
	s.save(ctx, job)

	output := input.OutputPath
	if output == "" {
		ext := filepath.Ext(input.SourcePath)
		if ext == "" {
			ext = ".mp4"
		}
		output = filepath.Join(s.settings.OutputDir, job.ID+ext)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return "", &StageError{Stage: StageExtraction, Err: fmt.Errorf("create output directory: %w", err)}
	}

	result, err := s.deps.Clips.Extract(ctx, rally.Request{
		Source:    input.SourcePath,
		WorkDir:   workDir,
		Output:    output,
		Clips:     clips,
		Artifacts: append([]string{wavPath}, input.Artifacts...),
		Progress: func(done, total int) {
			job.UpdateProgress(40 + 50*done/total)
			if done == total {
				job.SetStage(StageConcatenation)
			}
			if input.OnClip != nil {
				input.OnClip(done, total)
			}
		},
	})
	if err != nil {
		stage := StageExtraction
		if errors.Is(err, rally.ErrConcatFailed) {
			stage = StageConcatenation
		}
		return "", &StageError{Stage: stage, Err: err}
	}

	job.SetClips(result.Clips)
	job.SetOutput(result.Output, "")
	return result.Output, nil
}

func (s *HighlightService) cleanup(ctx context.Context, logger *slog.Logger, paths ...string) {
	if err := s.deps.Storage.CleanupTemp(ctx, paths); err != nil {
		logger.Warn("cleanup failed", slog.String("error", err.Error()))
	}
}

// save persists the job; repository errors are logged, not fatal.
func (s *HighlightService) save(ctx context.Context, job *Job) {
	if err := s.deps.Repo.Save(ctx, job); err != nil {
		s.logger.Warn("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *HighlightService) output(job *Job) *Output {
	snap := job.Clone()
	return &Output{
		JobID:      snap.ID,
		Status:     snap.Status,
		Events:     snap.Events,
		Rallies:    snap.Rallies,
		Warnings:   snap.Warnings,
		OutputPath: snap.OutputPath,
		VideoURL:   snap.VideoURL,
	}
}
