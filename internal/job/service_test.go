package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/rallycut/internal/audio"
	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/rally"
)

type mockAudio struct{ mock.Mock }

func (m *mockAudio) ExtractPCM(ctx context.Context, videoPath, wavPath string, opts audio.ExtractOpts) error {
	return m.Called(ctx, videoPath, wavPath, opts).Error(0)
}

type mockDecoder struct{ mock.Mock }

func (m *mockDecoder) Decode(ctx context.Context, path string) (*audio.Buffer, error) {
	args := m.Called(ctx, path)
	buf, _ := args.Get(0).(*audio.Buffer)
	return buf, args.Error(1)
}

type mockProber struct{ mock.Mock }

func (m *mockProber) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

type mockClips struct{ mock.Mock }

func (m *mockClips) Extract(ctx context.Context, req rally.Request) (*rally.Result, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, rally.Request) *rally.Result); ok {
		return fn(ctx, req), args.Error(1)
	}
	res, _ := args.Get(0).(*rally.Result)
	return res, args.Error(1)
}

type mockStorage struct{ mock.Mock }

func (m *mockStorage) WorkDir(ctx context.Context, jobID string) (string, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) CleanupTemp(ctx context.Context, paths []string) error {
	return m.Called(ctx, paths).Error(0)
}

func (m *mockStorage) Publish(ctx context.Context, key, path string) (string, error) {
	args := m.Called(ctx, key, path)
	return args.String(0), args.Error(1)
}

// smallParams keeps synthesized audio short: 32ms frames at 8kHz.
func smallParams() detect.Params {
	return detect.Params{
		TargetHz:    3400,
		BandHz:      100,
		FrameSize:   256,
		SampleRate:  8000,
		Threshold:   5,
		MergeGap:    0.5,
		MinDuration: 0.1,
	}
}

// whistleSamples returns silence with in-band comb bursts over the given
// inclusive frame ranges.
func whistleSamples(p detect.Params, frames int, runs ...[2]int) []float64 {
	n := p.FrameSize
	samples := make([]float64, frames*n)
	binWidth := float64(p.SampleRate) / float64(n)
	lo, hi := p.Band()
	for _, r := range runs {
		for i := r[0] * n; i < (r[1]+1)*n; i++ {
			for k := int(math.Ceil(lo / binWidth)); k <= int(math.Floor(hi/binWidth)); k++ {
				samples[i] += 3000 * math.Sin(2*math.Pi*float64(k*i)/float64(n)+float64(k)*math.Pi/2)
			}
		}
	}
	return samples
}

type fixture struct {
	repo    *MemoryRepository
	audio   *mockAudio
	decoder *mockDecoder
	prober  *mockProber
	clips   *mockClips
	storage *mockStorage
	svc     *HighlightService
	workDir string
	outDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    NewMemoryRepository(),
		audio:   new(mockAudio),
		decoder: new(mockDecoder),
		prober:  new(mockProber),
		clips:   new(mockClips),
		storage: new(mockStorage),
		workDir: t.TempDir(),
		outDir:  filepath.Join(t.TempDir(), "out"),
	}
	f.svc = NewHighlightService(Dependencies{
		Repo:    f.repo,
		Audio:   f.audio,
		Decoder: f.decoder,
		Prober:  f.prober,
		Clips:   f.clips,
		Storage: f.storage,
	}, Settings{
		Detection:     smallParams(),
		Extraction:    rally.Options{PreRoll: 0.5, TrailTrim: 1},
		DetectWorkers: 2,
		OutputDir:     f.outDir,
	}, nil)
	return f
}

func (f *fixture) wav() string { return filepath.Join(f.workDir, "audio.wav") }

// expectDecode wires a successful extract+decode returning samples.
func (f *fixture) expectDecode(samples []float64) {
	f.storage.On("WorkDir", mock.Anything, mock.Anything).Return(f.workDir, nil)
	f.audio.On("ExtractPCM", mock.Anything, "/videos/match.mp4", f.wav(), audio.ExtractOpts{SampleRate: 8000}).Return(nil)
	f.decoder.On("Decode", mock.Anything, f.wav()).Return(&audio.Buffer{Samples: samples, SampleRate: 8000}, nil)
}

func TestHighlightService_Process(t *testing.T) {
	f := newFixture(t)
	p := smallParams()
	f.expectDecode(whistleSamples(p, 260, [2]int{10, 29}, [2]int{200, 219}))
	f.prober.On("GetMediaDuration", mock.Anything, "/videos/match.mp4").Return(8.32, nil)

	var req rally.Request
	f.clips.On("Extract", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req = args.Get(1).(rally.Request)
			req.Progress(1, 1)
		}).
		Return(func(_ context.Context, r rally.Request) *rally.Result {
			return &rally.Result{Output: r.Output, Clips: r.Clips}
		}, nil)

	var detected []rally.Interval
	var clipCalls int
	out, err := f.svc.Process(context.Background(), Input{
		SourcePath: "/videos/match.mp4",
		OnDetected: func(rallies []rally.Interval, _ []rally.Clip) { detected = rallies },
		OnClip:     func(_, _ int) { clipCalls++ },
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	require.Len(t, out.Events, 2)
	assert.InDelta(t, 10*0.032, out.Events[0].Start, 1e-9)
	assert.InDelta(t, 29*0.032, out.Events[0].End, 1e-9)
	assert.InDelta(t, 219*0.032, out.Events[1].End, 1e-9)
	require.Len(t, out.Rallies, 1)
	assert.Equal(t, out.Rallies, detected)
	assert.Equal(t, 1, clipCalls)
	assert.Equal(t, filepath.Join(f.outDir, out.JobID+".mp4"), out.OutputPath)
	assert.Empty(t, out.Warnings)

	assert.Equal(t, "/videos/match.mp4", req.Source)
	assert.Equal(t, f.workDir, req.WorkDir)
	assert.Equal(t, []string{f.wav()}, req.Artifacts)
	require.Len(t, req.Clips, 1)
	assert.InDelta(t, 29*0.032-0.5, req.Clips[0].Start, 1e-9)
	assert.InDelta(t, (219-29)*0.032-1, req.Clips[0].Duration, 1e-9)

	saved, err := f.svc.GetJob(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saved.Status)
	assert.Equal(t, StageDone, saved.Stage)
	assert.Equal(t, 100, saved.Progress)
	assert.Equal(t, 260, saved.Frames)
	assert.Len(t, saved.Clips, 1)

	f.storage.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHighlightService_EmptyAudio(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(nil)
	f.storage.On("CleanupTemp", mock.Anything, []string{f.wav(), f.workDir}).Return(nil).Once()

	out, err := f.svc.Process(context.Background(), Input{SourcePath: "/videos/match.mp4"})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Empty(t, out.Events)
	assert.Empty(t, out.Rallies)
	assert.Empty(t, out.OutputPath)
	f.clips.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	f.prober.AssertNotCalled(t, "GetMediaDuration", mock.Anything, mock.Anything)
	f.storage.AssertExpectations(t)
}

func TestHighlightService_UnpairedWhistle(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(whistleSamples(smallParams(), 100, [2]int{10, 29}))
	f.storage.On("CleanupTemp", mock.Anything, mock.Anything).Return(errors.New("busy"))

	out, err := f.svc.Process(context.Background(), Input{SourcePath: "/videos/match.mp4"})

	require.NoError(t, err, "cleanup failures are not fatal")
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Empty(t, out.Events)
	f.clips.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestHighlightService_PlanWarnings(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
	f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(0.0, errors.New("ffprobe missing"))
	f.clips.On("Extract", mock.Anything, mock.Anything).Return(&rally.Result{Output: "/out/x.mp4"}, nil)

	out, err := f.svc.Process(context.Background(), Input{
		SourcePath: "/videos/match.mp4",
		Extraction: &rally.Options{PreRoll: 9, TrailTrim: 1},
	})

	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "clamped")
}

func TestHighlightService_StageFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		stage Stage
	}{
		{
			name: "audio extraction",
			setup: func(f *fixture) {
				f.storage.On("WorkDir", mock.Anything, mock.Anything).Return(f.workDir, nil)
				f.audio.On("ExtractPCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(audio.ErrInputNotFound)
			},
			stage: StageDecode,
		},
		{
			name: "corrupt wav",
			setup: func(f *fixture) {
				f.storage.On("WorkDir", mock.Anything, mock.Anything).Return(f.workDir, nil)
				f.audio.On("ExtractPCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				f.decoder.On("Decode", mock.Anything, mock.Anything).Return(nil, audio.ErrInvalidWAV)
			},
			stage: StageDecode,
		},
		{
			name: "sample rate mismatch",
			setup: func(f *fixture) {
				f.storage.On("WorkDir", mock.Anything, mock.Anything).Return(f.workDir, nil)
				f.audio.On("ExtractPCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				f.decoder.On("Decode", mock.Anything, mock.Anything).
					Return(&audio.Buffer{Samples: make([]float64, 1024), SampleRate: 44100}, nil)
			},
			stage: StageDetection,
		},
		{
			name: "clip extraction",
			setup: func(f *fixture) {
				f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
				f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(100.0, nil)
				f.clips.On("Extract", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("%w: rally 0: exit status 1", rally.ErrClipFailed))
			},
			stage: StageExtraction,
		},
		{
			name: "concatenation",
			setup: func(f *fixture) {
				f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
				f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(100.0, nil)
				f.clips.On("Extract", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("%w: disk full", rally.ErrConcatFailed))
			},
			stage: StageConcatenation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			out, err := f.svc.Process(context.Background(), Input{SourcePath: "/videos/match.mp4"})

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.stage, stageErr.Stage)
			require.NotNil(t, out)
			assert.Equal(t, StatusFailed, out.Status)

			saved, err := f.svc.GetJob(context.Background(), out.JobID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, saved.Status)
			assert.Equal(t, tt.stage, saved.FailedStage)
			assert.NotEmpty(t, saved.Error)

			// Intermediates stay on disk for inspection.
			f.storage.AssertNotCalled(t, "CleanupTemp", mock.Anything, mock.Anything)
		})
	}
}

func TestHighlightService_InvalidParams(t *testing.T) {
	f := newFixture(t)
	bad := smallParams()
	bad.FrameSize = 300

	out, err := f.svc.Process(context.Background(), Input{SourcePath: "/videos/match.mp4", Detection: &bad})

	assert.ErrorIs(t, err, detect.ErrFrameSize)
	assert.Equal(t, StatusFailed, out.Status)
	f.storage.AssertNotCalled(t, "WorkDir", mock.Anything, mock.Anything)
	f.audio.AssertNotCalled(t, "ExtractPCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHighlightService_PushToS3(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
	f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(100.0, nil)
	f.clips.On("Extract", mock.Anything, mock.Anything).Return(&rally.Result{Output: "/out/reel.mp4"}, nil)
	f.storage.On("Publish", mock.Anything, "highlights/reel.mp4", "/out/reel.mp4").
		Return("https://bucket.s3.eu-west-1.amazonaws.com/highlights/reel.mp4", nil)

	out, err := f.svc.Process(context.Background(), Input{
		SourcePath: "/videos/match.mp4",
		OutputPath: filepath.Join(f.outDir, "reel.mp4"),
		PushToS3:   true,
	})

	require.NoError(t, err)
	assert.Equal(t, "/out/reel.mp4", out.OutputPath)
	assert.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com/highlights/reel.mp4", out.VideoURL)
}

func TestHighlightService_PublishFailure(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
	f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(100.0, nil)
	f.clips.On("Extract", mock.Anything, mock.Anything).Return(&rally.Result{Output: "/out/reel.mp4"}, nil)
	f.storage.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))

	out, err := f.svc.Process(context.Background(), Input{SourcePath: "/videos/match.mp4", PushToS3: true})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePublish, stageErr.Stage)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "/out/reel.mp4", out.OutputPath, "local reel is kept")
}

func TestHighlightService_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.storage.On("WorkDir", mock.Anything, mock.Anything).Return(f.workDir, nil)
	f.audio.On("ExtractPCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)

	out, err := f.svc.Process(ctx, Input{SourcePath: "/videos/match.mp4"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, out.Status)
}

func TestHighlightService_Submit(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(nil)
	f.storage.On("CleanupTemp", mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := f.svc.Submit(ctx, Input{SourcePath: "/videos/match.mp4"})
	require.NoError(t, err)
	// The run must survive the request context going away.
	cancel()

	require.Eventually(t, func() bool {
		saved, err := f.svc.GetJob(context.Background(), job.ID)
		return err == nil && saved.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHighlightService_ListJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJob(ctx, Input{SourcePath: "a.mp4"})
	require.NoError(t, err)
	second := NewWithID("later", "b.mp4")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	require.NoError(t, f.repo.Save(ctx, second))

	jobs, err := f.svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "later", jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestHighlightService_ArtifactsRemovedOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(whistleSamples(smallParams(), 260, [2]int{10, 29}, [2]int{200, 219}))
	f.prober.On("GetMediaDuration", mock.Anything, mock.Anything).Return(100.0, nil)

	var req rally.Request
	f.clips.On("Extract", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { req = args.Get(1).(rally.Request) }).
		Return(&rally.Result{Output: "/out/reel.mp4"}, nil)

	_, err := f.svc.Process(context.Background(), Input{
		SourcePath: "/videos/match.mp4",
		Artifacts:  []string{"/tmp/rallycut/upload_1.mp4"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{f.wav(), "/tmp/rallycut/upload_1.mp4"}, req.Artifacts)
}

func TestHighlightService_ArtifactsRemovedWithoutRallies(t *testing.T) {
	f := newFixture(t)
	f.expectDecode(nil)
	f.storage.On("CleanupTemp", mock.Anything, []string{f.wav(), f.workDir, "/tmp/rallycut/upload_1.mp4"}).
		Return(nil).Once()

	_, err := f.svc.Process(context.Background(), Input{
		SourcePath: "/videos/match.mp4",
		Artifacts:  []string{"/tmp/rallycut/upload_1.mp4"},
	})

	require.NoError(t, err)
	f.storage.AssertExpectations(t)
}

func TestHighlightService_DeleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("finished job and reel", func(t *testing.T) {
		f := newFixture(t)
		done := NewWithID("job-1", "/videos/match.mp4")
		require.NoError(t, done.Start())
		done.SetOutput("/out/job-1.mp4", "")
		require.NoError(t, done.Complete())
		require.NoError(t, f.repo.Save(ctx, done))
		f.storage.On("CleanupTemp", mock.Anything, []string{"/out/job-1.mp4"}).Return(nil).Once()

		require.NoError(t, f.svc.DeleteJob(ctx, "job-1"))

		_, err := f.svc.GetJob(ctx, "job-1")
		assert.ErrorIs(t, err, ErrJobNotFound)
		f.storage.AssertExpectations(t)
	})

	t.Run("running job is kept", func(t *testing.T) {
		f := newFixture(t)
		running := NewWithID("job-2", "/videos/match.mp4")
		require.NoError(t, running.Start())
		require.NoError(t, f.repo.Save(ctx, running))

		err := f.svc.DeleteJob(ctx, "job-2")

		assert.ErrorIs(t, err, ErrJobActive)
		_, err = f.svc.GetJob(ctx, "job-2")
		assert.NoError(t, err)
		f.storage.AssertNotCalled(t, "CleanupTemp", mock.Anything, mock.Anything)
	})

	t.Run("failed job without reel", func(t *testing.T) {
		f := newFixture(t)
		failed := NewWithID("job-3", "/videos/match.mp4")
		require.NoError(t, failed.Start())
		require.NoError(t, failed.Fail(StageDecode, "boom"))
		require.NoError(t, f.repo.Save(ctx, failed))

		require.NoError(t, f.svc.DeleteJob(ctx, "job-3"))
		f.storage.AssertNotCalled(t, "CleanupTemp", mock.Anything, mock.Anything)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.svc.DeleteJob(ctx, "missing"), ErrJobNotFound)
	})
}
