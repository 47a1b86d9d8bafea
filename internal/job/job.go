// Package job provides the highlight Job aggregate, its repository and the
// service that runs the whistle-to-reel pipeline for it.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/job/id"
	"github.com/maauso/rallycut/internal/rally"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is running.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a stage failed; FailedStage says which.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job's context was cancelled.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one highlight-reel run over a source video.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Stage is the pipeline stage currently running (or last run).
	Stage Stage
	// FailedStage is set when Status is FAILED.
	FailedStage Stage
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// SourcePath is the video being processed.
	SourcePath string
	// OutputPath is the highlight reel, empty when no rally was found.
	OutputPath string
	// PushToS3 indicates whether to upload the reel to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// Frames is the number of analysed audio frames.
	Frames int
	// Events are the surviving whistle events.
	Events []detect.Event
	// Rallies are the intervals between paired events.
	Rallies []rally.Interval
	// Clips are the cuts that were planned.
	Clips []rally.Clip
	// Warnings are non-fatal notes (clamped or skipped clips).
	Warnings []string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(sourcePath string) *Job {
	return NewWithID(id.Generate(), sourcePath)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID, sourcePath string) *Job {
	now := time.Now()
	return &Job{
		ID:         jobID,
		Status:     StatusInQueue,
		Stage:      StageQueued,
		SourcePath: sourcePath,
		Events:     make([]detect.Event, 0),
		Rallies:    make([]rally.Interval, 0),
		Clips:      make([]rally.Clip, 0),
		Warnings:   make([]string, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Stage = StageDone
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED, recording the stage and message.
func (j *Job) Fail(stage Stage, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.FailedStage = stage
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStage records the stage about to run.
func (j *Job) SetStage(stage Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = max(0, min(100, progress))
	j.UpdatedAt = time.Now()
}

// SetDetection stores the detection outcome.
func (j *Job) SetDetection(frames int, events []detect.Event, rallies []rally.Interval) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Frames = frames
	j.Events = cloneSlice(events)
	j.Rallies = cloneSlice(rallies)
	j.UpdatedAt = time.Now()
}

// SetClips stores the planned clips.
func (j *Job) SetClips(clips []rally.Clip) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Clips = cloneSlice(clips)
	j.UpdatedAt = time.Now()
}

// AddWarning appends a non-fatal note.
func (j *Job) AddWarning(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Warnings = append(j.Warnings, msg)
	j.UpdatedAt = time.Now()
}

// SetOutput sets the reel path and optional S3 URL.
func (j *Job) SetOutput(videoPath, videoURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = videoPath
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Stage:       j.Stage,
		FailedStage: j.FailedStage,
		Progress:    j.Progress,
		Error:       j.Error,
		SourcePath:  j.SourcePath,
		OutputPath:  j.OutputPath,
		PushToS3:    j.PushToS3,
		VideoURL:    j.VideoURL,
		Frames:      j.Frames,
		Events:      cloneSlice(j.Events),
		Rallies:     cloneSlice(j.Rallies),
		Clips:       cloneSlice(j.Clips),
		Warnings:    cloneSlice(j.Warnings),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func cloneSlice[T any](s []T) []T {
	return append(make([]T, 0, len(s)), s...)
}
