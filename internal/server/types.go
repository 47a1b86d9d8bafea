// Package server provides the HTTP job API for rallycut.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/job"
	"github.com/maauso/rallycut/internal/rally"
)

// DetectionOverrides replaces individual detection defaults for one job.
type DetectionOverrides struct {
	TargetHz    *float64 `json:"target_hz" validate:"omitempty,gt=0"`
	BandHz      *float64 `json:"band_hz" validate:"omitempty,gt=0"`
	FrameSize   *int     `json:"frame_size" validate:"omitempty,pow2,min=64,max=65536"`
	SampleRate  *int     `json:"sample_rate" validate:"omitempty,min=8000,max=192000"`
	Threshold   *float64 `json:"threshold" validate:"omitempty,gt=0"`
	MergeGapSec *float64 `json:"merge_gap_sec" validate:"omitempty,gte=0"`
	MinEventSec *float64 `json:"min_event_sec" validate:"omitempty,gte=0"`
}

func (o *DetectionOverrides) apply(p detect.Params) detect.Params {
	if o == nil {
		return p
	}
	setIf(&p.TargetHz, o.TargetHz)
	setIf(&p.BandHz, o.BandHz)
	setIf(&p.FrameSize, o.FrameSize)
	setIf(&p.SampleRate, o.SampleRate)
	setIf(&p.Threshold, o.Threshold)
	setIf(&p.MergeGap, o.MergeGapSec)
	setIf(&p.MinDuration, o.MinEventSec)
	return p
}

// ExtractionOverrides replaces clip planning defaults for one job.
type ExtractionOverrides struct {
	PreRollSec   *float64 `json:"pre_roll_sec" validate:"omitempty,gte=0"`
	TrailTrimSec *float64 `json:"trail_trim_sec" validate:"omitempty,gte=0"`
}

func (o *ExtractionOverrides) apply(opts rally.Options) rally.Options {
	if o == nil {
		return opts
	}
	setIf(&opts.PreRoll, o.PreRollSec)
	setIf(&opts.TrailTrim, o.TrailTrimSec)
	return opts
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// SourcePath is a video file readable by the server.
	SourcePath string `json:"source_path" validate:"required"`
	// OutputPath names the reel file inside the server's output directory.
	OutputPath string `json:"output_path"`
	// PushToS3 indicates whether to upload the reel to S3.
	PushToS3   bool                 `json:"push_to_s3"`
	Detection  *DetectionOverrides  `json:"detection"`
	Extraction *ExtractionOverrides `json:"extraction"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EventResponse is one detected whistle.
type EventResponse struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RallyResponse is one rally and, when planned, its clip.
type RallyResponse struct {
	Index        int      `json:"index"`
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	ClipStart    *float64 `json:"clip_start,omitempty"`
	ClipDuration *float64 `json:"clip_duration,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Stage       string          `json:"stage"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	SourcePath  string          `json:"source_path"`
	OutputPath  string          `json:"output_path,omitempty"`
	VideoURL    string          `json:"video_url,omitempty"`
	Frames      int             `json:"frames"`
	Events      []EventResponse `json:"events"`
	Rallies     []RallyResponse `json:"rallies"`
	Warnings    []string        `json:"warnings"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// JobSummary is one entry of GET /jobs.
type JobSummary struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Progress   int       `json:"progress"`
	SourcePath string    `json:"source_path"`
	Rallies    int       `json:"rallies"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListJobsResponse is the HTTP response for GET /jobs.
type ListJobsResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		Stage:       string(j.Stage),
		FailedStage: string(j.FailedStage),
		Progress:    j.Progress,
		Error:       j.Error,
		SourcePath:  j.SourcePath,
		OutputPath:  j.OutputPath,
		VideoURL:    j.VideoURL,
		Frames:      j.Frames,
		Events:      make([]EventResponse, len(j.Events)),
		Rallies:     make([]RallyResponse, len(j.Rallies)),
		Warnings:    append([]string{}, j.Warnings...),
		CreatedAt:   j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	for i, e := range j.Events {
		resp.Events[i] = EventResponse{Start: e.Start, End: e.End}
	}
	for i, iv := range j.Rallies {
		resp.Rallies[i] = RallyResponse{Index: i, Start: iv.Start, End: iv.End}
	}
	for _, c := range j.Clips {
		if c.Index >= 0 && c.Index < len(resp.Rallies) {
			start, dur := c.Start, c.Duration
			resp.Rallies[c.Index].ClipStart = &start
			resp.Rallies[c.Index].ClipDuration = &dur
		}
	}
	return resp
}

func toJobSummary(j *job.Job) JobSummary {
	return JobSummary{
		ID:         j.ID,
		Status:     string(j.Status),
		Stage:      string(j.Stage),
		Progress:   j.Progress,
		SourcePath: j.SourcePath,
		Rallies:    len(j.Rallies),
		CreatedAt:  j.CreatedAt,
	}
}
