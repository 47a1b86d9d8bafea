package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/rallycut/internal/config"
	"github.com/maauso/rallycut/internal/detect"
	"github.com/maauso/rallycut/internal/job"
	"github.com/maauso/rallycut/internal/rally"
)

// JobService is the subset of job.HighlightService the handlers use.
type JobService interface {
	Submit(ctx context.Context, input job.Input) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Uploader stores uploaded source videos.
type Uploader interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
}

// Defaults are the pipeline settings request overrides are applied to.
type Defaults struct {
	Detection  detect.Params
	Extraction rally.Options
	// OutputDir holds every reel written for an HTTP job.
	OutputDir string
}

// DefaultMaxUploadBytes caps POST /jobs/upload bodies.
const DefaultMaxUploadBytes int64 = 4 << 30

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        JobService
	uploader       Uploader
	defaults       Defaults
	validator      *validator.Validate
	logger         *slog.Logger
	s3Enabled      bool
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithS3 allows jobs to request push_to_s3.
func WithS3(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.s3Enabled = enabled
	}
}

// WithMaxUploadBytes sets the upload size limit.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, uploader Uploader, defaults Defaults, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		uploader:       uploader,
		defaults:       defaults,
		validator:      config.NewValidator(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests for a video already on the server.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if info, err := os.Stat(req.SourcePath); err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "source_path is not a readable file", "SOURCE_NOT_FOUND")
		return
	}

	input, ok := h.buildInput(w, req.SourcePath, req.PushToS3, req.Detection, req.Extraction)
	if !ok {
		return
	}
	if req.OutputPath != "" {
		name, ok := outputName(req.OutputPath)
		if !ok {
			writeError(w, http.StatusBadRequest, "output_path must be a plain file name", "INVALID_OUTPUT_PATH")
			return
		}
		input.OutputPath = filepath.Join(h.defaults.OutputDir, name)
	}

	h.submit(w, r, input)
}

// UploadJob handles POST /jobs/upload: a multipart form with the video in
// the "video" field and an optional "push_to_s3" field.
func (h *Handlers) UploadJob(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	if r.ContentLength > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file is required", "MISSING_VIDEO")
		return
	}
	defer func() { _ = file.Close() }()

	var push bool
	if v := r.FormValue("push_to_s3"); v != "" {
		push, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "push_to_s3 must be a boolean", "VALIDATION_ERROR")
			return
		}
	}

	input, ok := h.buildInput(w, header.Filename, push, nil, nil)
	if !ok {
		return
	}

	path, err := h.uploader.SaveTemp(r.Context(), header.Filename, file)
	if err != nil {
		logger.Error("failed to store upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
		return
	}
	logger.Info("video uploaded",
		slog.String("filename", header.Filename),
		slog.Int64("bytes", header.Size),
		slog.String("path", path),
	)
	input.SourcePath = path
	input.Artifacts = []string{path}

	h.submit(w, r, input)
}

// outputName accepts a bare file name only, so a reel can never be written
// outside the output directory.
func outputName(p string) (string, bool) {
	if p != filepath.Base(p) || strings.ContainsAny(p, `/\`) || strings.HasPrefix(p, ".") {
		return "", false
	}
	return p, true
}

// buildInput applies overrides and checks the combined parameters. It writes
// the error response itself and returns false when the request is invalid.
func (h *Handlers) buildInput(w http.ResponseWriter, source string, push bool, det *DetectionOverrides, ext *ExtractionOverrides) (job.Input, bool) {
	if push && !h.s3Enabled {
		writeError(w, http.StatusBadRequest, "S3 is not configured", "S3_NOT_CONFIGURED")
		return job.Input{}, false
	}

	input := job.Input{SourcePath: source, PushToS3: push}
	if det != nil {
		params := det.apply(h.defaults.Detection)
		if err := params.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return job.Input{}, false
		}
		input.Detection = &params
	}
	if ext != nil {
		opts := ext.apply(h.defaults.Extraction)
		input.Extraction = &opts
	}
	return input, true
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, input job.Input) {
	logger := loggerFrom(r.Context(), h.logger)

	created, err := h.service.Submit(r.Context(), input)
	if err != nil {
		logger.Error("failed to create job", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("source", input.SourcePath),
	)

	w.Header().Set("Location", "/jobs/"+created.ID)
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.GetStatus()),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		loggerFrom(r.Context(), h.logger).Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobSummary, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = toJobSummary(j)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// DeleteJob handles DELETE /jobs/{id}: it forgets a finished job and removes
// its local reel.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobActive):
		writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
	default:
		loggerFrom(r.Context(), h.logger).Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

// GetVideo handles GET /jobs/{id}/video: it serves the finished reel.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}

	if found.Status != job.StatusCompleted || found.OutputPath == "" {
		writeError(w, http.StatusNotFound, "no highlight reel for this job", "VIDEO_NOT_AVAILABLE")
		return
	}
	if found.VideoURL != "" {
		http.Redirect(w, r, found.VideoURL, http.StatusFound)
		return
	}
	if _, err := os.Stat(found.OutputPath); err != nil {
		loggerFrom(r.Context(), h.logger).Error("reel missing on disk",
			slog.String("job_id", found.ID),
			slog.String("path", found.OutputPath),
		)
		writeError(w, http.StatusNotFound, "no highlight reel for this job", "VIDEO_NOT_AVAILABLE")
		return
	}
	http.ServeFile(w, r, found.OutputPath)
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		loggerFrom(r.Context(), h.logger).Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
