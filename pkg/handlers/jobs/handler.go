package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/json"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/models/api"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/utils"
)

// JobManager is the part of the scheduler API the handler needs
type JobManager interface {
	GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error)
	CreateJob(ctx context.Context, spec jobs.JobSpec, conflict scheduler.ConflictAction) (bool, error)
	UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error
	DeleteJob(ctx context.Context, name string) (bool, error)
	ListJobNames(ctx context.Context) ([]string, error)
}

type Handler struct {
	manager JobManager
	logger  *logger.Logger
}

func NewHandler(manager JobManager, logger *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// List handles GET /api/jobs
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := h.manager.ListJobNames(ctx)
	if err != nil {
		h.writeError(w, r, err, "Failed to list jobs")
		return
	}

	response := make([]api.JobResponse, 0, len(names))
	for _, name := range names {
		details, err := h.manager.GetJobDetails(ctx, name)
		if errors.Is(err, scheduler.ErrJobNotFound) {
			// Deleted between listing and loading
			continue
		}
		if err != nil {
			h.writeError(w, r, err, "Failed to load job")
			return
		}
		response = append(response, toJobResponse(details))
	}

	h.writeJSON(w, r, http.StatusOK, api.Response{
		Success: true,
		Data:    response,
		Meta: map[string]interface{}{
			"total": len(response),
		},
	})
}

// Get handles GET /api/jobs/{name}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	details, err := h.manager.GetJobDetails(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load job")
		return
	}

	h.writeJSON(w, r, http.StatusOK, api.Response{
		Success: true,
		Data:    toJobResponse(details),
	})
}

// Create handles POST /api/jobs?conflict={throw|update|replace|ignore}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	conflict := scheduler.ConflictThrow
	if value := r.URL.Query().Get("conflict"); value != "" {
		parsed, err := scheduler.ParseConflictAction(value)
		if err != nil {
			h.writeError(w, r, err, "Invalid conflict action")
			return
		}
		conflict = parsed
	}

	var req api.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Mark(err, errBadRequest), "Invalid request body")
		return
	}
	if req.Name == "" && req.Description != "" {
		req.Name = utils.GenerateJobName(req.Description)
	}

	spec, err := buildSpec(req)
	if err != nil {
		h.writeError(w, r, err, "Invalid job")
		return
	}

	changed, err := h.manager.CreateJob(r.Context(), spec, conflict)
	if err != nil {
		h.writeError(w, r, err, "Failed to create job")
		return
	}

	h.log(r).Info().
		Str("action", "job_created").
		Str("job_name", spec.Name).
		Str("conflict", conflict.String()).
		Bool("changed", changed).
		Dur("duration", time.Since(start)).
		Msg("Job create request handled")

	status := http.StatusCreated
	if !changed {
		status = http.StatusOK
	}
	h.writeJSON(w, r, status, api.Response{
		Success: true,
		Data:    map[string]interface{}{"name": spec.Name, "changed": changed},
	})
}

// Update handles PUT /api/jobs/{name}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req api.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Mark(err, errBadRequest), "Invalid request body")
		return
	}
	req.Name = name

	spec, err := buildSpec(req)
	if err != nil {
		h.writeError(w, r, err, "Invalid job")
		return
	}

	if err := h.manager.UpdateJob(r.Context(), name, spec); err != nil {
		h.writeError(w, r, err, "Failed to update job")
		return
	}

	h.writeJSON(w, r, http.StatusOK, api.Response{
		Success: true,
		Data:    map[string]interface{}{"name": name},
	})
}

// Delete handles DELETE /api/jobs/{name}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	deleted, err := h.manager.DeleteJob(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err, "Failed to delete job")
		return
	}
	if !deleted {
		h.writeError(w, r, errors.Wrapf(scheduler.ErrJobNotFound, "job %q", name), "Failed to delete job")
		return
	}

	h.writeJSON(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "Job deleted",
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, scheduler.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotInitialized), errors.Is(err, scheduler.ErrDisposed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// log returns the request-scoped logger set by the request logging middleware.
func (h *Handler) log(r *http.Request) *logger.Logger {
	return logger.FromContext(r.Context(), h.logger)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := statusFor(err)

	log := h.log(r)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status_code", status).
		Msg(message)

	if status == http.StatusInternalServerError {
		// Store errors may carry connection details.
		h.writeJSON(w, r, status, api.Response{Success: false, Message: message})
		return
	}
	h.writeJSON(w, r, status, api.Response{Success: false, Message: message + ": " + err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log(r).Error().Err(err).Msg("Failed to encode response")
	}
}
