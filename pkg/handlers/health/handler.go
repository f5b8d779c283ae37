package health

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/json"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/models/api"
)

// SchedulerInfo is the scheduler instance reported by the health check
type SchedulerInfo interface {
	ID() uuid.UUID
	Name() string
	IsRunning() bool
}

// Handler handles health check requests
type Handler struct {
	logger    *logger.Logger
	scheduler SchedulerInfo
	// dbStats reports connection pool statistics when a database is in use.
	dbStats func() interface{}
}

// NewHandler creates a new health handler. scheduler and dbStats may be nil.
func NewHandler(log *logger.Logger, scheduler SchedulerInfo, dbStats func() interface{}) *Handler {
	return &Handler{
		logger:    log,
		scheduler: scheduler,
		dbStats:   dbStats,
	}
}

// HealthCheck handles the /health endpoint
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context(), h.logger)

	response := api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	}
	if h.scheduler != nil {
		response.Scheduler = &api.SchedulerStatus{
			ID:      h.scheduler.ID().String(),
			Name:    h.scheduler.Name(),
			Running: h.scheduler.IsRunning(),
		}
	}
	if h.dbStats != nil {
		response.Database = h.dbStats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Err(err).
			Str("action", "health_check_failed").
			Str("endpoint", "/health").
			Msg("Failed to encode health response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	log.Debug().
		Str("action", "health_check").
		Str("endpoint", "/health").
		Str("method", r.Method).
		Str("remote_addr", r.RemoteAddr).
		Int("status_code", 200).
		Dur("duration", time.Since(start)).
		Msg("Health check completed")
}
