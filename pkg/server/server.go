package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iddaa-lens/scheduler/pkg/handlers/health"
	"github.com/iddaa-lens/scheduler/pkg/handlers/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/middleware"
)

// Scheduler is the scheduler API served by the admin server
type Scheduler interface {
	health.SchedulerInfo
	jobs.JobManager
}

// Options configures the admin server
type Options struct {
	Addr      string
	Scheduler Scheduler
	// Gatherer serves /metrics. Nil uses the default prometheus registry.
	Gatherer prometheus.Gatherer
	// DBStats is reported by /health when set.
	DBStats func() interface{}
}

// Server represents the admin API server
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	handlers   struct {
		health *health.Handler
		jobs   *jobs.Handler
	}
}

// New creates a new server instance
func New(opts Options, log *logger.Logger) *Server {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{logger: log}
	s.handlers.health = health.NewHandler(log, opts.Scheduler, opts.DBStats)
	s.handlers.jobs = jobs.NewHandler(opts.Scheduler, log)

	router := http.NewServeMux()
	s.setupRoutes(router, gatherer)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           middleware.RequestLog(log)(middleware.CORS(router)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(router *http.ServeMux, gatherer prometheus.Gatherer) {
	router.HandleFunc("GET /health", s.handlers.health.HealthCheck)
	router.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintf(w, "Scheduler Admin API - OK"); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	})

	router.HandleFunc("GET /api/jobs", s.handlers.jobs.List)
	router.HandleFunc("POST /api/jobs", s.handlers.jobs.Create)
	router.HandleFunc("GET /api/jobs/{name}", s.handlers.jobs.Get)
	router.HandleFunc("PUT /api/jobs/{name}", s.handlers.jobs.Update)
	router.HandleFunc("DELETE /api/jobs/{name}", s.handlers.jobs.Delete)
}

// Handler returns the root handler, including middleware
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("addr", s.httpServer.Addr).
		Msg("Starting admin API server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "server failed to start on %s", s.httpServer.Addr)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down admin API server")
	}
	s.logger.Info().Str("action", "server_stop").Msg("Admin API server stopped")
	return nil
}
