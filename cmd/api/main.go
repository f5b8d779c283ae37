package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iddaa-lens/scheduler/internal/bootstrap"
	"github.com/iddaa-lens/scheduler/internal/config"
	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/server"
)

// The API node manages jobs in the shared store without running them. It
// initializes a scheduler for its API but never starts the control loop.
func main() {
	// Setup structured logging
	logger.SetupLogger()
	log := logger.New("api-service")

	// Load configuration
	cfg := config.Load()
	if cfg.Scheduler.Store != config.StorePostgres {
		log.Fatal().
			Str("store", cfg.Scheduler.Store).
			Str("action", "invalid_store").
			Msg("The API service manages a shared store; set SCHEDULER_STORE=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, cfg.Scheduler.Store, true, log)
	if err != nil {
		log.Fatal().Err(err).Str("action", "store_open_failed").Msg("Failed to open job store")
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	s, err := scheduler.NewRegistry().NewScheduler(scheduler.Config{
		Name:    cfg.Scheduler.Name,
		Logger:  log,
		Metrics: scheduler.NewMetrics(registry),
	}, store, jobs.NewRunner(jobs.NewFactory(), 1))
	if err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_creation_failed").Msg("Failed to create scheduler")
	}
	if err := s.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_init_failed").Msg("Failed to initialize scheduler")
	}

	// Create and start server
	srv := server.New(server.Options{
		Addr:      cfg.Addr(),
		Scheduler: s,
		Gatherer:  registry,
		DBStats:   store.DBStats,
	}, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Str("action", "server_failed").Msg("Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down server")
	}
	if err := s.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close scheduler")
	}
}
