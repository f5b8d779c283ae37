package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iddaa-lens/scheduler/internal/bootstrap"
	"github.com/iddaa-lens/scheduler/internal/config"
	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/jobs/builtin"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/server"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		storeKind = flag.String("store", "", "Job store: memory or postgres (default $SCHEDULER_STORE)")
		migrate   = flag.Bool("migrate", true, "Create the postgres tables on startup")
		demo      = flag.Bool("demo", false, "Create a demo counter job firing every minute")
		jobKey    = flag.String("job", "", "Run the job registered under this key once (with -once)")
		once      = flag.Bool("once", false, "Run -job once and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	log := logger.New("scheduler")
	cfg := config.Load()
	if *storeKind == "" {
		*storeKind = cfg.Scheduler.Store
	}

	factory := jobs.NewFactory()
	if err := builtin.Register(factory, jobs.DefaultRetryConfig()); err != nil {
		log.Fatalf("Failed to register built-in jobs: %v", err)
	}
	runner := jobs.NewRunner(factory, cfg.Scheduler.MaxConcurrentJobs)

	// Handle single job execution
	if *once {
		if *jobKey == "" {
			log.Fatalf("-once requires -job; available jobs: %v", factory.Keys())
		}
		runOnce(runner, *jobKey, log)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, *storeKind, *migrate, log)
	if err != nil {
		log.Fatal().Err(err).Str("action", "store_open_failed").Msg("Failed to open job store")
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	schedulers := scheduler.NewRegistry()
	s, err := schedulers.NewScheduler(scheduler.Config{
		Name:               cfg.Scheduler.Name,
		ErrorRecoveryDelay: cfg.Scheduler.ErrorRecoveryDelay,
		Logger:             log,
		Metrics:            scheduler.NewMetrics(registry),
	}, store, runner)
	if err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_creation_failed").Msg("Failed to create scheduler")
	}

	if err := s.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_init_failed").Msg("Failed to initialize scheduler")
	}
	if err := s.Start(); err != nil {
		log.Fatal().Err(err).Str("action", "scheduler_start_failed").Msg("Failed to start scheduler")
	}

	if *demo {
		createDemoJob(ctx, s, log)
	}

	srv := server.New(server.Options{
		Addr:      cfg.Addr(),
		Scheduler: s,
		Gatherer:  registry,
		DBStats:   store.DBStats,
	}, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Str("action", "server_failed").Msg("Admin API server failed")
			stop()
		}
	}()

	log.Info().
		Str("action", "service_start").
		Str("store", *storeKind).
		Str("scheduler_name", s.Name()).
		Strs("jobs", factory.Keys()).
		Msg("Scheduler service started")

	<-ctx.Done()
	log.Info().Str("action", "service_stop").Msg("Shutting down scheduler service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down admin API server")
	}
	if err := s.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close scheduler cleanly")
	}
	log.Info().Str("action", "service_stopped").Msg("Scheduler service stopped")
}

func createDemoJob(ctx context.Context, s *scheduler.Scheduler, log *logger.Logger) {
	trig, err := trigger.NewPeriodicTrigger(time.Now(),
		trigger.WithPeriod(time.Minute),
		trigger.WithMisfireAction(trigger.ExecuteJob),
	)
	if err != nil {
		log.Fatalf("Failed to create demo trigger: %v", err)
	}

	spec := jobs.NewJobSpec("demo-counter", builtin.CounterJobKey, trig)
	spec.Description = "Counts its own executions"
	created, err := s.CreateJob(ctx, spec, scheduler.ConflictIgnore)
	if err != nil {
		log.Fatalf("Failed to create demo job: %v", err)
	}
	log.Info().
		Str("action", "demo_job").
		Bool("created", created).
		Msg("Demo counter job ready")
}

type onceScheduler struct{}

func (onceScheduler) ID() uuid.UUID { return uuid.Nil }
func (onceScheduler) Name() string  { return "once" }

func runOnce(runner *jobs.Runner, jobKey string, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	spec := jobs.NewJobSpec(jobKey, jobKey, trigger.NewOneShotTrigger(time.Now()))
	execCtx := &jobs.ExecutionContext{
		Scheduler: onceScheduler{},
		Logger:    log.WithJob(spec.Name, jobKey),
		JobSpec:   spec,
		JobData:   jobs.JobData{},
	}

	run, err := runner.Start(ctx, execCtx)
	if err != nil {
		log.Fatalf("Failed to start job %s: %v", jobKey, err)
	}
	succeeded, err := run.Wait()
	if err != nil || !succeeded {
		log.Error().Err(err).Str("job_key", jobKey).Msg("Job failed")
		os.Exit(1)
	}
	log.Info().
		Str("job_key", jobKey).
		Dur("duration", run.Duration()).
		Msg("Job completed successfully")
}
