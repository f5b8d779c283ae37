// Package scheduler runs the control loop that moves persisted jobs through
// their states: it asks a store's watcher for the next job needing attention,
// consults the job's trigger and applies the resulting action.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

const (
	// DefaultErrorRecoveryDelay is how long the loop waits after an unexpected error.
	DefaultErrorRecoveryDelay = 30 * time.Second

	// OrphanedStatusMessage is recorded as the outcome of executions lost with
	// their scheduler.
	OrphanedStatusMessage = "The job was orphaned by its scheduler."

	completionTimeout = 30 * time.Second
	unregisterTimeout = 10 * time.Second
)

// Config holds scheduler settings
type Config struct {
	Name               string
	ErrorRecoveryDelay time.Duration
	Clock              func() time.Time
	Logger             *logger.Logger
	Metrics            *Metrics
}

// Scheduler is one scheduler instance. Several instances may share a store.
type Scheduler struct {
	id                 uuid.UUID
	name               string
	store              JobStore
	runner             *jobs.Runner
	clock              func() time.Time
	errorRecoveryDelay time.Duration
	logger             *logger.Logger
	metrics            *Metrics

	mu          sync.Mutex
	initialized bool
	disposed    bool
	watcher     JobWatcher
	cancel      context.CancelFunc
	loopDone    chan struct{}
	running     atomic.Bool
	onClose     func(*Scheduler)

	jobCtx      context.Context
	cancelJobs  context.CancelFunc
	completions sync.WaitGroup
}

// New creates a scheduler that manages the jobs in store and runs them on runner.
func New(cfg Config, store JobStore, runner *jobs.Runner) (*Scheduler, error) {
	if store == nil {
		return nil, invalidArgument("store cannot be nil")
	}
	if runner == nil {
		return nil, invalidArgument("runner cannot be nil")
	}
	if cfg.Name == "" {
		return nil, invalidArgument("scheduler name cannot be empty")
	}
	if cfg.ErrorRecoveryDelay < 0 {
		return nil, invalidArgument("error recovery delay cannot be negative, got %s", cfg.ErrorRecoveryDelay)
	}
	if cfg.ErrorRecoveryDelay == 0 {
		cfg.ErrorRecoveryDelay = DefaultErrorRecoveryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("scheduler")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	id := uuid.New()
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	return &Scheduler{
		id:                 id,
		name:               cfg.Name,
		store:              store,
		runner:             runner,
		clock:              cfg.Clock,
		errorRecoveryDelay: cfg.ErrorRecoveryDelay,
		logger:             cfg.Logger.WithScheduler(id, cfg.Name),
		metrics:            cfg.Metrics,
		jobCtx:             jobCtx,
		cancelJobs:         cancelJobs,
	}, nil
}

func (s *Scheduler) ID() uuid.UUID { return s.id }

func (s *Scheduler) Name() string { return s.name }

// IsRunning reports whether the control loop is running.
func (s *Scheduler) IsRunning() bool { return s.running.Load() }

// Initialize registers the scheduler with its store. Calling it again is a no-op.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.initialized {
		return nil
	}

	if err := s.store.RegisterScheduler(ctx, s.id, s.name); err != nil {
		return errors.Wrap(err, "failed to register scheduler")
	}
	s.initialized = true

	s.logger.Info().
		Str("action", "scheduler_initialized").
		Msg("Scheduler registered with job store")
	return nil
}

// Start launches the control loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsableLocked(); err != nil {
		return err
	}
	if s.loopDone != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = s.store.CreateWatcher(s.id)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running.Store(true)

	go s.run(ctx, s.watcher, s.loopDone)

	s.logger.Info().
		Str("action", "scheduler_start").
		Dur("error_recovery_delay", s.errorRecoveryDelay).
		Msg("Scheduler started")
	return nil
}

// Stop disposes the watcher and waits for the control loop to exit. Running
// jobs are not interrupted. Stopping a scheduler that is not running is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if err := s.checkUsableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopLocked()
	return nil
}

// stopLocked must be called with s.mu held and releases it.
func (s *Scheduler) stopLocked() {
	watcher, cancel, done := s.watcher, s.cancel, s.loopDone
	s.watcher, s.cancel, s.loopDone = nil, nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}

	watcher.Dispose()
	cancel()
	<-done

	s.logger.Info().
		Str("action", "scheduler_stop").
		Msg("Scheduler stopped")
}

// Close stops the scheduler, waits for running jobs to finish and unregisters
// from the store. If ctx expires first, running jobs are cancelled. Closing
// twice is a no-op.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	initialized, onClose := s.initialized, s.onClose
	s.stopLocked()

	if onClose != nil {
		defer onClose(s)
	}

	finished := make(chan struct{})
	go func() {
		s.completions.Wait()
		close(finished)
	}()

	var waitErr error
	select {
	case <-finished:
	case <-ctx.Done():
		s.logger.Warn().
			Str("action", "scheduler_close_timeout").
			Msg("Cancelling jobs still running at shutdown")
		waitErr = errors.Wrap(ctx.Err(), "gave up waiting for running jobs")
	}
	s.cancelJobs()

	if !initialized {
		return waitErr
	}

	unregisterCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterTimeout)
	defer cancel()
	if err := s.store.UnregisterScheduler(unregisterCtx, s.id); err != nil {
		return errors.CombineErrors(waitErr, errors.Wrap(err, "failed to unregister scheduler"))
	}
	return waitErr
}

// GetJobDetails returns the stored record of the named job.
func (s *Scheduler) GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalidArgument("job name cannot be empty")
	}
	return s.store.GetJobDetails(ctx, name)
}

// CreateJob adds a job. It reports whether the store changed, which is false
// when conflict is ConflictIgnore and the job already exists.
func (s *Scheduler) CreateJob(ctx context.Context, spec jobs.JobSpec, conflict ConflictAction) (bool, error) {
	if err := s.checkUsable(); err != nil {
		return false, err
	}
	if err := spec.Validate(); err != nil {
		return false, errors.Mark(err, ErrInvalidArgument)
	}
	if !conflict.Valid() {
		return false, invalidArgument("unknown conflict action %d", int(conflict))
	}
	return s.store.CreateJob(ctx, spec.Clone(), trigger.UTC(s.clock()), conflict)
}

// UpdateJob replaces the spec of the named job. The job is re-latched from
// scratch; an execution in flight completes but its outcome is discarded.
func (s *Scheduler) UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if name == "" {
		return invalidArgument("job name cannot be empty")
	}
	if err := spec.Validate(); err != nil {
		return errors.Mark(err, ErrInvalidArgument)
	}
	return s.store.UpdateJob(ctx, name, spec.Clone())
}

// DeleteJob removes the named job and reports whether it existed.
func (s *Scheduler) DeleteJob(ctx context.Context, name string) (bool, error) {
	if err := s.checkUsable(); err != nil {
		return false, err
	}
	if name == "" {
		return false, invalidArgument("job name cannot be empty")
	}
	return s.store.DeleteJob(ctx, name)
}

func (s *Scheduler) ListJobNames(ctx context.Context) ([]string, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	return s.store.ListJobNames(ctx)
}

func (s *Scheduler) checkUsable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkUsableLocked()
}

func (s *Scheduler) checkUsableLocked() error {
	if s.disposed {
		return ErrDisposed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, watcher JobWatcher, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	for {
		err := s.processNextJob(ctx, watcher)
		switch {
		case err == nil:
			continue

		case errors.Is(err, ErrWatcherDisposed), ctx.Err() != nil:
			return

		case errors.Is(err, ErrConcurrentModification):
			s.metrics.ConcurrentModifications.Inc()
			s.logger.Debug().
				Err(err).
				Str("action", "concurrent_modification").
				Msg("Job was modified by another writer, discarding changes")

		default:
			s.metrics.LoopErrors.Inc()
			s.logger.Error().
				Err(err).
				Str("action", "loop_error").
				Dur("recovery_delay", s.errorRecoveryDelay).
				Msg("Scheduler loop failed, waiting before continuing")

			if !sleep(ctx, s.errorRecoveryDelay) {
				return
			}
		}
	}
}

func (s *Scheduler) processNextJob(ctx context.Context, watcher JobWatcher) error {
	details, err := watcher.NextJobToProcess(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get next job to process")
	}
	if details == nil {
		return nil
	}

	timeBasis := trigger.UTC(s.clock())
	log := s.logger.WithJob(details.Name(), details.JobSpec.JobKey)
	return s.processJob(ctx, log, details, timeBasis)
}

func (s *Scheduler) processJob(ctx context.Context, log *logger.Logger, details *jobs.JobDetails, timeBasis time.Time) error {
	previous := details.JobState
	action := s.evaluateTrigger(log, details, timeBasis)

	switch action {
	case trigger.Skip:
		details.JobState = jobs.Scheduled
		details.SyncTrigger()
		if err := s.save(ctx, details); err != nil {
			return err
		}

	case trigger.DeleteJob:
		if _, err := s.store.DeleteJob(ctx, details.Name()); err != nil {
			return errors.Wrapf(err, "failed to delete job %q", details.Name())
		}
		log.Info().
			Str("action", "job_deleted").
			Msg("Trigger requested job deletion")
		return nil

	case trigger.ExecuteJob:
		return s.execute(ctx, log, details, timeBasis)

	default:
		if action != trigger.Stop {
			log.Warn().
				Str("action", "unknown_trigger_action").
				Stringer("trigger_action", action).
				Msg("Trigger returned an unknown action, stopping job")
		}
		details.JobState = jobs.Stopped
		details.NextTriggerFireTimeUtc = nil
		details.NextTriggerMisfireThreshold = nil
		if err := s.save(ctx, details); err != nil {
			return err
		}
	}

	log.LogStateTransition(details.Name(), previous.String(), details.JobState.String())
	return nil
}

// evaluateTrigger maps the job state to a condition and asks the trigger what
// to do. Trigger failures and unknown states resolve to Stop.
func (s *Scheduler) evaluateTrigger(log *logger.Logger, details *jobs.JobDetails, timeBasis time.Time) trigger.Action {
	t := details.JobSpec.Trigger
	if t == nil {
		log.Warn().
			Str("action", "missing_trigger").
			Msg("Job has no trigger, stopping job")
		return trigger.Stop
	}

	var cond trigger.Condition
	switch details.JobState {
	case jobs.Pending, jobs.Completed:
		cond = trigger.Latch

	case jobs.Orphaned:
		recordOrphanedExecution(details, timeBasis)
		cond = trigger.Latch

	case jobs.Scheduled, jobs.Triggered:
		cond = fireCondition(log, details, timeBasis)

	default:
		log.Warn().
			Str("action", "unknown_job_state").
			Stringer("job_state", details.JobState).
			Msg("Job is in a state the scheduler does not handle, stopping job")
		return trigger.Stop
	}

	action, err := schedule(t, cond, timeBasis, details.LastJobExecutionDetails.Outcome())
	if err != nil {
		s.metrics.TriggerErrors.Inc()
		log.Error().
			Err(err).
			Str("action", "trigger_error").
			Stringer("condition", cond).
			Msg("Trigger evaluation failed, stopping job")
		return trigger.Stop
	}
	return action
}

// schedule runs the trigger, reporting a panic as an error.
func schedule(t trigger.Trigger, cond trigger.Condition, timeBasis time.Time, last *trigger.LastExecution) (action trigger.Action, err error) {
	defer func() {
		if p := recover(); p != nil {
			action = trigger.Stop
			err = errors.Newf("trigger panicked: %v", p)
		}
	}()
	return t.Schedule(cond, timeBasis, last)
}

// fireCondition is Misfire when the fire time was missed by more than the
// misfire threshold, and Fire otherwise.
func fireCondition(log *logger.Logger, details *jobs.JobDetails, timeBasis time.Time) trigger.Condition {
	next := details.NextTriggerFireTimeUtc
	if next == nil {
		log.Warn().
			Str("action", "missing_fire_time").
			Stringer("job_state", details.JobState).
			Msg("Job has no next fire time, treating as misfire")
		return trigger.Misfire
	}

	threshold := details.NextTriggerMisfireThreshold
	if threshold != nil && timeBasis.Sub(*next) > *threshold {
		return trigger.Misfire
	}
	return trigger.Fire
}

func recordOrphanedExecution(details *jobs.JobDetails, timeBasis time.Time) {
	execution := details.LastJobExecutionDetails
	if execution == nil {
		execution = jobs.NewJobExecutionDetails(uuid.Nil, timeBasis)
	}
	execution.Complete(timeBasis, false, OrphanedStatusMessage)
	details.LastJobExecutionDetails = execution
}

func (s *Scheduler) execute(ctx context.Context, log *logger.Logger, details *jobs.JobDetails, timeBasis time.Time) error {
	previous := details.JobState
	execution := jobs.NewJobExecutionDetails(s.id, timeBasis)

	details.JobState = jobs.Running
	details.SyncTrigger()
	details.LastJobExecutionDetails = execution
	if err := s.save(ctx, details); err != nil {
		return err
	}
	log.LogStateTransition(details.Name(), previous.String(), details.JobState.String())

	execCtx := &jobs.ExecutionContext{
		Scheduler: s,
		Logger:    log,
		JobSpec:   details.JobSpec.Clone(),
		JobData:   details.JobSpec.JobData.Clone(),
	}

	run, err := s.runner.Start(s.jobCtx, execCtx)
	if err != nil {
		execution.Complete(s.clock(), false, err.Error())
		details.JobState = jobs.Completed
		s.metrics.JobExecutions.WithLabelValues("rejected").Inc()
		if saveErr := s.save(ctx, details); saveErr != nil {
			log.Error().
				Err(saveErr).
				Str("action", "job_rejected_save_error").
				Msg("Failed to record rejected job execution")
		}
		return errors.Wrapf(err, "failed to dispatch job %q", details.Name())
	}

	log.LogJobStart(details.Name(), timeBasis)
	s.metrics.RunningJobs.Inc()
	s.completions.Add(1)
	go s.complete(log, details, execCtx, run)
	return nil
}

// complete waits for run and persists the outcome. It owns details.
func (s *Scheduler) complete(log *logger.Logger, details *jobs.JobDetails, execCtx *jobs.ExecutionContext, run *jobs.Run) {
	defer s.completions.Done()

	succeeded, err := run.Wait()
	s.metrics.RunningJobs.Dec()

	status := "Succeeded"
	switch {
	case err != nil:
		status = err.Error()
	case !succeeded:
		status = "Failed"
	}

	execution := details.LastJobExecutionDetails
	execution.Complete(s.clock(), succeeded, status)
	details.JobState = jobs.Completed
	if succeeded {
		details.JobSpec.JobData = execCtx.JobData
	}

	duration := run.Duration()
	s.metrics.recordExecution(succeeded, duration.Seconds())
	log.LogJobComplete(details.Name(), duration, succeeded, status)

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	if err := s.save(ctx, details); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			s.metrics.ConcurrentModifications.Inc()
			log.Debug().
				Err(err).
				Str("action", "completion_discarded").
				Msg("Job changed while running, discarding its outcome")
			return
		}
		log.Error().
			Err(err).
			Bool("fatal", true).
			Str("action", "completion_save_error").
			Msg("Failed to persist completed job; its new state may be lost")
		return
	}
	log.LogStateTransition(details.Name(), jobs.Running.String(), jobs.Completed.String())
}

func (s *Scheduler) save(ctx context.Context, details *jobs.JobDetails) error {
	if err := s.store.SaveJobDetails(ctx, details); err != nil {
		return errors.Wrapf(err, "failed to save job %q", details.Name())
	}
	return nil
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
