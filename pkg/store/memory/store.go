// Package memory is an in-process job store. It is suitable for a single
// process running one or more schedulers, and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

// Store keeps jobs in memory. Every record is stored and returned as a deep
// copy, so callers never share state with the store.
type Store struct {
	clock  func() time.Time
	logger *logger.Logger

	mu         sync.Mutex
	jobs       map[string]*jobs.JobDetails
	schedulers map[uuid.UUID]string
	// changed is closed and replaced whenever a job changes.
	changed chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to decide when scheduled jobs are due.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Store) {
		s.logger = log
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:      time.Now,
		jobs:       make(map[string]*jobs.JobDetails),
		schedulers: make(map[uuid.UUID]string),
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.New("memory-store")
	}
	return s
}

var _ scheduler.JobStore = (*Store)(nil)

func (s *Store) RegisterScheduler(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedulers[id] = name
	return nil
}

// UnregisterScheduler forgets the scheduler and orphans the jobs it was running.
func (s *Store) UnregisterScheduler(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.schedulers, id)

	orphaned := 0
	for _, details := range s.jobs {
		if details.JobState != jobs.Running || details.LastJobExecutionDetails == nil {
			continue
		}
		if details.LastJobExecutionDetails.SchedulerID != id {
			continue
		}
		details.JobState = jobs.Orphaned
		details.Version++
		orphaned++
	}

	if orphaned > 0 {
		s.logger.Warn().
			Str("scheduler_id", id.String()).
			Int("orphaned_jobs", orphaned).
			Str("action", "jobs_orphaned").
			Msg("Scheduler left running jobs behind")
		s.notifyLocked()
	}
	return nil
}

func (s *Store) CreateWatcher(id uuid.UUID) scheduler.JobWatcher {
	return &watcher{
		store:    s,
		id:       id,
		disposed: make(chan struct{}),
	}
}

func (s *Store) GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, ok := s.jobs[name]
	if !ok {
		return nil, errors.Wrapf(scheduler.ErrJobNotFound, "job %q", name)
	}
	return details.Clone(), nil
}

func (s *Store) CreateJob(ctx context.Context, spec jobs.JobSpec, creationTimeUtc time.Time, conflict scheduler.ConflictAction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[spec.Name]; ok {
		switch conflict {
		case scheduler.ConflictIgnore:
			return false, nil
		case scheduler.ConflictUpdate:
			s.resetLocked(existing, spec)
			return true, nil
		case scheduler.ConflictReplace:
			// The replacement continues the version sequence so saves made
			// against the old record are rejected.
			details := jobs.NewJobDetails(spec.Clone(), creationTimeUtc)
			details.Version = existing.Version + 1
			s.jobs[spec.Name] = details
			s.notifyLocked()
			return true, nil
		default:
			return false, errors.Wrapf(scheduler.ErrJobAlreadyExists, "job %q", spec.Name)
		}
	}

	details := jobs.NewJobDetails(spec.Clone(), creationTimeUtc)
	details.Version = 1
	s.jobs[spec.Name] = details
	s.notifyLocked()
	return true, nil
}

func (s *Store) UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[name]
	if !ok {
		return errors.Wrapf(scheduler.ErrJobNotFound, "job %q", name)
	}
	s.resetLocked(existing, spec)
	return nil
}

// resetLocked replaces the spec of details and sends it back to Pending.
func (s *Store) resetLocked(details *jobs.JobDetails, spec jobs.JobSpec) {
	spec = spec.Clone()
	spec.Name = details.Name()

	details.JobSpec = spec
	details.JobState = jobs.Pending
	details.NextTriggerFireTimeUtc = nil
	details.NextTriggerMisfireThreshold = nil
	details.Version++
	s.notifyLocked()
}

func (s *Store) DeleteJob(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return false, nil
	}
	delete(s.jobs, name)
	s.notifyLocked()
	return true, nil
}

func (s *Store) ListJobNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedNamesLocked(), nil
}

func (s *Store) SaveJobDetails(ctx context.Context, details *jobs.JobDetails) error {
	if details == nil {
		return errors.Mark(errors.New("job details cannot be nil"), scheduler.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[details.Name()]
	if !ok {
		return errors.Wrapf(scheduler.ErrConcurrentModification, "job %q was deleted", details.Name())
	}
	if existing.Version != details.Version {
		return errors.Wrapf(scheduler.ErrConcurrentModification,
			"job %q is at version %d, save was made against version %d", details.Name(), existing.Version, details.Version)
	}

	details.Version++
	s.jobs[details.Name()] = details.Clone()
	s.notifyLocked()
	return nil
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) sortedNamesLocked() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nextJobLocked returns a job needing attention, claiming due scheduled jobs
// by marking them Triggered. Otherwise it returns how long until the earliest
// scheduled job is due, or zero when nothing is scheduled.
func (s *Store) nextJobLocked() (*jobs.JobDetails, time.Duration) {
	now := trigger.UTC(s.clock())
	var earliest *time.Time

	for _, name := range s.sortedNamesLocked() {
		details := s.jobs[name]
		switch details.JobState {
		case jobs.Pending, jobs.Completed, jobs.Orphaned:
			return details.Clone(), 0

		case jobs.Scheduled:
			next := details.NextTriggerFireTimeUtc
			if next == nil || !next.After(now) {
				details.JobState = jobs.Triggered
				details.Version++
				return details.Clone(), 0
			}
			if earliest == nil || next.Before(*earliest) {
				earliest = next
			}
		}
	}

	if earliest == nil {
		return nil, 0
	}
	return nil, earliest.Sub(now)
}

type watcher struct {
	store    *Store
	id       uuid.UUID
	once     sync.Once
	disposed chan struct{}
}

func (w *watcher) NextJobToProcess(ctx context.Context) (*jobs.JobDetails, error) {
	for {
		select {
		case <-w.disposed:
			return nil, scheduler.ErrWatcherDisposed
		default:
		}

		w.store.mu.Lock()
		details, wait := w.store.nextJobLocked()
		changed := w.store.changed
		w.store.mu.Unlock()

		if details != nil {
			return details, nil
		}

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-timerC:
		case <-changed:
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()
		case <-w.disposed:
			stopTimer(timer)
			return nil, scheduler.ErrWatcherDisposed
		}
		stopTimer(timer)
	}
}

func (w *watcher) Dispose() {
	w.once.Do(func() { close(w.disposed) })
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
