package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

// fakeStore hands out jobs pushed by the test and records what the scheduler saves.
type fakeStore struct {
	queue chan *jobs.JobDetails
	// repeat, when set, is returned by every watcher poll instead of the queue.
	repeat *jobs.JobDetails

	saveErr   func(details *jobs.JobDetails) error
	deleteErr error

	polls atomic.Int32

	mu           sync.Mutex
	saves        []*jobs.JobDetails
	deleted      []string
	registered   []uuid.UUID
	unregistered []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{queue: make(chan *jobs.JobDetails, 16)}
}

func (f *fakeStore) push(details *jobs.JobDetails) {
	f.queue <- details
}

func (f *fakeStore) savedJobs() []*jobs.JobDetails {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*jobs.JobDetails, len(f.saves))
	copy(out, f.saves)
	return out
}

func (f *fakeStore) RegisterScheduler(ctx context.Context, id uuid.UUID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, id)
	return nil
}

func (f *fakeStore) UnregisterScheduler(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, id)
	return nil
}

func (f *fakeStore) CreateWatcher(id uuid.UUID) scheduler.JobWatcher {
	return &fakeWatcher{store: f, disposed: make(chan struct{})}
}

func (f *fakeStore) GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error) {
	return nil, scheduler.ErrJobNotFound
}

func (f *fakeStore) CreateJob(ctx context.Context, spec jobs.JobSpec, creationTimeUtc time.Time, conflict scheduler.ConflictAction) (bool, error) {
	return true, nil
}

func (f *fakeStore) UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error {
	return nil
}

func (f *fakeStore) DeleteJob(ctx context.Context, name string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return true, nil
}

func (f *fakeStore) ListJobNames(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) SaveJobDetails(ctx context.Context, details *jobs.JobDetails) error {
	if f.saveErr != nil {
		if err := f.saveErr(details); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	details.Version++
	f.saves = append(f.saves, details.Clone())
	return nil
}

type fakeWatcher struct {
	store    *fakeStore
	once     sync.Once
	disposed chan struct{}
}

func (w *fakeWatcher) NextJobToProcess(ctx context.Context) (*jobs.JobDetails, error) {
	w.store.polls.Add(1)

	if w.store.repeat != nil {
		select {
		case <-w.disposed:
			return nil, scheduler.ErrWatcherDisposed
		case <-time.After(time.Millisecond):
			return w.store.repeat.Clone(), nil
		}
	}

	select {
	case details := <-w.store.queue:
		return details, nil
	case <-w.disposed:
		return nil, scheduler.ErrWatcherDisposed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *fakeWatcher) Dispose() {
	w.once.Do(func() { close(w.disposed) })
}

// scriptedTrigger returns a fixed action and records the conditions it saw.
type scriptedTrigger struct {
	action trigger.Action
	err    error
	panics string
	next   *time.Time
	record *conditionRecorder
}

type conditionRecorder struct {
	mu         sync.Mutex
	conditions []trigger.Condition
	outcomes   []*trigger.LastExecution
}

func (r *conditionRecorder) seen() []trigger.Condition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trigger.Condition(nil), r.conditions...)
}

func (r *conditionRecorder) lastOutcome() *trigger.LastExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return nil
	}
	return r.outcomes[len(r.outcomes)-1]
}

func (s *scriptedTrigger) Schedule(cond trigger.Condition, timeBasisUtc time.Time, last *trigger.LastExecution) (trigger.Action, error) {
	if s.record != nil {
		s.record.mu.Lock()
		s.record.conditions = append(s.record.conditions, cond)
		s.record.outcomes = append(s.record.outcomes, last)
		s.record.mu.Unlock()
	}
	if s.panics != "" {
		panic(s.panics)
	}
	return s.action, s.err
}

func (s *scriptedTrigger) NextFireTimeUtc() *time.Time { return s.next }

func (s *scriptedTrigger) NextMisfireThreshold() *time.Duration { return nil }

func (s *scriptedTrigger) IsActive() bool { return s.action != trigger.Stop }

func (s *scriptedTrigger) Clone() trigger.Trigger {
	clone := *s
	return &clone
}

func (s *scriptedTrigger) Kind() string { return "scripted" }
