package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/logger"
)

// Job is the unit of user code run by the scheduler
type Job interface {
	// Execute runs the job. It returns whether the execution succeeded; a
	// returned error always counts as a failure.
	Execute(ctx context.Context, execCtx *ExecutionContext) (bool, error)
}

// JobFunc adapts a function to the Job interface
type JobFunc func(ctx context.Context, execCtx *ExecutionContext) (bool, error)

func (f JobFunc) Execute(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
	return f(ctx, execCtx)
}

// SchedulerInfo identifies the scheduler running a job
type SchedulerInfo interface {
	ID() uuid.UUID
	Name() string
}

// ExecutionContext is what a job sees while it runs
type ExecutionContext struct {
	Scheduler SchedulerInfo
	Logger    *logger.Logger
	JobSpec   JobSpec
	// JobData is a private copy. Changes made by a successful execution are
	// persisted; changes made by a failed one are discarded.
	JobData JobData
}

// Factory resolves a job key to the code to execute
type Factory interface {
	GetJob(jobKey string) (Job, error)
}

// ErrJobNotRegistered is returned when no job is registered under a key
var ErrJobNotRegistered = errors.New("job not registered")

// DefaultFactory is a Factory backed by an in-memory registry
type DefaultFactory struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewFactory creates an empty factory
func NewFactory() *DefaultFactory {
	return &DefaultFactory{jobs: make(map[string]Job)}
}

// Register adds a job under jobKey
func (f *DefaultFactory) Register(jobKey string, job Job) error {
	if jobKey == "" {
		return errors.New("job key cannot be empty")
	}
	if job == nil {
		return errors.Newf("job %q cannot be nil", jobKey)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.jobs[jobKey]; exists {
		return errors.Newf("job %q is already registered", jobKey)
	}
	f.jobs[jobKey] = job
	return nil
}

// GetJob returns the job registered under jobKey
func (f *DefaultFactory) GetJob(jobKey string) (Job, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	job, ok := f.jobs[jobKey]
	if !ok {
		return nil, errors.Wrapf(ErrJobNotRegistered, "no job registered for key %q", jobKey)
	}
	return job, nil
}

// Keys returns the registered job keys in sorted order
func (f *DefaultFactory) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0, len(f.jobs))
	for key := range f.jobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
