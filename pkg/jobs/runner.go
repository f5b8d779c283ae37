package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
)

// ErrJobResolution marks errors raised while resolving a job key to a Job.
var ErrJobResolution = errors.New("job resolution failed")

// Runner executes jobs asynchronously, optionally bounding how many run at once.
type Runner struct {
	factory Factory
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewRunner creates a runner resolving jobs through factory. A maxConcurrent
// of zero or less means no limit.
func NewRunner(factory Factory, maxConcurrent int64) *Runner {
	r := &Runner{factory: factory}
	if maxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return r
}

// Run is a handle on one asynchronous execution.
type Run struct {
	done      chan struct{}
	succeeded bool
	err       error
	started   time.Time
	finished  time.Time
}

// Done is closed when the execution has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the execution finishes and returns its outcome.
func (r *Run) Wait() (bool, error) {
	<-r.done
	return r.succeeded, r.err
}

// Duration is how long the job ran. It is only meaningful after Done.
func (r *Run) Duration() time.Duration {
	<-r.done
	if r.started.IsZero() {
		return 0
	}
	return r.finished.Sub(r.started)
}

// Start resolves the job for execCtx and runs it on a new goroutine. Errors
// resolving the job are returned synchronously and marked ErrJobResolution.
func (r *Runner) Start(ctx context.Context, execCtx *ExecutionContext) (*Run, error) {
	if execCtx == nil {
		return nil, errors.New("execution context cannot be nil")
	}

	jobKey := execCtx.JobSpec.JobKey
	job, err := r.factory.GetJob(jobKey)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to resolve job %q", execCtx.JobSpec.Name), ErrJobResolution)
	}
	if job == nil {
		return nil, errors.Mark(errors.Newf("factory returned no job for key %q", jobKey), ErrJobResolution)
	}

	run := &Run{done: make(chan struct{})}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(run.done)

		if r.sem != nil {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				run.err = errors.Wrap(err, "gave up waiting for an execution slot")
				return
			}
			defer r.sem.Release(1)
		}

		run.started = time.Now()
		run.succeeded, run.err = execute(ctx, job, execCtx)
		run.finished = time.Now()
		if run.err != nil {
			run.succeeded = false
		}
	}()

	return run, nil
}

// Wait blocks until every started execution has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func execute(ctx context.Context, job Job, execCtx *ExecutionContext) (succeeded bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			succeeded = false
			err = errors.Newf("job panicked: %v", p)
		}
	}()
	return job.Execute(ctx, execCtx)
}
