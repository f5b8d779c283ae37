package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig holds configuration for the retry wrapper
type RetryConfig struct {
	MaxRetries int           // Maximum retry attempts after the first one
	BaseDelay  time.Duration // Delay before the first retry, doubled for each further retry
}

// DefaultRetryConfig returns sensible defaults for retried jobs
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// WithRetry wraps job so a failed execution is retried with exponential
// backoff. Only the final attempt's JobData changes are kept.
func WithRetry(job Job, config RetryConfig) Job {
	return &retryJob{job: job, config: config}
}

type retryJob struct {
	job    Job
	config RetryConfig
}

func (r *retryJob) Execute(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
	var (
		succeeded bool
		lastErr   error
	)
	original := execCtx.JobData.Clone()
	maxAttempts := r.config.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if execCtx.Logger != nil {
				execCtx.Logger.Warn().
					Int("attempt", attempt).
					Int("max_attempts", maxAttempts).
					Err(lastErr).
					Str("job_name", execCtx.JobSpec.Name).
					Str("action", "job_retry").
					Msg("Retrying job execution after failure")
			}

			select {
			case <-time.After(r.backoff(attempt)):
			case <-ctx.Done():
				return false, ctx.Err()
			}
			execCtx.JobData = original.Clone()
		}

		succeeded, lastErr = r.job.Execute(ctx, execCtx)
		if lastErr == nil && succeeded {
			return true, nil
		}

		if lastErr != nil && !shouldRetryError(lastErr) {
			break
		}
	}

	return false, lastErr
}

// backoff is the delay before the given attempt, starting at attempt 2
func (r *retryJob) backoff(attempt int) time.Duration {
	return r.config.BaseDelay * time.Duration(1<<uint(attempt-2))
}

// shouldRetryError determines if an error should trigger a retry
func shouldRetryError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
