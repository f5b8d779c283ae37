package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	job := WithRetry(JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		attempts++
		execCtx.JobData["attempt"] = attempts
		if attempts < 3 {
			return false, errors.New("flaky")
		}
		return true, nil
	}), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond})

	execCtx := newExecutionContext("flaky")
	succeeded, err := job.Execute(context.Background(), execCtx)

	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, execCtx.JobData["attempt"])
}

func TestWithRetry_GivesUp(t *testing.T) {
	attempts := 0
	job := WithRetry(JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		attempts++
		return false, nil
	}), RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond})

	succeeded, err := job.Execute(context.Background(), newExecutionContext("never"))

	assert.NoError(t, err)
	assert.False(t, succeeded)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_DoesNotRetryCancellation(t *testing.T) {
	attempts := 0
	job := WithRetry(JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		attempts++
		return false, errors.Wrap(context.Canceled, "stopped")
	}), RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond})

	_, err := job.Execute(context.Background(), newExecutionContext("cancel"))

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_Backoff(t *testing.T) {
	r := &retryJob{config: RetryConfig{BaseDelay: time.Second}}

	assert.Equal(t, time.Second, r.backoff(2))
	assert.Equal(t, 2*time.Second, r.backoff(3))
	assert.Equal(t, 4*time.Second, r.backoff(4))
}
