package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutionContext(jobKey string) *ExecutionContext {
	return &ExecutionContext{
		JobSpec: JobSpec{Name: "job-" + jobKey, JobKey: jobKey},
		JobData: JobData{},
	}
}

func TestRunner_ReportsOutcome(t *testing.T) {
	factory := NewFactory()
	require.NoError(t, factory.Register("ok", noopJob()))
	require.NoError(t, factory.Register("unsuccessful", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		return false, nil
	})))
	require.NoError(t, factory.Register("error", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		return true, errors.New("boom")
	})))
	require.NoError(t, factory.Register("panic", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		panic("kaboom")
	})))

	tests := []struct {
		key           string
		wantSucceeded bool
		wantErr       string
	}{
		{key: "ok", wantSucceeded: true},
		{key: "unsuccessful", wantSucceeded: false},
		{key: "error", wantSucceeded: false, wantErr: "boom"},
		{key: "panic", wantSucceeded: false, wantErr: "kaboom"},
	}

	runner := NewRunner(factory, 0)
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			run, err := runner.Start(context.Background(), newExecutionContext(tt.key))
			require.NoError(t, err)

			succeeded, err := run.Wait()
			assert.Equal(t, tt.wantSucceeded, succeeded)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunner_ResolutionErrorIsSynchronous(t *testing.T) {
	runner := NewRunner(NewFactory(), 0)

	run, err := runner.Start(context.Background(), newExecutionContext("missing"))

	assert.Nil(t, run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobResolution))
	assert.True(t, errors.Is(err, ErrJobNotRegistered))
}

func TestRunner_JobSeesItsData(t *testing.T) {
	factory := NewFactory()
	require.NoError(t, factory.Register("counter", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		n, _ := execCtx.JobData.GetInt("count")
		execCtx.JobData["count"] = n + 1
		return true, nil
	})))

	execCtx := newExecutionContext("counter")
	execCtx.JobData["count"] = 4

	run, err := NewRunner(factory, 0).Start(context.Background(), execCtx)
	require.NoError(t, err)
	_, err = run.Wait()
	require.NoError(t, err)

	assert.Equal(t, 5, execCtx.JobData["count"])
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})

	factory := NewFactory()
	require.NoError(t, factory.Register("slow", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		current := running.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		<-release
		running.Add(-1)
		return true, nil
	})))

	runner := NewRunner(factory, 2)
	runs := make([]*Run, 5)
	for i := range runs {
		run, err := runner.Start(context.Background(), newExecutionContext("slow"))
		require.NoError(t, err)
		runs[i] = run
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	runner.Wait()

	for _, run := range runs {
		select {
		case <-run.Done():
		default:
			t.Fatal("run not finished after Runner.Wait")
		}
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunner_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	factory := NewFactory()
	require.NoError(t, factory.Register("block", JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		<-release
		return true, nil
	})))

	runner := NewRunner(factory, 1)
	_, err := runner.Start(context.Background(), newExecutionContext("block"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	queued, err := runner.Start(ctx, newExecutionContext("block"))
	require.NoError(t, err)
	cancel()

	succeeded, err := queued.Wait()
	assert.False(t, succeeded)
	assert.True(t, errors.Is(err, context.Canceled))
}
