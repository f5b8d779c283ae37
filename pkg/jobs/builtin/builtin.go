// Package builtin provides the jobs every scheduler node registers: "log",
// which records its job data, and "counter", which keeps a run count in its
// job data across executions.
package builtin

import (
	"context"
	"time"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
)

const (
	LogJobKey     = "log"
	CounterJobKey = "counter"

	// CountKey is the job data entry maintained by the counter job.
	CountKey = "count"
)

// Register adds the built-in jobs to factory. The counter job retries with
// retry.
func Register(factory *jobs.DefaultFactory, retry jobs.RetryConfig) error {
	if err := factory.Register(LogJobKey, jobs.JobFunc(logJob)); err != nil {
		return err
	}
	return factory.Register(CounterJobKey, jobs.WithRetry(jobs.JobFunc(counterJob), retry))
}

func logJob(ctx context.Context, execCtx *jobs.ExecutionContext) (bool, error) {
	event := execCtx.Logger.Info().
		Str("action", "log_job").
		Str("scheduler_name", execCtx.Scheduler.Name()).
		Time("time_utc", time.Now().UTC())
	for key, value := range execCtx.JobData {
		event = event.Interface(key, value)
	}
	event.Msg(execCtx.JobSpec.Description)
	return true, nil
}

func counterJob(ctx context.Context, execCtx *jobs.ExecutionContext) (bool, error) {
	count, _ := execCtx.JobData.GetInt(CountKey)
	count++
	execCtx.JobData[CountKey] = count

	execCtx.Logger.Info().
		Int("count", count).
		Str("action", "counter_job").
		Msg("Counter job ran")
	return true, nil
}
