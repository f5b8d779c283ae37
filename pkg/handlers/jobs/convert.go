package jobs

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/models/api"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

// errBadRequest marks request bodies that cannot be turned into a job.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errBadRequest)
}

func parseDuration(field, value string) (*time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, badRequest("%s: invalid duration %q", field, value)
	}
	return &d, nil
}

func parseMisfireAction(value string) (*trigger.Action, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	action, err := trigger.ParseAction(value)
	if err != nil {
		return nil, badRequest("misfire_action: unknown action %q", value)
	}
	return &action, nil
}

func buildTrigger(req api.TriggerRequest) (trigger.Trigger, error) {
	switch {
	case req.Periodic != nil && req.Cron != nil:
		return nil, badRequest("trigger: set either periodic or cron, not both")
	case req.Periodic != nil:
		return buildPeriodic(req.Periodic)
	case req.Cron != nil:
		return buildCron(req.Cron)
	default:
		return nil, badRequest("trigger: periodic or cron is required")
	}
}

func buildPeriodic(req *api.PeriodicTriggerRequest) (trigger.Trigger, error) {
	if req.StartTime.IsZero() {
		return nil, badRequest("trigger.periodic.start_time is required")
	}

	var opts []trigger.PeriodicOption
	period, err := parseDuration("trigger.periodic.period", req.Period)
	if err != nil {
		return nil, err
	}
	if period != nil {
		opts = append(opts, trigger.WithPeriod(*period))
	}
	threshold, err := parseDuration("trigger.periodic.misfire_threshold", req.MisfireThreshold)
	if err != nil {
		return nil, err
	}
	if threshold != nil {
		opts = append(opts, trigger.WithMisfireThreshold(*threshold))
	}
	action, err := parseMisfireAction(req.MisfireAction)
	if err != nil {
		return nil, err
	}
	if action != nil {
		opts = append(opts, trigger.WithMisfireAction(*action))
	}
	if req.EndTime != nil {
		opts = append(opts, trigger.WithEndTime(*req.EndTime))
	}
	if req.ExecutionCount != nil {
		opts = append(opts, trigger.WithExecutionCount(*req.ExecutionCount))
	}

	t, err := trigger.NewPeriodicTrigger(req.StartTime, opts...)
	if err != nil {
		return nil, errors.Mark(err, errBadRequest)
	}
	return t, nil
}

func buildCron(req *api.CronTriggerRequest) (trigger.Trigger, error) {
	var opts []trigger.CronOption
	threshold, err := parseDuration("trigger.cron.misfire_threshold", req.MisfireThreshold)
	if err != nil {
		return nil, err
	}
	if threshold != nil {
		opts = append(opts, trigger.WithCronMisfireThreshold(*threshold))
	}
	action, err := parseMisfireAction(req.MisfireAction)
	if err != nil {
		return nil, err
	}
	if action != nil {
		opts = append(opts, trigger.WithCronMisfireAction(*action))
	}
	if req.EndTime != nil {
		opts = append(opts, trigger.WithCronEndTime(*req.EndTime))
	}

	t, err := trigger.NewCronTrigger(req.Expression, opts...)
	if err != nil {
		return nil, errors.Mark(err, errBadRequest)
	}
	return t, nil
}

func buildSpec(req api.JobRequest) (jobs.JobSpec, error) {
	t, err := buildTrigger(req.Trigger)
	if err != nil {
		return jobs.JobSpec{}, err
	}

	spec := jobs.NewJobSpec(req.Name, req.JobKey, t)
	spec.Description = req.Description
	for k, v := range req.JobData {
		spec.JobData[k] = v
	}
	if err := spec.Validate(); err != nil {
		return jobs.JobSpec{}, errors.Mark(err, errBadRequest)
	}
	return spec, nil
}

func toJobResponse(details *jobs.JobDetails) api.JobResponse {
	spec := details.JobSpec
	resp := api.JobResponse{
		Name:         spec.Name,
		Description:  spec.Description,
		JobKey:       spec.JobKey,
		JobData:      spec.JobData,
		State:        details.JobState.String(),
		CreationTime: details.CreationTimeUtc,
		NextFireTime: details.NextTriggerFireTimeUtc,
	}
	if spec.Trigger != nil {
		resp.TriggerKind = spec.Trigger.Kind()
		resp.TriggerActive = spec.Trigger.IsActive()
	}
	if details.NextTriggerMisfireThreshold != nil {
		resp.MisfireThreshold = details.NextTriggerMisfireThreshold.String()
	}
	if last := details.LastJobExecutionDetails; last != nil {
		resp.LastExecution = &api.ExecutionResponse{
			SchedulerID:   last.SchedulerID.String(),
			StartTime:     last.StartTimeUtc,
			EndTime:       last.EndTimeUtc,
			Succeeded:     last.Succeeded,
			StatusMessage: last.StatusMessage,
		}
	}
	return resp
}
