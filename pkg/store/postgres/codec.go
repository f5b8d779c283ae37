package postgres

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/json"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

const jobColumns = `name, description, job_key, trigger_state, job_data, creation_time_utc, job_state,
	next_fire_time_utc, next_misfire_threshold_us, last_execution, owner_scheduler_id, version`

// jobRow is a JobDetails in its column representation.
type jobRow struct {
	Name                   string
	Description            string
	JobKey                 string
	Trigger                string
	JobData                string
	CreationTimeUtc        time.Time
	JobState               string
	NextFireTimeUtc        *time.Time
	NextMisfireThresholdUs *int64
	LastExecution          *string
	OwnerSchedulerID       *string
	Version                int64
}

// args returns the row's values in jobColumns order.
func (r *jobRow) args() []interface{} {
	return []interface{}{
		r.Name, r.Description, r.JobKey, r.Trigger, r.JobData, r.CreationTimeUtc, r.JobState,
		r.NextFireTimeUtc, r.NextMisfireThresholdUs, r.LastExecution, r.OwnerSchedulerID, r.Version,
	}
}

// targets returns scan destinations in jobColumns order.
func (r *jobRow) targets() []interface{} {
	return []interface{}{
		&r.Name, &r.Description, &r.JobKey, &r.Trigger, &r.JobData, &r.CreationTimeUtc, &r.JobState,
		&r.NextFireTimeUtc, &r.NextMisfireThresholdUs, &r.LastExecution, &r.OwnerSchedulerID, &r.Version,
	}
}

type executionRecord struct {
	SchedulerID   uuid.UUID  `json:"scheduler_id"`
	StartTimeUtc  time.Time  `json:"start_time_utc"`
	EndTimeUtc    *time.Time `json:"end_time_utc,omitempty"`
	Succeeded     bool       `json:"succeeded"`
	StatusMessage string     `json:"status_message"`
}

func encodeJob(details *jobs.JobDetails) (*jobRow, error) {
	spec := details.JobSpec

	triggerState, err := trigger.Marshal(spec.Trigger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode trigger of job %q", spec.Name)
	}

	data := spec.JobData
	if data == nil {
		data = jobs.JobData{}
	}
	jobData, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode data of job %q", spec.Name)
	}

	row := &jobRow{
		Name:            spec.Name,
		Description:     spec.Description,
		JobKey:          spec.JobKey,
		Trigger:         string(triggerState),
		JobData:         string(jobData),
		CreationTimeUtc: trigger.UTC(details.CreationTimeUtc),
		JobState:        details.JobState.String(),
		Version:         details.Version,
	}

	if details.NextTriggerFireTimeUtc != nil {
		next := trigger.UTC(*details.NextTriggerFireTimeUtc)
		row.NextFireTimeUtc = &next
	}
	if details.NextTriggerMisfireThreshold != nil {
		us := details.NextTriggerMisfireThreshold.Microseconds()
		row.NextMisfireThresholdUs = &us
	}

	if last := details.LastJobExecutionDetails; last != nil {
		encoded, err := json.Marshal(executionRecord{
			SchedulerID:   last.SchedulerID,
			StartTimeUtc:  last.StartTimeUtc,
			EndTimeUtc:    last.EndTimeUtc,
			Succeeded:     last.Succeeded,
			StatusMessage: last.StatusMessage,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode last execution of job %q", spec.Name)
		}
		text := string(encoded)
		row.LastExecution = &text

		if details.JobState == jobs.Running {
			owner := last.SchedulerID.String()
			row.OwnerSchedulerID = &owner
		}
	}

	return row, nil
}

func decodeJob(row *jobRow) (*jobs.JobDetails, error) {
	t, err := trigger.Unmarshal([]byte(row.Trigger))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode trigger of job %q", row.Name)
	}

	var data jobs.JobData
	if err := json.Unmarshal([]byte(row.JobData), &data); err != nil {
		return nil, errors.Wrapf(err, "failed to decode data of job %q", row.Name)
	}
	if data == nil {
		data = jobs.JobData{}
	}

	state, err := jobs.ParseJobState(row.JobState)
	if err != nil {
		return nil, errors.Wrapf(err, "job %q", row.Name)
	}

	details := &jobs.JobDetails{
		JobSpec: jobs.JobSpec{
			Name:        row.Name,
			Description: row.Description,
			JobKey:      row.JobKey,
			Trigger:     t,
			JobData:     data,
		},
		CreationTimeUtc: trigger.UTC(row.CreationTimeUtc),
		JobState:        state,
		Version:         row.Version,
	}

	if row.NextFireTimeUtc != nil {
		next := trigger.UTC(*row.NextFireTimeUtc)
		details.NextTriggerFireTimeUtc = &next
	}
	if row.NextMisfireThresholdUs != nil {
		threshold := time.Duration(*row.NextMisfireThresholdUs) * time.Microsecond
		details.NextTriggerMisfireThreshold = &threshold
	}

	if row.LastExecution != nil {
		var record executionRecord
		if err := json.Unmarshal([]byte(*row.LastExecution), &record); err != nil {
			return nil, errors.Wrapf(err, "failed to decode last execution of job %q", row.Name)
		}
		last := &jobs.JobExecutionDetails{
			SchedulerID:   record.SchedulerID,
			StartTimeUtc:  trigger.UTC(record.StartTimeUtc),
			Succeeded:     record.Succeeded,
			StatusMessage: record.StatusMessage,
		}
		if record.EndTimeUtc != nil {
			end := trigger.UTC(*record.EndTimeUtc)
			last.EndTimeUtc = &end
		}
		details.LastJobExecutionDetails = last
	}

	return details, nil
}

// undecodableJobError is a row that was read but does not decode into a job,
// for example a trigger kind this binary does not know.
type undecodableJobError struct {
	name    string
	version int64
	cause   error
}

func (e *undecodableJobError) Error() string { return e.cause.Error() }

func (e *undecodableJobError) Unwrap() error { return e.cause }

func scanJob(row pgx.Row) (*jobs.JobDetails, error) {
	var r jobRow
	if err := row.Scan(r.targets()...); err != nil {
		return nil, err
	}
	details, err := decodeJob(&r)
	if err != nil {
		return nil, &undecodableJobError{name: r.Name, version: r.Version, cause: err}
	}
	return details, nil
}
