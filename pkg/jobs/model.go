package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

// JobState is the lifecycle state of a job as seen by the scheduler.
type JobState int

const (
	// Pending jobs are waiting for their trigger to be latched.
	Pending JobState = iota
	// Scheduled jobs have a next fire time and wait for it to arrive.
	Scheduled
	// Triggered jobs are due and have been handed to a scheduler.
	Triggered
	// Running jobs are executing on the scheduler that owns them.
	Running
	// Completed jobs finished executing and need their trigger re-latched.
	Completed
	// Stopped jobs have an inactive trigger and never run again.
	Stopped
	// Orphaned jobs were running on a scheduler that went away.
	Orphaned
)

var stateNames = map[JobState]string{
	Pending:   "Pending",
	Scheduled: "Scheduled",
	Triggered: "Triggered",
	Running:   "Running",
	Completed: "Completed",
	Stopped:   "Stopped",
	Orphaned:  "Orphaned",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobState) UnmarshalText(text []byte) error {
	parsed, err := ParseJobState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseJobState parses a state name such as "Scheduled", case-insensitively.
func ParseJobState(s string) (JobState, error) {
	for state, name := range stateNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return state, nil
		}
	}
	return Pending, errors.Newf("unknown job state %q", s)
}

// JobData is the free-form state a job carries between executions.
type JobData map[string]any

// Clone returns a deep copy of d. Nested maps and slices are copied; other
// values are copied by assignment.
func (d JobData) Clone() JobData {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = cloneValue(item)
		}
		return out
	case JobData:
		return JobData(cloneValue(map[string]any(value)).(map[string]any))
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

// GetInt reads key as an integer. Numbers decoded from JSON arrive as float64,
// so both representations are accepted.
func (d JobData) GetInt(key string) (int, bool) {
	switch n := d[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GetString reads key as a string.
func (d JobData) GetString(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// JobSpec is what a client supplies to create or update a job.
type JobSpec struct {
	Name        string
	Description string
	// JobKey is resolved through a Factory to find the code to execute.
	JobKey  string
	Trigger trigger.Trigger
	JobData JobData
}

// NewJobSpec returns a spec for the job registered under jobKey.
func NewJobSpec(name, jobKey string, t trigger.Trigger) JobSpec {
	return JobSpec{
		Name:    name,
		JobKey:  jobKey,
		Trigger: t,
		JobData: JobData{},
	}
}

// Validate checks the fields the scheduler needs to manage the job.
func (s *JobSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("job name must not be empty")
	}
	if strings.TrimSpace(s.JobKey) == "" {
		return errors.Newf("job %q has no job key", s.Name)
	}
	if s.Trigger == nil {
		return errors.Newf("job %q has no trigger", s.Name)
	}
	return nil
}

// Clone returns a deep copy, including the trigger and job data.
func (s JobSpec) Clone() JobSpec {
	clone := s
	if s.Trigger != nil {
		clone.Trigger = s.Trigger.Clone()
	}
	clone.JobData = s.JobData.Clone()
	return clone
}

// JobExecutionDetails describes one execution of a job.
type JobExecutionDetails struct {
	SchedulerID   uuid.UUID
	StartTimeUtc  time.Time
	EndTimeUtc    *time.Time
	Succeeded     bool
	StatusMessage string
}

// NewJobExecutionDetails records an execution starting at startTimeUtc.
func NewJobExecutionDetails(schedulerID uuid.UUID, startTimeUtc time.Time) *JobExecutionDetails {
	return &JobExecutionDetails{
		SchedulerID:   schedulerID,
		StartTimeUtc:  trigger.UTC(startTimeUtc),
		StatusMessage: "Unknown",
	}
}

// Complete marks the execution as finished at endTimeUtc.
func (e *JobExecutionDetails) Complete(endTimeUtc time.Time, succeeded bool, status string) {
	end := trigger.UTC(endTimeUtc)
	e.EndTimeUtc = &end
	e.Succeeded = succeeded
	e.StatusMessage = status
}

func (e *JobExecutionDetails) Clone() *JobExecutionDetails {
	if e == nil {
		return nil
	}
	clone := *e
	if e.EndTimeUtc != nil {
		end := *e.EndTimeUtc
		clone.EndTimeUtc = &end
	}
	return &clone
}

// Outcome is the view of this execution handed to triggers.
func (e *JobExecutionDetails) Outcome() *trigger.LastExecution {
	if e == nil {
		return nil
	}
	outcome := &trigger.LastExecution{Succeeded: e.Succeeded}
	if e.EndTimeUtc != nil {
		end := *e.EndTimeUtc
		outcome.EndTimeUtc = &end
	}
	return outcome
}

// JobDetails is the persistent record of a job.
type JobDetails struct {
	JobSpec                     JobSpec
	CreationTimeUtc             time.Time
	JobState                    JobState
	NextTriggerFireTimeUtc      *time.Time
	NextTriggerMisfireThreshold *time.Duration
	LastJobExecutionDetails     *JobExecutionDetails
	// Version is the optimistic concurrency token. Stores bump it on every
	// save and reject saves made against a stale version.
	Version int64
}

// NewJobDetails creates a Pending record for spec.
func NewJobDetails(spec JobSpec, creationTimeUtc time.Time) *JobDetails {
	return &JobDetails{
		JobSpec:         spec,
		CreationTimeUtc: trigger.UTC(creationTimeUtc),
		JobState:        Pending,
	}
}

// Name is shorthand for JobSpec.Name.
func (d *JobDetails) Name() string { return d.JobSpec.Name }

// Clone returns a deep copy that shares nothing mutable with d.
func (d *JobDetails) Clone() *JobDetails {
	if d == nil {
		return nil
	}
	clone := *d
	clone.JobSpec = d.JobSpec.Clone()
	if d.NextTriggerFireTimeUtc != nil {
		next := *d.NextTriggerFireTimeUtc
		clone.NextTriggerFireTimeUtc = &next
	}
	if d.NextTriggerMisfireThreshold != nil {
		threshold := *d.NextTriggerMisfireThreshold
		clone.NextTriggerMisfireThreshold = &threshold
	}
	clone.LastJobExecutionDetails = d.LastJobExecutionDetails.Clone()
	return &clone
}

// SyncTrigger copies the trigger's next fire time and misfire threshold onto
// the record so stores can query them.
func (d *JobDetails) SyncTrigger() {
	d.NextTriggerFireTimeUtc = nil
	d.NextTriggerMisfireThreshold = nil
	if d.JobSpec.Trigger == nil {
		return
	}
	d.NextTriggerFireTimeUtc = d.JobSpec.Trigger.NextFireTimeUtc()
	d.NextTriggerMisfireThreshold = d.JobSpec.Trigger.NextMisfireThreshold()
}
