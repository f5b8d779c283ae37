package trigger

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iddaa-lens/scheduler/pkg/json"
)

// KindPeriodic is the codec tag of PeriodicTrigger.
const KindPeriodic = "periodic"

// PeriodicTrigger fires at a fixed period from a start time, with an optional
// end time and an optional limit on the number of executions.
//
// Without a period the trigger is one-shot: it fires once at the start time,
// and if that chance is skipped it stops.
type PeriodicTrigger struct {
	startTimeUtc               time.Time
	endTimeUtc                 *time.Time
	period                     *time.Duration
	jobExecutionCountRemaining *int
	isFirstTime                bool
	misfireAction              Action
	misfireThreshold           *time.Duration
	nextFireTimeUtc            *time.Time
}

// PeriodicOption configures a PeriodicTrigger.
type PeriodicOption func(*PeriodicTrigger)

// WithEndTime stops the trigger once the next fire time would pass endTime.
func WithEndTime(endTime time.Time) PeriodicOption {
	return func(p *PeriodicTrigger) {
		p.endTimeUtc = utcPtr(&endTime)
	}
}

// WithPeriod makes the trigger recur every period.
func WithPeriod(period time.Duration) PeriodicOption {
	return func(p *PeriodicTrigger) {
		p.period = &period
	}
}

// WithExecutionCount limits how many more times the job may execute.
func WithExecutionCount(count int) PeriodicOption {
	return func(p *PeriodicTrigger) {
		p.jobExecutionCountRemaining = &count
	}
}

// WithMisfireAction sets what the trigger does on a misfire. Default Skip.
func WithMisfireAction(action Action) PeriodicOption {
	return func(p *PeriodicTrigger) {
		p.misfireAction = action
	}
}

// WithMisfireThreshold sets how late a fire may be before it is a misfire.
func WithMisfireThreshold(threshold time.Duration) PeriodicOption {
	return func(p *PeriodicTrigger) {
		p.misfireThreshold = &threshold
	}
}

// NewPeriodicTrigger creates a trigger that first fires at startTime.
func NewPeriodicTrigger(startTime time.Time, opts ...PeriodicOption) (*PeriodicTrigger, error) {
	p := newPeriodicTrigger(startTime)
	for _, opt := range opts {
		opt(p)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewOneShotTrigger creates a trigger that fires exactly once at startTime.
func NewOneShotTrigger(startTime time.Time) *PeriodicTrigger {
	p := newPeriodicTrigger(startTime)
	count := 1
	p.jobExecutionCountRemaining = &count
	return p
}

// NewDailyTrigger creates a trigger that fires every 24 hours from startTime.
func NewDailyTrigger(startTime time.Time) *PeriodicTrigger {
	p := newPeriodicTrigger(startTime)
	day := 24 * time.Hour
	p.period = &day
	return p
}

func newPeriodicTrigger(startTime time.Time) *PeriodicTrigger {
	return &PeriodicTrigger{
		startTimeUtc:  UTC(startTime),
		isFirstTime:   true,
		misfireAction: Skip,
	}
}

func (p *PeriodicTrigger) validate() error {
	if p.period != nil && *p.period <= 0 {
		return errors.Wrapf(ErrInvalidTrigger, "period must be positive, got %s", *p.period)
	}
	if p.jobExecutionCountRemaining != nil && *p.jobExecutionCountRemaining < 0 {
		return errors.Wrapf(ErrInvalidTrigger, "execution count must not be negative, got %d", *p.jobExecutionCountRemaining)
	}
	if p.misfireThreshold != nil && *p.misfireThreshold < 0 {
		return errors.Wrapf(ErrInvalidTrigger, "misfire threshold must not be negative, got %s", *p.misfireThreshold)
	}
	if !p.misfireAction.Valid() {
		return errors.Wrapf(ErrInvalidTrigger, "unknown misfire action %d", int(p.misfireAction))
	}
	return nil
}

func (p *PeriodicTrigger) Kind() string { return KindPeriodic }

func (p *PeriodicTrigger) StartTimeUtc() time.Time { return p.startTimeUtc }

func (p *PeriodicTrigger) EndTimeUtc() *time.Time { return utcPtr(p.endTimeUtc) }

func (p *PeriodicTrigger) Period() *time.Duration { return durationPtr(p.period) }

// JobExecutionCountRemaining is nil when executions are unlimited.
func (p *PeriodicTrigger) JobExecutionCountRemaining() *int { return intPtr(p.jobExecutionCountRemaining) }

// IsFirstTime is true until the trigger has been fired, misfired or stopped.
func (p *PeriodicTrigger) IsFirstTime() bool { return p.isFirstTime }

func (p *PeriodicTrigger) MisfireAction() Action { return p.misfireAction }

func (p *PeriodicTrigger) MisfireThreshold() *time.Duration { return durationPtr(p.misfireThreshold) }

func (p *PeriodicTrigger) NextFireTimeUtc() *time.Time { return utcPtr(p.nextFireTimeUtc) }

func (p *PeriodicTrigger) NextMisfireThreshold() *time.Duration { return durationPtr(p.misfireThreshold) }

// IsActive is true iff the remaining execution count is unset or positive.
func (p *PeriodicTrigger) IsActive() bool {
	return !p.budgetExhausted()
}

func (p *PeriodicTrigger) Clone() Trigger {
	return &PeriodicTrigger{
		startTimeUtc:               p.startTimeUtc,
		endTimeUtc:                 utcPtr(p.endTimeUtc),
		period:                     durationPtr(p.period),
		jobExecutionCountRemaining: intPtr(p.jobExecutionCountRemaining),
		isFirstTime:                p.isFirstTime,
		misfireAction:              p.misfireAction,
		misfireThreshold:           durationPtr(p.misfireThreshold),
		nextFireTimeUtc:            utcPtr(p.nextFireTimeUtc),
	}
}

func (p *PeriodicTrigger) Schedule(cond Condition, timeBasisUtc time.Time, _ *LastExecution) (Action, error) {
	timeBasisUtc = UTC(timeBasisUtc)

	switch cond {
	case Latch:
		return p.scheduleSuggestedAction(Skip, timeBasisUtc), nil
	case Fire:
		p.isFirstTime = false
		return p.scheduleSuggestedAction(ExecuteJob, timeBasisUtc), nil
	case Misfire:
		p.isFirstTime = false
		return p.scheduleSuggestedAction(p.misfireAction, timeBasisUtc), nil
	default:
		return Stop, errors.Wrapf(ErrUnknownCondition, "periodic trigger cannot handle %s", cond)
	}
}

// scheduleSuggestedAction resolves what action to actually take when the
// suggested one is applied at timeBasisUtc.
func (p *PeriodicTrigger) scheduleSuggestedAction(action Action, timeBasisUtc time.Time) Action {
	switch action {
	case DeleteJob:
		p.nextFireTimeUtc = nil
		return DeleteJob

	case ExecuteJob:
		if !p.canExecute(timeBasisUtc) {
			return p.scheduleSuggestedAction(Skip, timeBasisUtc)
		}
		p.nextFireTimeUtc = nil
		if p.jobExecutionCountRemaining != nil {
			remaining := *p.jobExecutionCountRemaining - 1
			p.jobExecutionCountRemaining = &remaining
		}
		return ExecuteJob

	case Skip:
		if p.budgetExhausted() {
			break
		}

		if p.isFirstTime || timeBasisUtc.Before(p.startTimeUtc) {
			start := p.startTimeUtc
			p.nextFireTimeUtc = &start
			return Skip
		}

		// A one-shot trigger that is being skipped has lost its only chance to fire.
		if p.period == nil {
			break
		}

		next := p.nextPeriodBoundary(timeBasisUtc)
		if p.endTimeUtc != nil && next.After(*p.endTimeUtc) {
			break
		}
		p.nextFireTimeUtc = &next
		return Skip
	}

	p.stop()
	return Stop
}

// nextPeriodBoundary is the first period boundary strictly after timeBasisUtc.
func (p *PeriodicTrigger) nextPeriodBoundary(timeBasisUtc time.Time) time.Time {
	period := *p.period
	sinceLastPeriod := timeBasisUtc.Sub(p.startTimeUtc) % period
	return timeBasisUtc.Add(period - sinceLastPeriod)
}

func (p *PeriodicTrigger) canExecute(timeBasisUtc time.Time) bool {
	if p.budgetExhausted() {
		return false
	}
	if p.endTimeUtc != nil && timeBasisUtc.After(*p.endTimeUtc) {
		return false
	}
	return !timeBasisUtc.Before(p.startTimeUtc)
}

func (p *PeriodicTrigger) budgetExhausted() bool {
	return p.jobExecutionCountRemaining != nil && *p.jobExecutionCountRemaining <= 0
}

func (p *PeriodicTrigger) stop() {
	zero := 0
	p.nextFireTimeUtc = nil
	p.jobExecutionCountRemaining = &zero
	p.isFirstTime = false
}

type periodicState struct {
	StartTimeUtc               time.Time      `json:"start_time_utc"`
	EndTimeUtc                 *time.Time     `json:"end_time_utc,omitempty"`
	Period                     *time.Duration `json:"period,omitempty"`
	JobExecutionCountRemaining *int           `json:"job_execution_count_remaining,omitempty"`
	IsFirstTime                bool           `json:"is_first_time"`
	MisfireAction              Action         `json:"misfire_action"`
	MisfireThreshold           *time.Duration `json:"misfire_threshold,omitempty"`
	NextFireTimeUtc            *time.Time     `json:"next_fire_time_utc,omitempty"`
}

func (p *PeriodicTrigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodicState{
		StartTimeUtc:               p.startTimeUtc,
		EndTimeUtc:                 p.endTimeUtc,
		Period:                     p.period,
		JobExecutionCountRemaining: p.jobExecutionCountRemaining,
		IsFirstTime:                p.isFirstTime,
		MisfireAction:              p.misfireAction,
		MisfireThreshold:           p.misfireThreshold,
		NextFireTimeUtc:            p.nextFireTimeUtc,
	})
}

func (p *PeriodicTrigger) UnmarshalJSON(data []byte) error {
	var state periodicState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "failed to decode periodic trigger")
	}
	*p = PeriodicTrigger{
		startTimeUtc:               UTC(state.StartTimeUtc),
		endTimeUtc:                 utcPtr(state.EndTimeUtc),
		period:                     state.Period,
		jobExecutionCountRemaining: state.JobExecutionCountRemaining,
		isFirstTime:                state.IsFirstTime,
		misfireAction:              state.MisfireAction,
		misfireThreshold:           state.MisfireThreshold,
		nextFireTimeUtc:            utcPtr(state.NextFireTimeUtc),
	}
	return p.validate()
}
