package trigger

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/scheduler/pkg/json"
)

// KindCron is the codec tag of CronTrigger.
const KindCron = "cron"

// CronTrigger fires on the times described by a standard cron expression
// ("0 */6 * * *", "@daily", "@every 1h"). Expression parsing is done by
// robfig/cron; this type only adapts it to the trigger protocol.
type CronTrigger struct {
	expression       string
	schedule         cron.Schedule
	endTimeUtc       *time.Time
	misfireAction    Action
	misfireThreshold *time.Duration
	nextFireTimeUtc  *time.Time
	stopped          bool
}

// CronOption configures a CronTrigger.
type CronOption func(*CronTrigger)

// WithCronEndTime stops the trigger once the next fire time would pass endTime.
func WithCronEndTime(endTime time.Time) CronOption {
	return func(c *CronTrigger) {
		c.endTimeUtc = utcPtr(&endTime)
	}
}

// WithCronMisfireAction sets what the trigger does on a misfire. Default Skip.
func WithCronMisfireAction(action Action) CronOption {
	return func(c *CronTrigger) {
		c.misfireAction = action
	}
}

// WithCronMisfireThreshold sets how late a fire may be before it is a misfire.
func WithCronMisfireThreshold(threshold time.Duration) CronOption {
	return func(c *CronTrigger) {
		c.misfireThreshold = &threshold
	}
}

// NewCronTrigger parses expression and creates a trigger for it. Expressions
// are evaluated in UTC unless they carry a CRON_TZ= prefix.
func NewCronTrigger(expression string, opts ...CronOption) (*CronTrigger, error) {
	expression = strings.TrimSpace(expression)
	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrInvalidTrigger), "failed to parse cron expression %q", expression)
	}

	c := &CronTrigger{
		expression:    expression,
		schedule:      schedule,
		misfireAction: Skip,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.misfireAction.Valid() {
		return nil, errors.Wrapf(ErrInvalidTrigger, "unknown misfire action %d", int(c.misfireAction))
	}
	return c, nil
}

func (c *CronTrigger) Kind() string { return KindCron }

func (c *CronTrigger) Expression() string { return c.expression }

func (c *CronTrigger) NextFireTimeUtc() *time.Time { return utcPtr(c.nextFireTimeUtc) }

func (c *CronTrigger) NextMisfireThreshold() *time.Duration { return durationPtr(c.misfireThreshold) }

func (c *CronTrigger) IsActive() bool { return !c.stopped }

func (c *CronTrigger) Clone() Trigger {
	return &CronTrigger{
		expression:       c.expression,
		schedule:         c.schedule,
		endTimeUtc:       utcPtr(c.endTimeUtc),
		misfireAction:    c.misfireAction,
		misfireThreshold: durationPtr(c.misfireThreshold),
		nextFireTimeUtc:  utcPtr(c.nextFireTimeUtc),
		stopped:          c.stopped,
	}
}

func (c *CronTrigger) Schedule(cond Condition, timeBasisUtc time.Time, _ *LastExecution) (Action, error) {
	timeBasisUtc = UTC(timeBasisUtc)

	switch cond {
	case Latch:
		return c.scheduleSuggestedAction(Skip, timeBasisUtc), nil
	case Fire:
		return c.scheduleSuggestedAction(ExecuteJob, timeBasisUtc), nil
	case Misfire:
		return c.scheduleSuggestedAction(c.misfireAction, timeBasisUtc), nil
	default:
		return Stop, errors.Wrapf(ErrUnknownCondition, "cron trigger cannot handle %s", cond)
	}
}

func (c *CronTrigger) scheduleSuggestedAction(action Action, timeBasisUtc time.Time) Action {
	if c.stopped {
		return Stop
	}

	switch action {
	case DeleteJob:
		c.nextFireTimeUtc = nil
		return DeleteJob

	case ExecuteJob:
		if c.endTimeUtc != nil && timeBasisUtc.After(*c.endTimeUtc) {
			break
		}
		c.nextFireTimeUtc = nil
		return ExecuteJob

	case Skip:
		next := c.schedule.Next(timeBasisUtc)
		if next.IsZero() {
			break
		}
		next = UTC(next)
		if c.endTimeUtc != nil && next.After(*c.endTimeUtc) {
			break
		}
		c.nextFireTimeUtc = &next
		return Skip
	}

	c.nextFireTimeUtc = nil
	c.stopped = true
	return Stop
}

type cronState struct {
	Expression       string         `json:"expression"`
	EndTimeUtc       *time.Time     `json:"end_time_utc,omitempty"`
	MisfireAction    Action         `json:"misfire_action"`
	MisfireThreshold *time.Duration `json:"misfire_threshold,omitempty"`
	NextFireTimeUtc  *time.Time     `json:"next_fire_time_utc,omitempty"`
	Stopped          bool           `json:"stopped,omitempty"`
}

func (c *CronTrigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(cronState{
		Expression:       c.expression,
		EndTimeUtc:       c.endTimeUtc,
		MisfireAction:    c.misfireAction,
		MisfireThreshold: c.misfireThreshold,
		NextFireTimeUtc:  c.nextFireTimeUtc,
		Stopped:          c.stopped,
	})
}

func (c *CronTrigger) UnmarshalJSON(data []byte) error {
	var state cronState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "failed to decode cron trigger")
	}
	schedule, err := cron.ParseStandard(state.Expression)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, ErrInvalidTrigger), "failed to parse cron expression %q", state.Expression)
	}
	*c = CronTrigger{
		expression:       state.Expression,
		schedule:         schedule,
		endTimeUtc:       utcPtr(state.EndTimeUtc),
		misfireAction:    state.MisfireAction,
		misfireThreshold: state.MisfireThreshold,
		nextFireTimeUtc:  utcPtr(state.NextFireTimeUtc),
		stopped:          state.Stopped,
	}
	return nil
}
