package trigger_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/scheduler/pkg/json"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

// fixedTrigger fires once at At, then stops.
type fixedTrigger struct {
	At    time.Time `json:"at"`
	Fired bool      `json:"fired"`
}

func (f *fixedTrigger) Schedule(cond trigger.Condition, timeBasisUtc time.Time, _ *trigger.LastExecution) (trigger.Action, error) {
	if cond == trigger.Latch {
		if f.Fired {
			return trigger.Stop, nil
		}
		return trigger.Skip, nil
	}
	f.Fired = true
	return trigger.ExecuteJob, nil
}

func (f *fixedTrigger) NextFireTimeUtc() *time.Time {
	if f.Fired {
		return nil
	}
	at := f.At
	return &at
}

func (f *fixedTrigger) NextMisfireThreshold() *time.Duration { return nil }

func (f *fixedTrigger) IsActive() bool { return !f.Fired }

func (f *fixedTrigger) Clone() trigger.Trigger {
	clone := *f
	return &clone
}

func (f *fixedTrigger) Kind() string { return "fixed" }

func (f *fixedTrigger) UnmarshalJSON(data []byte) error {
	type plain fixedTrigger
	return json.Unmarshal(data, (*plain)(f))
}

func TestRegisterKind(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	original := &fixedTrigger{At: at}

	_, err := trigger.Marshal(original)
	require.True(t, errors.Is(err, trigger.ErrInvalidTrigger), "unregistered kinds cannot be stored")

	require.NoError(t, trigger.RegisterKind("fixed", func() trigger.Decodable { return &fixedTrigger{} }))

	data, err := trigger.Marshal(original)
	require.NoError(t, err)
	decoded, err := trigger.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	err = trigger.RegisterKind("fixed", func() trigger.Decodable { return &fixedTrigger{} })
	assert.True(t, errors.Is(err, trigger.ErrInvalidTrigger))
	err = trigger.RegisterKind(trigger.KindPeriodic, func() trigger.Decodable { return &trigger.PeriodicTrigger{} })
	assert.True(t, errors.Is(err, trigger.ErrInvalidTrigger), "built-in kinds cannot be replaced")
	err = trigger.RegisterKind("", nil)
	assert.True(t, errors.Is(err, trigger.ErrInvalidTrigger))
}
