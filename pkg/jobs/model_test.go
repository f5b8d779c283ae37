package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/scheduler/pkg/json"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestJobState_TextRoundTrip(t *testing.T) {
	for state := range stateNames {
		text, err := state.MarshalText()
		require.NoError(t, err)

		var parsed JobState
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, state, parsed)
	}

	var parsed JobState
	assert.Error(t, parsed.UnmarshalText([]byte("Exploded")))
	assert.Equal(t, "JobState(99)", JobState(99).String())
}

func TestJobData_CloneIsDeep(t *testing.T) {
	data := JobData{
		"count":  1,
		"nested": map[string]any{"key": "value"},
		"list":   []any{"a", map[string]any{"b": 2}},
	}

	clone := data.Clone()
	clone["count"] = 2
	clone["nested"].(map[string]any)["key"] = "changed"
	clone["list"].([]any)[1].(map[string]any)["b"] = 3

	assert.Equal(t, 1, data["count"])
	assert.Equal(t, "value", data["nested"].(map[string]any)["key"])
	assert.Equal(t, 2, data["list"].([]any)[1].(map[string]any)["b"])
	assert.Nil(t, JobData(nil).Clone())
}

func TestJobData_GetIntAfterJSONRoundTrip(t *testing.T) {
	data := JobData{"count": 41}
	encoded, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded JobData
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	n, ok := decoded.GetInt("count")
	require.True(t, ok)
	assert.Equal(t, 41, n)

	_, ok = decoded.GetInt("missing")
	assert.False(t, ok)
}

func TestJobSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    JobSpec
		wantErr bool
	}{
		{name: "valid", spec: NewJobSpec("job", "key", trigger.NewOneShotTrigger(now))},
		{name: "empty name", spec: NewJobSpec(" ", "key", trigger.NewOneShotTrigger(now)), wantErr: true},
		{name: "empty key", spec: NewJobSpec("job", "", trigger.NewOneShotTrigger(now)), wantErr: true},
		{name: "no trigger", spec: NewJobSpec("job", "key", nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobDetails_CloneSharesNothingMutable(t *testing.T) {
	spec := NewJobSpec("job", "key", trigger.NewDailyTrigger(now))
	spec.JobData["count"] = 1
	details := NewJobDetails(spec, now)
	_, err := details.JobSpec.Trigger.Schedule(trigger.Latch, now, nil)
	require.NoError(t, err)
	details.SyncTrigger()
	details.LastJobExecutionDetails = NewJobExecutionDetails(uuid.New(), now)
	details.LastJobExecutionDetails.Complete(now.Add(time.Second), true, "ok")

	clone := details.Clone()
	clone.JobSpec.JobData["count"] = 2
	_, err = clone.JobSpec.Trigger.Schedule(trigger.Fire, now, nil)
	require.NoError(t, err)
	*clone.NextTriggerFireTimeUtc = now.Add(time.Hour)
	*clone.LastJobExecutionDetails.EndTimeUtc = now.Add(time.Hour)

	assert.Equal(t, 1, details.JobSpec.JobData["count"])
	assert.Equal(t, now, *details.JobSpec.Trigger.NextFireTimeUtc())
	assert.Equal(t, now, *details.NextTriggerFireTimeUtc)
	assert.Equal(t, now.Add(time.Second), *details.LastJobExecutionDetails.EndTimeUtc)
}

func TestJobExecutionDetails_Outcome(t *testing.T) {
	var missing *JobExecutionDetails
	assert.Nil(t, missing.Outcome())

	details := NewJobExecutionDetails(uuid.New(), now)
	assert.Equal(t, "Unknown", details.StatusMessage)
	assert.Nil(t, details.Outcome().EndTimeUtc)

	details.Complete(now.Add(time.Minute), false, "boom")
	outcome := details.Outcome()
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, now.Add(time.Minute), *outcome.EndTimeUtc)
}
