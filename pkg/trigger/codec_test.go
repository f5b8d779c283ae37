package trigger

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_PeriodicRoundTrip(t *testing.T) {
	p := mustPeriodic(t, baseTime,
		WithPeriod(time.Hour),
		WithEndTime(baseTime.Add(48*time.Hour)),
		WithExecutionCount(4),
		WithMisfireAction(ExecuteJob),
		WithMisfireThreshold(30*time.Second),
	)
	require.Equal(t, ExecuteJob, schedule(t, p, Fire, baseTime))
	require.Equal(t, Skip, schedule(t, p, Latch, baseTime.Add(time.Minute)))

	data, err := Marshal(p)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.IsType(t, &PeriodicTrigger{}, decoded)
	assert.Equal(t, p, decoded)

	// The decoded trigger continues from the same state.
	assert.Equal(t,
		schedule(t, p.Clone(), Fire, baseTime.Add(time.Hour)),
		schedule(t, decoded, Fire, baseTime.Add(time.Hour)))
}

func TestCodec_CronRoundTrip(t *testing.T) {
	c, err := NewCronTrigger("30 2 * * 1", WithCronMisfireAction(DeleteJob))
	require.NoError(t, err)
	require.Equal(t, Skip, schedule(t, c, Latch, baseTime))

	data, err := Marshal(c)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.IsType(t, &CronTrigger{}, decoded)

	restored := decoded.(*CronTrigger)
	assert.Equal(t, c.Expression(), restored.Expression())
	assert.Equal(t, *c.NextFireTimeUtc(), *restored.NextFireTimeUtc())
	assert.Equal(t, DeleteJob, schedule(t, restored, Misfire, baseTime))
}

func TestCodec_ActionsEncodeByName(t *testing.T) {
	p := mustPeriodic(t, baseTime, WithMisfireAction(DeleteJob))

	data, err := Marshal(p)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"kind":"periodic"`)
	assert.Contains(t, string(data), `"misfire_action":"DeleteJob"`)
}

func TestCodec_Errors(t *testing.T) {
	_, err := Marshal(nil)
	assert.True(t, errors.Is(err, ErrInvalidTrigger))

	_, err = Unmarshal([]byte(`{"kind":"lunar","state":{}}`))
	assert.True(t, errors.Is(err, ErrInvalidTrigger))

	_, err = Unmarshal([]byte(`{"kind":"periodic","state":{"start_time_utc":"2024-03-01T12:00:00Z","period":-5,"misfire_action":"Skip"}}`))
	assert.True(t, errors.Is(err, ErrInvalidTrigger))

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	for _, action := range []Action{Skip, Stop, ExecuteJob, DeleteJob} {
		parsed, err := ParseAction(action.String())
		require.NoError(t, err)
		assert.Equal(t, action, parsed)
	}

	parsed, err := ParseAction(" executejob ")
	require.NoError(t, err)
	assert.Equal(t, ExecuteJob, parsed)

	_, err = ParseAction("Explode")
	assert.Error(t, err)
}
