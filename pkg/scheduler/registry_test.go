package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
)

type nopStore struct{ JobStore }

func (nopStore) RegisterScheduler(ctx context.Context, id uuid.UUID, name string) error { return nil }

func (nopStore) UnregisterScheduler(ctx context.Context, id uuid.UUID) error { return nil }

func TestRegistry_DefaultNames(t *testing.T) {
	r := newRegistry("Build.Box")

	assert.Equal(t, "build-box-scheduler-1", r.NextDefaultName())
	assert.Equal(t, "build-box-scheduler-2", r.NextDefaultName())

	other := newRegistry("Build.Box")
	assert.Equal(t, "build-box-scheduler-1", other.NextDefaultName(), "counters are per registry")
}

func TestRegistry_TracksLiveSchedulers(t *testing.T) {
	r := newRegistry("host")
	runner := jobs.NewRunner(jobs.NewFactory(), 0)
	cfg := Config{Logger: logger.Nop(), ErrorRecoveryDelay: time.Second}

	first, err := r.NewScheduler(cfg, nopStore{}, runner)
	require.NoError(t, err)
	named := cfg
	named.Name = "named"
	second, err := r.NewScheduler(named, nopStore{}, runner)
	require.NoError(t, err)

	assert.Equal(t, "host-scheduler-1", first.Name())
	assert.Equal(t, "named", second.Name())

	found, ok := r.Lookup(first.ID())
	require.True(t, ok)
	assert.Same(t, first, found)
	assert.Equal(t, []*Scheduler{first, second}, r.List())

	require.NoError(t, first.Initialize(context.Background()))
	require.NoError(t, first.Close(context.Background()))

	_, ok = r.Lookup(first.ID())
	assert.False(t, ok)
	assert.Equal(t, []*Scheduler{second}, r.List())
}

func TestParseConflictAction(t *testing.T) {
	for action, name := range conflictNames {
		parsed, err := ParseConflictAction(name)
		require.NoError(t, err)
		assert.Equal(t, action, parsed)
	}

	_, err := ParseConflictAction("merge")
	assert.Error(t, err)
}
