package jobs

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopJob() Job {
	return JobFunc(func(ctx context.Context, execCtx *ExecutionContext) (bool, error) {
		return true, nil
	})
}

func TestFactory_Register(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name    string
		key     string
		job     Job
		wantErr bool
	}{
		{name: "valid job", key: "noop", job: noopJob()},
		{name: "duplicate key", key: "noop", job: noopJob(), wantErr: true},
		{name: "empty key", key: "", job: noopJob(), wantErr: true},
		{name: "nil job", key: "nil", job: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := factory.Register(tt.key, tt.job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, []string{"noop"}, factory.Keys())
}

func TestFactory_GetJob(t *testing.T) {
	factory := NewFactory()
	require.NoError(t, factory.Register("noop", noopJob()))

	job, err := factory.GetJob("noop")
	require.NoError(t, err)
	ok, err := job.Execute(context.Background(), &ExecutionContext{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = factory.GetJob("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotRegistered))
}
