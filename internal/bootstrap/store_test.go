package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/scheduler/internal/config"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/store/memory"
)

func TestOpenStore_Memory(t *testing.T) {
	store, err := OpenStore(context.Background(), config.Load(), config.StoreMemory, true, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &memory.Store{}, store.JobStore)
	assert.Nil(t, store.DBStats)
}

func TestOpenStore_Unknown(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Load(), "etcd", false, logger.Nop())
	assert.ErrorContains(t, err, `unknown job store "etcd"`)
}
