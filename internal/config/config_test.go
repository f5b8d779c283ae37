package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "HOST", "DATABASE_URL", "SCHEDULER_NAME", "SCHEDULER_STORE",
		"SCHEDULER_ERROR_RECOVERY_DELAY", "SCHEDULER_MAX_CONCURRENT_JOBS",
		"SCHEDULER_POLL_INTERVAL", "SCHEDULER_EXPIRATION", "SCHEDULER_TABLE_PREFIX",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, StoreMemory, cfg.Scheduler.Store)
	assert.Empty(t, cfg.Scheduler.Name)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ErrorRecoveryDelay)
	assert.Equal(t, int64(10), cfg.Scheduler.MaxConcurrentJobs)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.Expiration)
	assert.Equal(t, "scheduler", cfg.Scheduler.TablePrefix)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SCHEDULER_NAME", "batch")
	t.Setenv("SCHEDULER_STORE", "Postgres")
	t.Setenv("SCHEDULER_ERROR_RECOVERY_DELAY", "5s")
	t.Setenv("SCHEDULER_MAX_CONCURRENT_JOBS", "3")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "2")
	t.Setenv("SCHEDULER_EXPIRATION", "not-a-duration")

	cfg := Load()
	assert.Equal(t, "batch", cfg.Scheduler.Name)
	assert.Equal(t, StorePostgres, cfg.Scheduler.Store)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ErrorRecoveryDelay)
	assert.Equal(t, int64(3), cfg.Scheduler.MaxConcurrentJobs)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.Expiration, "invalid values fall back to the default")
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "jobs", SSLMode: "disable",
	}}
	assert.Equal(t, "postgres://u:p@db:5432/jobs?sslmode=disable", cfg.DatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://override")
	assert.Equal(t, "postgres://override", cfg.DatabaseURL())
}
