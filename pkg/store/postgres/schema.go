package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// tables holds the quoted names of the store's tables.
type tables struct {
	prefix     string
	jobs       string
	schedulers string
}

func newTables(prefix string) tables {
	return tables{
		prefix:     prefix,
		jobs:       pq.QuoteIdentifier(prefix + "_jobs"),
		schedulers: pq.QuoteIdentifier(prefix + "_schedulers"),
	}
}

func (t tables) migrations() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	last_seen_utc TIMESTAMPTZ NOT NULL
)`, t.schedulers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	job_key TEXT NOT NULL,
	trigger_state TEXT NOT NULL,
	job_data TEXT NOT NULL DEFAULT '{}',
	creation_time_utc TIMESTAMPTZ NOT NULL,
	job_state TEXT NOT NULL,
	next_fire_time_utc TIMESTAMPTZ NULL,
	next_misfire_threshold_us BIGINT NULL,
	last_execution TEXT NULL,
	owner_scheduler_id TEXT NULL,
	version BIGINT NOT NULL
)`, t.jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (job_state, next_fire_time_utc)`,
			pq.QuoteIdentifier(t.prefix+"_jobs_state_next_fire_idx"), t.jobs),
	}
}

// Migrate creates the store's tables. Concurrent migrations from several
// processes are serialized with a transaction-scoped advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer func() {
		// Rollback after Commit is a no-op
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID("scheduler-migrate:"+s.tables.prefix)); err != nil {
		return errors.Wrap(err, "failed to acquire migration lock")
	}

	for _, statement := range s.tables.migrations() {
		if _, err := tx.Exec(ctx, statement); err != nil {
			return errors.Wrap(err, "failed to apply migration")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit migration")
	}

	s.logger.Info().
		Str("action", "migration_complete").
		Str("table_prefix", s.tables.prefix).
		Dur("duration", time.Since(start)).
		Msg("Scheduler tables are up to date")
	return nil
}
