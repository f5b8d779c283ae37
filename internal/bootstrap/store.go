// Package bootstrap wires configuration into the job store shared by the
// scheduler daemon and the management API.
package bootstrap

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/scheduler/internal/config"
	"github.com/iddaa-lens/scheduler/pkg/database/pool"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/store/memory"
	"github.com/iddaa-lens/scheduler/pkg/store/postgres"
)

// Store is an opened job store and the resources behind it
type Store struct {
	scheduler.JobStore
	// DBStats reports pool statistics; nil for the memory store.
	DBStats func() interface{}
	db      *pgxpool.Pool
}

// Close releases the database pool, if any
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// OpenStore opens the store named by kind ("memory" or "postgres"). Postgres
// tables are created when migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, kind string, migrate bool, log *logger.Logger) (*Store, error) {
	switch kind {
	case config.StoreMemory:
		return &Store{JobStore: memory.New(memory.WithLogger(log))}, nil

	case config.StorePostgres:
		db, err := pool.Connect(ctx, cfg.DatabaseURL(), pool.DefaultConfig(cfg.Scheduler.MaxConcurrentJobs), 3, 2*time.Second, log)
		if err != nil {
			return nil, err
		}

		store, err := postgres.New(db, postgres.Config{
			TablePrefix:         cfg.Scheduler.TablePrefix,
			PollInterval:        cfg.Scheduler.PollInterval,
			SchedulerExpiration: cfg.Scheduler.Expiration,
			Logger:              log,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		if migrate {
			if err := store.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}

		log.Info().
			Str("action", "db_connected").
			Str("table_prefix", cfg.Scheduler.TablePrefix).
			Msg("PostgreSQL job store ready")

		return &Store{
			JobStore: store,
			DBStats:  func() interface{} { return pool.GetStats(db) },
			db:       db,
		}, nil

	default:
		return nil, errors.WithHint(
			errors.Newf("unknown job store %q", kind),
			"set SCHEDULER_STORE to memory or postgres")
	}
}
