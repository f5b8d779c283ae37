// Package postgres is a cluster-safe job store backed by PostgreSQL.
//
// Any number of schedulers, in any number of processes, may share one set of
// tables. Writers are serialized with a version column: a save made against a
// stale version fails with scheduler.ErrConcurrentModification. Schedulers
// heartbeat while they watch for work, and jobs left Running by a scheduler
// whose heartbeat expired are marked Orphaned.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/trigger"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgx used by the store. *pgxpool.Pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config holds store settings
type Config struct {
	// TablePrefix is prepended to the table names. Default "scheduler".
	TablePrefix string
	// PollInterval bounds how long a watcher waits between polls. Default 15s.
	PollInterval time.Duration
	// SchedulerExpiration is how long a scheduler may miss heartbeats before
	// its running jobs are orphaned. Default 4 poll intervals.
	SchedulerExpiration time.Duration
	// BreakerFailures is how many consecutive failed polls open the circuit
	// breaker. Default 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open. Default 30s.
	BreakerTimeout time.Duration
	Clock          func() time.Time
	Logger         *logger.Logger
}

// DefaultConfig returns production settings
func DefaultConfig() Config {
	return Config{
		TablePrefix:         "scheduler",
		PollInterval:        15 * time.Second,
		SchedulerExpiration: time.Minute,
		BreakerFailures:     5,
		BreakerTimeout:      30 * time.Second,
	}
}

// Store is a scheduler.JobStore over PostgreSQL
type Store struct {
	db     DBTX
	tables tables
	config Config
	clock  func() time.Time
	logger *logger.Logger

	mu         sync.Mutex
	schedulers map[uuid.UUID]string
	// changed is closed and replaced after local writes so watchers in this
	// process notice them before their next poll.
	changed chan struct{}
}

var _ scheduler.JobStore = (*Store)(nil)

// New creates a store. Call Migrate before first use.
func New(db DBTX, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errors.Mark(errors.New("database cannot be nil"), scheduler.ErrInvalidArgument)
	}

	defaults := DefaultConfig()
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = defaults.TablePrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.SchedulerExpiration <= 0 {
		cfg.SchedulerExpiration = 4 * cfg.PollInterval
	}
	if cfg.SchedulerExpiration <= cfg.PollInterval {
		return nil, errors.Mark(errors.Newf("scheduler expiration %s must exceed poll interval %s",
			cfg.SchedulerExpiration, cfg.PollInterval), scheduler.ErrInvalidArgument)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("postgres-store")
	}

	return &Store{
		db:         db,
		tables:     newTables(cfg.TablePrefix),
		config:     cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		schedulers: make(map[uuid.UUID]string),
		changed:    make(chan struct{}),
	}, nil
}

func (s *Store) now() time.Time {
	return trigger.UTC(s.clock())
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Store) schedulerName(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedulers[id]
}

func (s *Store) logOperation(operation, table string, affected int64, start time.Time, err error) {
	s.logger.LogDatabaseOperation(operation, table, int(affected), time.Since(start), err)
}

func (s *Store) RegisterScheduler(ctx context.Context, id uuid.UUID, name string) error {
	if err := s.heartbeat(ctx, s.db, id, name); err != nil {
		return err
	}

	s.mu.Lock()
	s.schedulers[id] = name
	s.mu.Unlock()
	return nil
}

func (s *Store) heartbeat(ctx context.Context, db DBTX, id uuid.UUID, name string) error {
	start := time.Now()
	query := fmt.Sprintf(`INSERT INTO %s (id, name, last_seen_utc) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET last_seen_utc = EXCLUDED.last_seen_utc`, s.tables.schedulers)

	tag, err := db.Exec(ctx, query, id.String(), name, s.now())
	s.logOperation("heartbeat", s.tables.schedulers, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to record heartbeat of scheduler %s", id)
	}
	return nil
}

// UnregisterScheduler removes the scheduler and releases its jobs: Running
// jobs become Orphaned and claimed jobs go back to Scheduled.
func (s *Store) UnregisterScheduler(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start := time.Now()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.schedulers), id.String()); err != nil {
		return errors.Wrapf(err, "failed to remove scheduler %s", id)
	}

	query := fmt.Sprintf(`UPDATE %s
SET job_state = CASE job_state WHEN 'Running' THEN 'Orphaned' ELSE 'Scheduled' END,
	owner_scheduler_id = NULL,
	version = version + 1
WHERE job_state IN ('Running', 'Triggered') AND owner_scheduler_id = $1`, s.tables.jobs)
	tag, err := tx.Exec(ctx, query, id.String())
	s.logOperation("release_jobs", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to release jobs of scheduler %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	s.mu.Lock()
	delete(s.schedulers, id)
	s.mu.Unlock()

	if tag.RowsAffected() > 0 {
		s.logger.Warn().
			Str("scheduler_id", id.String()).
			Int64("released_jobs", tag.RowsAffected()).
			Str("action", "jobs_orphaned").
			Msg("Scheduler left jobs behind")
		s.notify()
	}
	return nil
}

func (s *Store) CreateWatcher(id uuid.UUID) scheduler.JobWatcher {
	return newWatcher(s, id)
}

func (s *Store) GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = $1`, jobColumns, s.tables.jobs)

	details, err := scanJob(s.db.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(scheduler.ErrJobNotFound, "job %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %q", name)
	}
	return details, nil
}

func (s *Store) CreateJob(ctx context.Context, spec jobs.JobSpec, creationTimeUtc time.Time, conflict scheduler.ConflictAction) (bool, error) {
	details := jobs.NewJobDetails(spec, creationTimeUtc)
	details.Version = 1
	row, err := encodeJob(details)
	if err != nil {
		return false, err
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.tables.jobs, jobColumns)

	var query string
	switch conflict {
	case scheduler.ConflictThrow:
		query = insert
	case scheduler.ConflictIgnore:
		query = insert + ` ON CONFLICT (name) DO NOTHING`
	case scheduler.ConflictUpdate:
		query = insert + fmt.Sprintf(` ON CONFLICT (name) DO UPDATE SET
	description = EXCLUDED.description,
	job_key = EXCLUDED.job_key,
	trigger_state = EXCLUDED.trigger_state,
	job_data = EXCLUDED.job_data,
	job_state = EXCLUDED.job_state,
	next_fire_time_utc = NULL,
	next_misfire_threshold_us = NULL,
	owner_scheduler_id = NULL,
	version = %s.version + 1`, s.tables.jobs)
	case scheduler.ConflictReplace:
		query = insert + fmt.Sprintf(` ON CONFLICT (name) DO UPDATE SET
	description = EXCLUDED.description,
	job_key = EXCLUDED.job_key,
	trigger_state = EXCLUDED.trigger_state,
	job_data = EXCLUDED.job_data,
	creation_time_utc = EXCLUDED.creation_time_utc,
	job_state = EXCLUDED.job_state,
	next_fire_time_utc = NULL,
	next_misfire_threshold_us = NULL,
	last_execution = NULL,
	owner_scheduler_id = NULL,
	version = %s.version + 1`, s.tables.jobs)
	default:
		return false, errors.Mark(errors.Newf("unknown conflict action %d", int(conflict)), scheduler.ErrInvalidArgument)
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, query, row.args()...)
	s.logOperation("create_job", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, errors.Wrapf(scheduler.ErrJobAlreadyExists, "job %q", spec.Name)
		}
		return false, errors.Wrapf(err, "failed to create job %q", spec.Name)
	}

	if tag.RowsAffected() == 0 {
		return false, nil
	}
	s.notify()
	return true, nil
}

func (s *Store) UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error {
	spec.Name = name
	row, err := encodeJob(jobs.NewJobDetails(spec, s.now()))
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET
	description = $2,
	job_key = $3,
	trigger_state = $4,
	job_data = $5,
	job_state = 'Pending',
	next_fire_time_utc = NULL,
	next_misfire_threshold_us = NULL,
	owner_scheduler_id = NULL,
	version = version + 1
WHERE name = $1`, s.tables.jobs)

	start := time.Now()
	tag, err := s.db.Exec(ctx, query, row.Name, row.Description, row.JobKey, row.Trigger, row.JobData)
	s.logOperation("update_job", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %q", name)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(scheduler.ErrJobNotFound, "job %q", name)
	}
	s.notify()
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.tables.jobs), name)
	s.logOperation("delete_job", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete job %q", name)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListJobNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.tables.jobs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job names")
	}
	return names, nil
}

func (s *Store) SaveJobDetails(ctx context.Context, details *jobs.JobDetails) error {
	if details == nil {
		return errors.Mark(errors.New("job details cannot be nil"), scheduler.ErrInvalidArgument)
	}

	row, err := encodeJob(details)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET
	description = $3,
	job_key = $4,
	trigger_state = $5,
	job_data = $6,
	job_state = $7,
	next_fire_time_utc = $8,
	next_misfire_threshold_us = $9,
	last_execution = $10,
	owner_scheduler_id = $11,
	version = version + 1
WHERE name = $1 AND version = $2`, s.tables.jobs)

	start := time.Now()
	tag, err := s.db.Exec(ctx, query,
		row.Name, row.Version, row.Description, row.JobKey, row.Trigger, row.JobData, row.JobState,
		row.NextFireTimeUtc, row.NextMisfireThresholdUs, row.LastExecution, row.OwnerSchedulerID)
	s.logOperation("save_job", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %q", details.Name())
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(scheduler.ErrConcurrentModification,
			"job %q was deleted or changed since version %d", details.Name(), details.Version)
	}

	details.Version++
	s.notify()
	return nil
}
