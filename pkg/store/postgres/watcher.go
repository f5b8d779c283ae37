package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
)

type pollResult struct {
	details *jobs.JobDetails
	wait    time.Duration
}

// maxQuarantinedPerPoll bounds how many undecodable rows one query stops
// before the poll moves on.
const maxQuarantinedPerPoll = 16

// watcher polls the jobs table on behalf of one scheduler. Each poll records
// a heartbeat, reclaims jobs abandoned by expired schedulers and then hands
// out the next job needing attention. Polls run through a circuit breaker so
// an unreachable database fails fast instead of piling up queries.
type watcher struct {
	store    *Store
	id       uuid.UUID
	breaker  *gobreaker.CircuitBreaker
	once     sync.Once
	disposed chan struct{}
}

func newWatcher(s *Store, id uuid.UUID) *watcher {
	log := s.logger
	failures := s.config.BreakerFailures

	return &watcher{
		store:    s,
		id:       id,
		disposed: make(chan struct{}),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "job-watcher-" + id.String(),
			MaxRequests: 1,
			Timeout:     s.config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				event := log.Info()
				if to == gobreaker.StateOpen {
					event = log.Warn()
				}
				event.
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Job watcher circuit breaker changed state")
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

func (w *watcher) NextJobToProcess(ctx context.Context) (*jobs.JobDetails, error) {
	for {
		select {
		case <-w.disposed:
			return nil, scheduler.ErrWatcherDisposed
		default:
		}

		// Subscribe before polling so a write racing the poll still wakes us.
		changed := w.store.changes()

		result, err := w.breaker.Execute(func() (interface{}, error) {
			return w.poll(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "failed to poll for jobs")
		}

		polled := result.(*pollResult)
		if polled.details != nil {
			return polled.details, nil
		}

		timer := time.NewTimer(polled.wait)
		select {
		case <-timer.C:
		case <-changed:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-w.disposed:
			timer.Stop()
			return nil, scheduler.ErrWatcherDisposed
		}
		timer.Stop()
	}
}

func (w *watcher) Dispose() {
	w.once.Do(func() { close(w.disposed) })
}

func (w *watcher) poll(ctx context.Context) (*pollResult, error) {
	s := w.store
	now := s.now()

	if err := s.heartbeat(ctx, s.db, w.id, s.schedulerName(w.id)); err != nil {
		return nil, err
	}
	if err := w.reclaim(ctx, now); err != nil {
		return nil, err
	}

	details, err := w.attention(ctx)
	if err != nil || details != nil {
		return &pollResult{details: details}, err
	}

	details, err = w.claim(ctx, now)
	if err != nil || details != nil {
		return &pollResult{details: details}, err
	}

	wait, err := w.untilNextDue(ctx, now)
	if err != nil {
		return nil, err
	}
	return &pollResult{wait: wait}, nil
}

// reclaim removes expired schedulers and releases their jobs. Running jobs
// become Orphaned and claimed jobs go back to Scheduled.
func (w *watcher) reclaim(ctx context.Context, now time.Time) error {
	s := w.store
	cutoff := now.Add(-s.config.SchedulerExpiration)

	start := time.Now()
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE last_seen_utc < $1`, s.tables.schedulers), cutoff)
	s.logOperation("expire_schedulers", s.tables.schedulers, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrap(err, "failed to expire schedulers")
	}

	query := fmt.Sprintf(`UPDATE %s
SET job_state = CASE job_state WHEN 'Running' THEN 'Orphaned' ELSE 'Scheduled' END,
	owner_scheduler_id = NULL,
	version = version + 1
WHERE job_state IN ('Running', 'Triggered')
	AND (owner_scheduler_id IS NULL OR owner_scheduler_id NOT IN (SELECT id FROM %s))`,
		s.tables.jobs, s.tables.schedulers)

	start = time.Now()
	tag, err = s.db.Exec(ctx, query)
	s.logOperation("reclaim_jobs", s.tables.jobs, tag.RowsAffected(), start, err)
	if err != nil {
		return errors.Wrap(err, "failed to reclaim abandoned jobs")
	}

	if tag.RowsAffected() > 0 {
		s.logger.Warn().
			Str("scheduler_id", w.id.String()).
			Int64("reclaimed_jobs", tag.RowsAffected()).
			Str("action", "jobs_reclaimed").
			Msg("Reclaimed jobs from expired schedulers")
	}
	return nil
}

// attention returns a job whose trigger has to be latched, or a job this
// scheduler claimed but never processed.
func (w *watcher) attention(ctx context.Context) (*jobs.JobDetails, error) {
	s := w.store
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE job_state IN ('Pending', 'Completed', 'Orphaned')
	OR (job_state = 'Triggered' AND owner_scheduler_id = $1)
ORDER BY creation_time_utc, name
LIMIT 1`, jobColumns, s.tables.jobs)

	for i := 0; i < maxQuarantinedPerPoll; i++ {
		details, err := scanJob(s.db.QueryRow(ctx, query, w.id.String()))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		quarantined, qerr := w.quarantine(ctx, err)
		if qerr != nil {
			return nil, qerr
		}
		if quarantined {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to load job needing attention")
		}
		return details, nil
	}
	return nil, nil
}

// claim marks the earliest due Scheduled job as Triggered by this scheduler.
// Rows locked by a concurrent claim are skipped.
func (w *watcher) claim(ctx context.Context, now time.Time) (*jobs.JobDetails, error) {
	s := w.store
	query := fmt.Sprintf(`UPDATE %[1]s
SET job_state = 'Triggered', owner_scheduler_id = $1, version = version + 1
WHERE name = (
	SELECT name FROM %[1]s
	WHERE job_state = 'Scheduled' AND (next_fire_time_utc IS NULL OR next_fire_time_utc <= $2)
	ORDER BY next_fire_time_utc NULLS FIRST, name
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %[2]s`, s.tables.jobs, jobColumns)

	for i := 0; i < maxQuarantinedPerPoll; i++ {
		details, err := scanJob(s.db.QueryRow(ctx, query, w.id.String(), now))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		quarantined, qerr := w.quarantine(ctx, err)
		if qerr != nil {
			return nil, qerr
		}
		if quarantined {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim due job")
		}

		if e := s.logger.Debug(); e.Enabled() {
			e.Str("job_name", details.Name()).
				Str("scheduler_id", w.id.String()).
				Str("action", "job_claimed").
				Msg("Claimed due job")
		}
		return details, nil
	}
	return nil, nil
}

// quarantine stops the job behind an undecodable row so it no longer blocks
// polling on any scheduler. It reports false when err is not a decoding
// failure. The row is kept as is and can be repaired with UpdateJob.
func (w *watcher) quarantine(ctx context.Context, err error) (bool, error) {
	var undecodable *undecodableJobError
	if !errors.As(err, &undecodable) {
		return false, nil
	}

	s := w.store
	query := fmt.Sprintf(`UPDATE %s
SET job_state = 'Stopped', next_fire_time_utc = NULL, next_misfire_threshold_us = NULL,
	owner_scheduler_id = NULL, version = version + 1
WHERE name = $1 AND version = $2`, s.tables.jobs)

	tag, execErr := s.db.Exec(ctx, query, undecodable.name, undecodable.version)
	if execErr != nil {
		return true, errors.Wrapf(execErr, "failed to quarantine job %q", undecodable.name)
	}

	s.logger.Error().
		Err(undecodable.cause).
		Str("job_name", undecodable.name).
		Int64("version", undecodable.version).
		Int64("rows_affected", tag.RowsAffected()).
		Str("action", "job_quarantined").
		Msg("Stored job cannot be decoded, stopping it")
	return true, nil
}

// untilNextDue returns how long to sleep before polling again.
func (w *watcher) untilNextDue(ctx context.Context, now time.Time) (time.Duration, error) {
	s := w.store
	var next *time.Time
	query := fmt.Sprintf(`SELECT MIN(next_fire_time_utc) FROM %s WHERE job_state = 'Scheduled'`, s.tables.jobs)
	if err := s.db.QueryRow(ctx, query).Scan(&next); err != nil {
		return 0, errors.Wrap(err, "failed to find next due job")
	}

	wait := s.config.PollInterval
	if next != nil {
		if until := next.Sub(now); until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}
