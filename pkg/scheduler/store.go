package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
)

// ConflictAction decides what CreateJob does when a job with the same name
// already exists.
type ConflictAction int

const (
	// ConflictThrow fails with ErrJobAlreadyExists.
	ConflictThrow ConflictAction = iota
	// ConflictUpdate updates the existing job as UpdateJob would.
	ConflictUpdate
	// ConflictReplace deletes the existing job and creates a new one.
	ConflictReplace
	// ConflictIgnore leaves the existing job untouched.
	ConflictIgnore
)

var conflictNames = map[ConflictAction]string{
	ConflictThrow:   "Throw",
	ConflictUpdate:  "Update",
	ConflictReplace: "Replace",
	ConflictIgnore:  "Ignore",
}

func (c ConflictAction) String() string {
	if name, ok := conflictNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConflictAction(%d)", int(c))
}

func (c ConflictAction) Valid() bool {
	_, ok := conflictNames[c]
	return ok
}

// ParseConflictAction parses "throw", "update", "replace" or "ignore".
func ParseConflictAction(s string) (ConflictAction, error) {
	for action, name := range conflictNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return action, nil
		}
	}
	return ConflictThrow, errors.Mark(errors.Newf("unknown conflict action %q", s), ErrInvalidArgument)
}

// JobStore persists jobs and the schedulers working on them.
//
// Implementations must be safe for concurrent use. Returned JobDetails are
// owned by the caller.
type JobStore interface {
	RegisterScheduler(ctx context.Context, id uuid.UUID, name string) error

	// UnregisterScheduler removes the scheduler. Jobs it left Running become
	// Orphaned.
	UnregisterScheduler(ctx context.Context, id uuid.UUID) error

	CreateWatcher(id uuid.UUID) JobWatcher

	// GetJobDetails returns ErrJobNotFound when no job has the name.
	GetJobDetails(ctx context.Context, name string) (*jobs.JobDetails, error)

	// CreateJob stores a new Pending job. It reports whether the store changed.
	CreateJob(ctx context.Context, spec jobs.JobSpec, creationTimeUtc time.Time, conflict ConflictAction) (bool, error)

	// UpdateJob replaces the spec of an existing job and resets it to Pending.
	UpdateJob(ctx context.Context, name string, spec jobs.JobSpec) error

	// DeleteJob reports whether a job was deleted.
	DeleteJob(ctx context.Context, name string) (bool, error)

	ListJobNames(ctx context.Context) ([]string, error)

	// SaveJobDetails persists details if details.Version is still current and
	// then advances details.Version. A stale or deleted record yields
	// ErrConcurrentModification.
	SaveJobDetails(ctx context.Context, details *jobs.JobDetails) error
}

// JobWatcher delivers the jobs that need the attention of one scheduler.
type JobWatcher interface {
	// NextJobToProcess blocks until a job needs attention. It returns
	// ErrWatcherDisposed once Dispose has been called.
	NextJobToProcess(ctx context.Context) (*jobs.JobDetails, error)

	Dispose()
}
