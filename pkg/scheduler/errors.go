package scheduler

import "github.com/cockroachdb/errors"

var (
	// ErrNotInitialized is returned by API calls made before Initialize.
	ErrNotInitialized = errors.New("scheduler is not initialized")

	// ErrDisposed is returned by API calls made after Close.
	ErrDisposed = errors.New("scheduler is disposed")

	// ErrInvalidArgument marks configuration errors rejected at the API boundary.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrentModification is returned by stores when a save lost a race
	// with another writer. The loop discards its changes without delay.
	ErrConcurrentModification = errors.New("job was modified concurrently")

	// ErrWatcherDisposed is returned by a watcher after Dispose. The loop treats
	// it as the stop signal.
	ErrWatcherDisposed = errors.New("job watcher is disposed")

	// ErrJobAlreadyExists is returned by CreateJob with ConflictThrow.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrJobNotFound is returned for operations on a job that does not exist.
	ErrJobNotFound = errors.New("job not found")
)

func invalidArgument(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}
