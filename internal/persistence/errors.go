package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record breaks a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrTransient marks failures that may succeed when the whole unit is retried.
	ErrTransient = errors.New("persistence: transient failure")
	// ErrConcurrentUpdate is returned when a compare-and-swap lost against another writer.
	ErrConcurrentUpdate = errors.New("persistence: concurrent update")
	// ErrNoCurrentCampaign is returned when an operation needs an active campaign.
	ErrNoCurrentCampaign = errors.New("persistence: annotator has no current campaign")
)

// IsRetryable reports whether err warrants re-running the atomic unit that produced it.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConcurrentUpdate)
}
