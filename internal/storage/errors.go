package storage

import "errors"

var (
	ErrTaskExists     = errors.New("task already exists")
	ErrTaskNotFound   = errors.New("task not found")
	ErrStatusConflict = errors.New("status already terminal")
	ErrLockNotFound   = errors.New("lock not found")
)

// IsTransient reports whether an error is a backing-store failure worth
// retrying, as opposed to one of the domain sentinels above.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrTaskExists) &&
		!errors.Is(err, ErrTaskNotFound) &&
		!errors.Is(err, ErrStatusConflict) &&
		!errors.Is(err, ErrLockNotFound)
}
