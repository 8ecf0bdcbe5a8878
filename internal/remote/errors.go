package remote

import "errors"

var (
	// ErrTransient means the operation did not complete and nothing changed;
	// the caller may retry.
	ErrTransient = errors.New("transient network error")
	// ErrRejected means the backend refused an otherwise well-formed request.
	ErrRejected = errors.New("rejected by remote store")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
