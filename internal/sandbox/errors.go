package sandbox

import "errors"

var (
	// ErrNotFound means no session with the given id exists.
	ErrNotFound = errors.New("session not found")

	// ErrUnavailable means the session exists but is not ready for a new
	// execution; the caller may retry.
	ErrUnavailable = errors.New("session not available")
)
