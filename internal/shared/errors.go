package shared

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input; the operation had no side effects.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a uniqueness constraint was hit. For workflow
	// instance creation this is the expected outcome of a scanner race and is
	// handled as a no-op by the caller.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrTerminalState indicates an attempted transition out of a terminal
	// workflow or promise status.
	ErrTerminalState = errors.New("already in terminal state")
	// ErrStaleInstance indicates another worker advanced the instance first.
	ErrStaleInstance = errors.New("instance advanced concurrently")
)
