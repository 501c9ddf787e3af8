package storage

import "errors"

// Storage errors for append-only trade logs.
var (
	// ErrInvalidInput is returned when an event fails validation before append.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLogUnavailable is returned when the durable medium cannot be opened
	// or reached. Callers may retry.
	ErrLogUnavailable = errors.New("trade log unavailable")

	// ErrLogWriteFailed is returned when a record could not be made durable.
	// Callers may retry the same append.
	ErrLogWriteFailed = errors.New("trade log write failed")

	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("trade log closed")
)

// IsIOFailure reports whether err is a retryable durable-medium failure.
func IsIOFailure(err error) bool {
	return errors.Is(err, ErrLogUnavailable) || errors.Is(err, ErrLogWriteFailed)
}
