package tasks

import "errors"

// Error kinds surfaced by the registry and the scheduler. Callers test
// them with errors.Is; concrete errors wrap these with context.
var (
	// ErrInvalidTask reports validation failure at store or update.
	ErrInvalidTask = errors.New("invalid task")

	// ErrTaskNotFound reports get/update/delete against an unknown id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStorage wraps backend I/O failures.
	ErrStorage = errors.New("storage error")

	// ErrHandler reports a handler that returned an error or panicked.
	ErrHandler = errors.New("handler error")

	// ErrHandlerTimeout reports a handler cancelled by its deadline.
	// It matches ErrHandler under errors.Is.
	ErrHandlerTimeout = &timeoutError{}

	// ErrBadPayload reports a stored payload that cannot be decoded
	// into a task.
	ErrBadPayload = errors.New("bad task payload")
)

// timeoutError is a handler error subtype: errors.Is(err,
// ErrHandlerTimeout) implies errors.Is(err, ErrHandler).
type timeoutError struct{}

func (*timeoutError) Error() string { return "handler timed out" }

func (*timeoutError) Is(target error) bool { return target == ErrHandler }
