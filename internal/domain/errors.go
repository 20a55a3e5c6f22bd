package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoHandler        = errors.New("no handler registered for task type")
	ErrUnknownTaskType  = errors.New("unknown task type")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrUnknownEventType = errors.New("unknown event type")
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The task manager fails the task
// immediately instead of scheduling another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
