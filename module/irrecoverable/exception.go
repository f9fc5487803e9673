package irrecoverable

import (
	"errors"
	"fmt"
)

// exception marks an error as unexpected: a symptom of a bug or of corrupted
// state rather than of bad input. Wrapping with an exception hides any sentinel
// errors further down, so callers can't mistake it for a benign failure.
type exception struct {
	err error
}

func (e exception) Error() string {
	return e.err.Error()
}

func (e exception) Unwrap() error {
	return e.err
}

// NewException wraps err into an exception.
func NewException(err error) error {
	return exception{err: err}
}

// NewExceptionf constructs an exception from a format string.
func NewExceptionf(msg string, args ...interface{}) error {
	return exception{err: fmt.Errorf(msg, args...)}
}

// IsException reports whether err is, or wraps, an exception.
func IsException(err error) bool {
	var e exception
	return errors.As(err, &e)
}
