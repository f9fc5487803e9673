package state

import (
	"errors"
	"fmt"
)

// ProtocolViolationError indicates that continuing on the affected fork would
// risk a safety violation: an empty or undersized validator set, inconsistent
// epoch computation, or a reorganization below the finalized height. The node
// must halt progress on that fork instead of recovering.
type ProtocolViolationError struct {
	error
}

func NewProtocolViolationError(msg string) error {
	return NewProtocolViolationErrorf(msg)
}

func NewProtocolViolationErrorf(msg string, args ...interface{}) error {
	return ProtocolViolationError{
		error: fmt.Errorf(msg, args...),
	}
}

func (e ProtocolViolationError) Unwrap() error {
	return e.error
}

// IsProtocolViolationError returns whether the given error is a ProtocolViolationError
func IsProtocolViolationError(err error) bool {
	return errors.As(err, &ProtocolViolationError{})
}
