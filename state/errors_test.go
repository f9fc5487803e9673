package state

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolViolationError(t *testing.T) {
	cause := errors.New("no validators")
	err := NewProtocolViolationErrorf("could not assign epoch 3: %w", cause)
	assert.True(t, IsProtocolViolationError(err))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, IsProtocolViolationError(wrapped))

	assert.False(t, IsProtocolViolationError(cause))
}
