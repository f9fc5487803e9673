package chain

import (
	"errors"
	"fmt"

	"github.com/nightshard/shardnode/model/flow"
)

var (
	// ErrNotBootstrapped is returned by a chain state whose database holds no genesis.
	ErrNotBootstrapped = errors.New("chain state not bootstrapped")

	// ErrOldBlock is returned for a block at or below the finalized height.
	ErrOldBlock = errors.New("block at or below finalized height")

	// ErrConflictsWithFinalized is returned for a block that does not descend
	// from the finalized block.
	ErrConflictsWithFinalized = errors.New("block conflicts with finalized block")

	// ErrFutureBlock is returned for a block whose timestamp runs too far
	// ahead of the local clock. It may be submitted again later.
	ErrFutureBlock = errors.New("block timestamp too far in the future")
)

// InvalidBlockError indicates a block that can never be accepted: it is
// structurally malformed, badly signed, inconsistent with its parent, or
// carries a rejected chunk. Invalid is terminal.
type InvalidBlockError struct {
	BlockID flow.Identifier
	err     error
}

func NewInvalidBlockErrorf(blockID flow.Identifier, msg string, args ...interface{}) error {
	return InvalidBlockError{
		BlockID: blockID,
		err:     fmt.Errorf(msg, args...),
	}
}

func (e InvalidBlockError) Error() string {
	return fmt.Sprintf("invalid block %x: %v", e.BlockID, e.err)
}

func (e InvalidBlockError) Unwrap() error {
	return e.err
}

// IsInvalidBlockError returns whether err is an InvalidBlockError.
func IsInvalidBlockError(err error) bool {
	var target InvalidBlockError
	return errors.As(err, &target)
}

// UnfitError indicates a block that is already known and therefore not
// processed again. Status is the block's current status.
type UnfitError struct {
	BlockID flow.Identifier
	Status  flow.BlockStatus
}

func (e UnfitError) Error() string {
	return fmt.Sprintf("block %x already known as %s", e.BlockID, e.Status)
}

// IsUnfitError returns whether err is an UnfitError.
func IsUnfitError(err error) bool {
	var target UnfitError
	return errors.As(err, &target)
}
