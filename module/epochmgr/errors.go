package epochmgr

import (
	"errors"
)

var (
	// ErrEpochNotReady is returned when querying an epoch whose assignment has
	// not been computed on this node yet. No chunk or block of that epoch can be
	// validated until it is.
	ErrEpochNotReady = errors.New("epoch assignment not computed yet")

	// ErrWrongEpoch is returned when a block carries an epoch ID other than the
	// one its parent determines.
	ErrWrongEpoch = errors.New("block carries wrong epoch")

	// ErrUnknownBlock is returned when a block was never added to the manager.
	ErrUnknownBlock = errors.New("block unknown to epoch manager")
)
