package flow

import (
	"fmt"
)

// EpochIDFor derives the identifier of the epoch with the given counter that
// starts after the given boundary block (the last block of the prior epoch).
// Two forks that cross the same nominal boundary at different blocks derive
// different identifiers for the same counter.
func EpochIDFor(counter uint64, boundaryBlockID Identifier) Identifier {
	return MakeID(struct {
		Counter         uint64
		BoundaryBlockID Identifier
	}{
		Counter:         counter,
		BoundaryBlockID: boundaryBlockID,
	})
}

// KickoutReason records why a validator lost its seat eligibility.
type KickoutReason uint8

const (
	KickoutUnknown KickoutReason = iota
	// KickoutUnderperformed: missed duties exceeded the configured fraction.
	KickoutUnderperformed
)

func (r KickoutReason) String() string {
	switch r {
	case KickoutUnderperformed:
		return "underperformed"
	default:
		return "unknown"
	}
}

// Kickout names a validator excluded from an epoch's seat pool.
type Kickout struct {
	AccountID AccountID
	Reason    KickoutReason
	Missed    uint64
	Expected  uint64
}

// EpochInfo is the validator assignment of one epoch on one fork. It is
// computed once at the epoch boundary and never modified afterwards.
type EpochInfo struct {
	ID              Identifier
	Counter         uint64
	StartHeight     uint64
	Length          uint64
	BoundaryBlockID Identifier
	Seed            []byte

	// Validators are the eligible validators in canonical order.
	Validators StakeList
	TotalStake uint64

	// ShardSeats[s] is the ordered seat list of shard s.
	ShardSeats [][]AccountID

	// BlockProducers[i] indexes Validators for height StartHeight+i.
	BlockProducers []uint16
	// ChunkProducers[s][i] indexes ShardSeats[s] for height StartHeight+i.
	ChunkProducers [][]uint16

	Kickouts []Kickout
}

// NumShards returns the number of shards the epoch assigns seats for.
func (e *EpochInfo) NumShards() int {
	return len(e.ShardSeats)
}

// FinalHeight is the last height belonging to the epoch.
func (e *EpochInfo) FinalHeight() uint64 {
	return e.StartHeight + e.Length - 1
}

// ContainsHeight reports whether the height lies inside the epoch.
func (e *EpochInfo) ContainsHeight(height uint64) bool {
	return height >= e.StartHeight && height <= e.FinalHeight()
}

// Validator returns the stake record of an eligible validator.
func (e *EpochInfo) Validator(account AccountID) (*ValidatorStake, bool) {
	return e.Validators.ByAccount(account)
}

// IsKickedOut reports whether the account was excluded from this epoch.
func (e *EpochInfo) IsKickedOut(account AccountID) bool {
	for _, k := range e.Kickouts {
		if k.AccountID == account {
			return true
		}
	}
	return false
}

// BlockProducer returns the validator scheduled to propose the block at height.
func (e *EpochInfo) BlockProducer(height uint64) (AccountID, error) {
	if !e.ContainsHeight(height) {
		return "", NewInvalidHeightError(height, e)
	}
	idx := e.BlockProducers[height-e.StartHeight]
	return e.Validators[idx].AccountID, nil
}

// ChunkProducer returns the validator scheduled to produce the chunk of the
// given shard at height.
func (e *EpochInfo) ChunkProducer(shard ShardID, height uint64) (AccountID, error) {
	if int(shard) >= len(e.ShardSeats) {
		return "", fmt.Errorf("shard %d out of range (epoch has %d shards)", shard, len(e.ShardSeats))
	}
	if !e.ContainsHeight(height) {
		return "", NewInvalidHeightError(height, e)
	}
	idx := e.ChunkProducers[shard][height-e.StartHeight]
	return e.ShardSeats[shard][idx], nil
}

// IsSeated reports whether the account holds a seat in the given shard.
func (e *EpochInfo) IsSeated(shard ShardID, account AccountID) bool {
	if int(shard) >= len(e.ShardSeats) {
		return false
	}
	for _, seat := range e.ShardSeats[shard] {
		if seat == account {
			return true
		}
	}
	return false
}

// InvalidHeightError is returned when querying a schedule for a height
// outside of the epoch.
type InvalidHeightError struct {
	Height      uint64
	StartHeight uint64
	FinalHeight uint64
}

func NewInvalidHeightError(height uint64, epoch *EpochInfo) InvalidHeightError {
	return InvalidHeightError{
		Height:      height,
		StartHeight: epoch.StartHeight,
		FinalHeight: epoch.FinalHeight(),
	}
}

func (e InvalidHeightError) Error() string {
	return fmt.Sprintf("height %d outside of epoch range [%d-%d]", e.Height, e.StartHeight, e.FinalHeight)
}
