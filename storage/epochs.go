package storage

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Epochs represents persistent storage for epoch assignments and the per-block
// records the epoch manager aggregates performance from.
type Epochs interface {

	// StoreEpoch persists the epoch info together with the full stake snapshot
	// it was computed from. Storing an epoch twice is a no-op.
	StoreEpoch(epoch *flow.EpochInfo, snapshot flow.StakeList) error

	// ByID returns the epoch with the given ID.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the epoch is unknown
	ByID(epochID flow.Identifier) (*flow.EpochInfo, error)

	// Snapshot returns the stake snapshot the epoch was computed from.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the epoch is unknown
	Snapshot(epochID flow.Identifier) (flow.StakeList, error)

	// IDsByCounter returns the IDs of all stored epochs with the given counter.
	IDsByCounter(counter uint64) (flow.IdentifierList, error)

	// Counters returns the counters of all stored epochs, in ascending order.
	Counters() ([]uint64, error)

	// RemoveEpoch deletes the epoch and its snapshot.
	RemoveEpoch(epoch *flow.EpochInfo) error

	// StoreBlock persists the epoch manager's record of an accepted block.
	StoreBlock(record *flow.EpochBlock) error

	// Block returns the record of the given block.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the block was never added
	Block(blockID flow.Identifier) (*flow.EpochBlock, error)

	// RecordEquivocation persists the equivocation. Returns false if the same
	// duty slot was already recorded for the validator.
	RecordEquivocation(record flow.EquivocationRecord) (bool, error)

	// Equivocations returns all equivocations recorded for the epoch.
	Equivocations(epochID flow.Identifier) ([]flow.EquivocationRecord, error)
}
