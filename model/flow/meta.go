package flow

// BlockMeta is the chain's bookkeeping for a block it has seen. It is indexed
// by block ID next to the block itself.
type BlockMeta struct {
	Status   BlockStatus
	Height   uint64
	ParentID Identifier

	// Score is the cumulative approval stake from genesis to this block.
	Score uint64
	// ApprovalStake is the stake of the approvals this block carries for its parent.
	ApprovalStake uint64
	// Quorum records whether ApprovalStake exceeds the quorum fraction of the
	// parent epoch's total stake.
	Quorum bool

	// StateRoots and OutgoingRoots hold, per shard, the post-state root and the
	// root of the receipts produced at this height. Only set once accepted.
	StateRoots    []Identifier
	OutgoingRoots []Identifier

	InvalidReason string
}

// EpochBlock is the epoch manager's record of an accepted block.
type EpochBlock struct {
	BlockID  Identifier
	ParentID Identifier
	Height   uint64
	EpochID  Identifier

	// Performance holds the counters of the block's epoch accumulated along
	// its fork, up to and including this block.
	Performance []PerformanceEntry
	// Proposals are the stake changes the block carries for the next epoch.
	Proposals []ValidatorStake
}

// EquivocationRecord identifies one duty slot a validator equivocated on.
type EquivocationRecord struct {
	EpochID   Identifier
	AccountID AccountID
	ShardID   ShardID
	Height    uint64
}
