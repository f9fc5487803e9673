// Package chunks produces erasure-coded chunks and validates the chunks of
// other producers from the parts received for them.
package chunks

import (
	"github.com/nightshard/shardnode/model/flow"
)

// ShardSnapshot is a shard's state after an accepted block.
type ShardSnapshot struct {
	Height       uint64
	StateRoot    flow.Identifier
	OutgoingRoot flow.Identifier
}

// ChainReader gives access to the per-shard state of accepted blocks.
type ChainReader interface {
	// ShardSnapshot returns the shard's state after the given block.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the block is not accepted
	ShardSnapshot(blockID flow.Identifier, shard flow.ShardID) (*ShardSnapshot, error)
}

// ReceiptSource yields the receipts a chunk must consume.
type ReceiptSource interface {
	// Drain returns the receipts deliverable to the shard by the chunk at
	// height built on the given parent block, in delivery order.
	Drain(parentID flow.Identifier, shard flow.ShardID, height uint64) (flow.ReceiptList, error)
}

// EpochSource resolves the validator assignment chunks are checked against.
type EpochSource interface {
	EpochForNewBlock(parentID flow.Identifier) (flow.Identifier, error)
	EpochInfo(epochID flow.Identifier) (*flow.EpochInfo, error)
	RecordEquivocation(epochID flow.Identifier, validator flow.AccountID, shard flow.ShardID, height uint64) (bool, error)
}

// ResolutionConsumer is notified when a chunk reaches a terminal state.
type ResolutionConsumer func(chunkID flow.Identifier, state flow.ChunkState)

// StampOutgoing returns copies of the receipts a runtime produced for the
// shard's chunk at height, with their production fields set.
func StampOutgoing(shard flow.ShardID, height uint64, produced []*flow.Receipt) flow.ReceiptList {
	stamped := make(flow.ReceiptList, 0, len(produced))
	for i, receipt := range produced {
		r := receipt.Copy()
		r.SourceShard = shard
		r.ProducedHeight = height
		r.Index = uint32(i)
		r.SourceBlockID = flow.ZeroID
		r.Nonce = 0
		stamped = append(stamped, r)
	}
	return stamped
}

// checkOutgoing verifies that the outgoing receipts are stamped for the
// chunk and match the header's commitment.
func checkOutgoing(header *flow.ChunkHeader, outgoing flow.ReceiptList) bool {
	for i, r := range outgoing {
		if r == nil || r.SourceShard != header.ShardID || r.ProducedHeight != header.Height || r.Index != uint32(i) {
			return false
		}
		if r.Nonce != 0 || r.SourceBlockID != flow.ZeroID {
			return false
		}
	}
	return outgoing.Root() == header.OutgoingReceiptsRoot
}
