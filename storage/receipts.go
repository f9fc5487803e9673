package storage

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Receipts represents persistent storage for the receipt router: the queue
// state after each routed block plus the receipts each block produced and
// delivered per shard.
type Receipts interface {

	// StoreQueues persists the queue state after the given block.
	StoreQueues(blockID flow.Identifier, queues *flow.ReceiptQueues) error

	// Queues returns the queue state after the given block.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the block was not routed
	Queues(blockID flow.Identifier) (*flow.ReceiptQueues, error)

	// StoreOutgoing persists the receipts the block produced in the source shard.
	StoreOutgoing(blockID flow.Identifier, source flow.ShardID, receipts flow.ReceiptList) error

	// Outgoing returns the receipts the block produced in the source shard.
	Outgoing(blockID flow.Identifier, source flow.ShardID) (flow.ReceiptList, error)

	// StoreIncoming persists the receipts the block delivered to the destination shard.
	StoreIncoming(blockID flow.Identifier, destination flow.ShardID, receipts flow.ReceiptList) error

	// Incoming returns the receipts the block delivered to the destination shard.
	Incoming(blockID flow.Identifier, destination flow.ShardID) (flow.ReceiptList, error)
}
