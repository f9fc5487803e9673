package module

import (
	"github.com/nightshard/shardnode/model/flow"
)

// ApplyResult is the outcome of executing a chunk's inputs on a shard state.
type ApplyResult struct {
	StateRoot flow.Identifier
	// Outgoing are the receipts produced for other shards, in production order.
	// The runtime leaves their production fields (height, index, block, nonce) unset.
	Outgoing []*flow.Receipt
	GasUsed  uint64
}

// Runtime is the execution engine. Apply must be total and deterministic:
// the same inputs always produce the same result. Errors are reserved for
// failures of the underlying storage and are treated as fatal.
type Runtime interface {
	Apply(shard flow.ShardID, priorRoot flow.Identifier, txs []*flow.Transaction, incoming []*flow.Receipt) (*ApplyResult, error)
}
