package mempool

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Mempool is a generic interface for concurrency-safe memory pool.
type Mempool[K comparable, V any] interface {
	// Has checks if a value is stored under the given key.
	Has(K) bool
	// Get returns the value for the given key.
	// Returns true if the key-value pair exists, and false otherwise.
	Get(K) (V, bool)
	// Add attempts to add the given value, without overwriting existing data.
	// If a value is already stored under the input key, Add is a no-op and returns false.
	Add(K, V) bool
	// Remove removes the value with the given key. Returns false if it was not stored.
	Remove(K) bool
	// Size will return the size of the mempool.
	Size() uint
	// All returns all stored values.
	All() []V
}

// Approvals holds the approvals received for blocks a block producer may
// build on.
type Approvals interface {
	// Add adds the approval. Returns false if it is already stored.
	Add(approval *flow.Approval) bool
	// ByBlockID returns the approvals for the block, ordered by validator.
	ByBlockID(blockID flow.Identifier) []*flow.Approval
	// PruneUpToHeight removes the approvals for blocks at or below the height.
	PruneUpToHeight(height uint64) int
	Size() uint
}

// ChunkHeaders holds validated chunk headers waiting to be included in a block.
type ChunkHeaders interface {
	// Add adds the header. Returns false if it is already stored.
	Add(header *flow.ChunkHeader) bool
	// ByParent returns a header of the shard built on the given block.
	ByParent(parentID flow.Identifier, shard flow.ShardID) (*flow.ChunkHeader, bool)
	// Remove removes the chunk. Returns false if it was not stored.
	Remove(chunkID flow.Identifier) bool
	// PruneUpToHeight removes the headers at or below the height.
	PruneUpToHeight(height uint64) int
	Size() uint
}
