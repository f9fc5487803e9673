package module

import (
	"time"

	"github.com/nightshard/shardnode/model/flow"
)

// CacheMetrics reports the behaviour of storage caches.
type CacheMetrics interface {
	// CacheEntries report the total number of cached items
	CacheEntries(resource string, entries uint)
	// CacheHit report the number of times the queried item is found in the cache
	CacheHit(resource string)
	// CacheMiss report the number of times the queried item is not found in the cache, but found in the database.
	CacheMiss(resource string)
	// CacheNotFound records the number of times the queried item was not found in either cache or database.
	CacheNotFound(resource string)
}

// EpochMetrics reports epoch transitions and validator rotation.
type EpochMetrics interface {
	// EpochComputed is called for every newly computed epoch assignment.
	EpochComputed(counter uint64, validators int, kickouts int)
	// EquivocationRecorded is called once per newly recorded equivocation.
	EquivocationRecorded()
	// EpochsPruned reports the number of epoch assignments garbage-collected.
	EpochsPruned(count int)
}

// ChunkMetrics reports the chunk validation pipeline.
type ChunkMetrics interface {
	// ChunkStateChanged is called whenever a chunk tracker moves to a new state.
	ChunkStateChanged(state flow.ChunkState)
	// ChunkPartReceived reports a received part and whether its proof verified.
	ChunkPartReceived(valid bool)
	// ChunkRejected reports a rejected chunk with the reason of rejection.
	ChunkRejected(reason string)
	// ChunkReconstructed reports the time spent to reconstruct and check a chunk body.
	ChunkReconstructed(duration time.Duration)
	// ChunkProduced reports a chunk produced by the local node.
	ChunkProduced(shard flow.ShardID, parts int)
}

// FetcherMetrics reports chunk part retrieval.
type FetcherMetrics interface {
	// PartRequestCompleted reports the outcome and duration of one request attempt.
	PartRequestCompleted(success bool, duration time.Duration)
	// FetchCancelled reports a fetch cancelled because its chunk was superseded.
	FetchCancelled()
	// InflightFetches reports the number of chunks currently being fetched.
	InflightFetches(count int)
}

// ChainMetrics reports fork choice and finality.
type ChainMetrics interface {
	// BlockSubmitted reports the outcome of a block submission.
	BlockSubmitted(status flow.BlockStatus)
	// HeadChanged reports a new canonical head and how it relates to the previous one.
	HeadChanged(height uint64, change flow.HeadChange)
	// FinalizedHeight reports the latest finalized height.
	FinalizedHeight(height uint64)
	// OrphanPoolSize reports the number of blocks waiting for their parent.
	OrphanPoolSize(size uint)
	// OrphanEvicted reports an orphan dropped from the pool.
	OrphanEvicted()
	// PendingPoolSize reports the number of blocks waiting for their chunks.
	PendingPoolSize(size uint)
	// PendingEvicted reports a pending block dropped from the pool.
	PendingEvicted()
	// BlockApplied reports the time spent to apply all shard chunks of a block.
	BlockApplied(duration time.Duration)
}

// ReceiptMetrics reports the cross-shard receipt router.
type ReceiptMetrics interface {
	// ReceiptsRouted reports the number of receipts routed after one block.
	ReceiptsRouted(count int)
	// ReceiptsDelivered reports the number of receipts delivered to a destination shard.
	ReceiptsDelivered(destination flow.ShardID, count int)
	// PendingReceipts reports the number of receipts pending for a destination shard.
	PendingReceipts(destination flow.ShardID, count int)
	// Backpressure reports a destination shard whose pending receipts exceed the configured bounds.
	Backpressure(destination flow.ShardID)
}

// EngineMetrics is a generic metrics consumer for node-internal data processing
// components (aka engines). Implementations must be non-blocking and concurrency safe.
type EngineMetrics interface {
	// MessageReceived reports that the engine received the message.
	MessageReceived(engine string, message string)
	// MessageHandled reports that the engine has finished processing the message.
	// Both invalid and valid messages should be reported.
	// A message must be reported as either handled or dropped, not both.
	MessageHandled(engine string, messages string)
	// InboundMessageDropped reports that the engine has dropped inbound message without processing it.
	// Inbound messages must be reported as either handled or dropped, not both.
	InboundMessageDropped(engine string, messages string)
	// InboundQueueLength reports the number of messages of the kind waiting
	// in the engine's inbound queue.
	InboundQueueLength(engine string, message string, length int)
}
