// Package receipts routes cross-shard receipts from the chunks producing them
// to the chunks of their destination shards.
package receipts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/state"
	"github.com/nightshard/shardnode/storage"
)

// ShardReceipts are the receipts one shard's chunk consumed and produced in a
// block. Both are empty for a missing chunk.
type ShardReceipts struct {
	Incoming flow.ReceiptList
	Outgoing flow.ReceiptList
}

// Router maintains, per block, the queues of receipts pending delivery to
// each shard. The state after a block is derived from the state after its
// parent, so every fork has its own queues. Receipts are delivered in the
// order they were produced along each source→destination pair.
type Router struct {
	log      zerolog.Logger
	cfg      config.ProtocolConfig
	metrics  module.ReceiptMetrics
	receipts storage.Receipts

	// serializes routing so each block is routed once
	mu sync.Mutex
}

func NewRouter(log zerolog.Logger, cfg config.ProtocolConfig, metrics module.ReceiptMetrics, receipts storage.Receipts) *Router {
	return &Router{
		log:      log.With().Str("component", "receipt_router").Logger(),
		cfg:      cfg,
		metrics:  metrics,
		receipts: receipts,
	}
}

// Bootstrap stores the empty queues after the genesis block.
func (r *Router) Bootstrap(genesis *flow.BlockHeader) error {
	err := r.receipts.StoreQueues(genesis.ID(), flow.NewReceiptQueues(r.cfg.NumShards, genesis.Height))
	if err != nil {
		return fmt.Errorf("could not store genesis receipt queues: %w", err)
	}
	return nil
}

// Queues returns the queue state after the given block.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the block was not routed
func (r *Router) Queues(blockID flow.Identifier) (*flow.ReceiptQueues, error) {
	queues, err := r.receipts.Queues(blockID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("block %x: %w", blockID, ErrUnknownBlock)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get receipt queues after %x: %w", blockID, err)
	}
	return queues, nil
}

// Drain returns the receipts the shard's chunk at height, built on the given
// parent, must consume: the oldest receipts pending for the shard, at most
// MaxReceiptsPerChunk of them.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the parent was not routed
func (r *Router) Drain(parentID flow.Identifier, shard flow.ShardID, height uint64) (flow.ReceiptList, error) {
	queues, err := r.Queues(parentID)
	if err != nil {
		return nil, err
	}
	if int(shard) >= len(queues.Pending) {
		return nil, fmt.Errorf("shard %d out of range", shard)
	}
	if height <= queues.Height {
		return nil, fmt.Errorf("height %d does not follow routed height %d", height, queues.Height)
	}
	var deliverable flow.ReceiptList
	for _, receipt := range queues.Pending[shard] {
		if uint(len(deliverable)) >= r.cfg.MaxReceiptsPerChunk {
			break
		}
		deliverable = append(deliverable, receipt)
	}
	return deliverable, nil
}

// Route derives the queue state after the block from the state after its
// parent: the receipts each shard consumed are removed from its queue, and
// the receipts each shard produced are stamped with the block ID and their
// pair nonce and appended to their destination queues. They become
// deliverable at the next height. Routing a block twice is a no-op.
//
// The returned error may wrap BackpressureErrors for shards whose queues
// exceed the configured bounds; the block is routed regardless.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the parent was not routed
//   - BackpressureError (possibly several, aggregated) as a liveness warning
//   - state.ProtocolViolationError if a shard consumed receipts out of order
func (r *Router) Route(parentID, blockID flow.Identifier, height uint64, shards []ShardReceipts) (*flow.ReceiptQueues, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.receipts.Queues(blockID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not check receipt queues after %x: %w", blockID, err)
	}

	parent, err := r.Queues(parentID)
	if err != nil {
		return nil, err
	}
	if len(shards) != len(parent.Pending) {
		return nil, fmt.Errorf("routing %d shards, expected %d", len(shards), len(parent.Pending))
	}
	if height != parent.Height+1 {
		return nil, fmt.Errorf("block height %d does not follow routed height %d", height, parent.Height)
	}

	next := parent.Copy()
	next.Height = height
	for dest, shard := range shards {
		err = deliver(next, flow.ShardID(dest), shard.Incoming)
		if err != nil {
			return nil, err
		}
	}
	outgoing := make([]flow.ReceiptList, len(shards))
	routed := 0
	for source, shard := range shards {
		outgoing[source], err = enqueue(next, blockID, flow.ShardID(source), height, shard.Outgoing)
		if err != nil {
			return nil, err
		}
		routed += len(outgoing[source])
	}

	for shard := range shards {
		if len(outgoing[shard]) > 0 {
			err = r.receipts.StoreOutgoing(blockID, flow.ShardID(shard), outgoing[shard])
			if err != nil {
				return nil, fmt.Errorf("could not store outgoing receipts of shard %d: %w", shard, err)
			}
		}
		if len(shards[shard].Incoming) > 0 {
			err = r.receipts.StoreIncoming(blockID, flow.ShardID(shard), shards[shard].Incoming)
			if err != nil {
				return nil, fmt.Errorf("could not store incoming receipts of shard %d: %w", shard, err)
			}
		}
	}
	// the queue state is stored last, it marks the block as routed
	err = r.receipts.StoreQueues(blockID, next)
	if err != nil {
		return nil, fmt.Errorf("could not store receipt queues after %x: %w", blockID, err)
	}

	r.metrics.ReceiptsRouted(routed)
	for shard := range shards {
		r.metrics.ReceiptsDelivered(flow.ShardID(shard), len(shards[shard].Incoming))
		r.metrics.PendingReceipts(flow.ShardID(shard), len(next.Pending[shard]))
	}
	return next, r.backpressure(next)
}

// deliver removes the consumed receipts from the head of the destination's
// queue. They must be exactly the oldest pending receipts.
func deliver(queues *flow.ReceiptQueues, dest flow.ShardID, consumed flow.ReceiptList) error {
	pending := queues.Pending[dest]
	if len(consumed) > len(pending) {
		return state.NewProtocolViolationErrorf("shard %d consumed %d receipts, %d are pending", dest, len(consumed), len(pending))
	}
	for i, receipt := range consumed {
		if receipt.ID() != pending[i].ID() {
			return state.NewProtocolViolationErrorf("shard %d consumed receipt %x out of order", dest, receipt.ID())
		}
		source := receipt.SourceShard
		if receipt.Nonce != queues.Delivered[source][dest]+1 {
			return state.NewProtocolViolationErrorf("receipt %d→%d with nonce %d delivered after nonce %d", source, dest, receipt.Nonce, queues.Delivered[source][dest])
		}
		queues.Delivered[source][dest] = receipt.Nonce
	}
	queues.Pending[dest] = pending[len(consumed):]
	return nil
}

// enqueue stamps the produced receipts and appends them to their
// destination queues. Returns the stamped receipts.
func enqueue(queues *flow.ReceiptQueues, blockID flow.Identifier, source flow.ShardID, height uint64, produced flow.ReceiptList) (flow.ReceiptList, error) {
	stamped := make(flow.ReceiptList, 0, len(produced))
	for _, receipt := range produced {
		dest := receipt.DestinationShard
		if int(dest) >= len(queues.Pending) {
			return nil, state.NewProtocolViolationErrorf("receipt produced by shard %d targets unknown shard %d", source, dest)
		}
		if receipt.SourceShard != source || receipt.ProducedHeight != height {
			return nil, state.NewProtocolViolationErrorf("receipt stamped for shard %d at height %d routed from shard %d at height %d", receipt.SourceShard, receipt.ProducedHeight, source, height)
		}
		r := receipt.Copy()
		r.SourceBlockID = blockID
		r.Nonce = queues.Assigned[source][dest] + 1
		queues.Assigned[source][dest] = r.Nonce
		queues.Pending[dest] = append(queues.Pending[dest], r)
		stamped = append(stamped, r)
	}
	return stamped, nil
}

// backpressure reports the destination shards whose queues exceed the
// configured bounds.
func (r *Router) backpressure(queues *flow.ReceiptQueues) error {
	var errs *multierror.Error
	for shard, pending := range queues.Pending {
		if len(pending) == 0 {
			continue
		}
		oldest := pending[0].ProducedHeight
		if uint(len(pending)) <= r.cfg.MaxPendingPerShard && queues.Height-oldest <= r.cfg.BackpressureDistance {
			continue
		}
		r.metrics.Backpressure(flow.ShardID(shard))
		r.log.Warn().
			Uint32("shard", uint32(shard)).
			Int("pending", len(pending)).
			Uint64("oldest_height", oldest).
			Uint64("height", queues.Height).
			Msg("receipt backpressure")
		errs = multierror.Append(errs, BackpressureError{
			Shard:        flow.ShardID(shard),
			Pending:      len(pending),
			OldestHeight: oldest,
			Height:       queues.Height,
		})
	}
	return errs.ErrorOrNil()
}

// Incoming returns the receipts the block delivered to the shard. A block
// that delivered nothing to the shard yields an empty list.
func (r *Router) Incoming(blockID flow.Identifier, shard flow.ShardID) (flow.ReceiptList, error) {
	receipts, err := r.receipts.Incoming(blockID, shard)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return receipts, err
}

// Outgoing returns the stamped receipts the shard produced in the block. A
// block in which the shard produced nothing yields an empty list.
func (r *Router) Outgoing(blockID flow.Identifier, shard flow.ShardID) (flow.ReceiptList, error) {
	receipts, err := r.receipts.Outgoing(blockID, shard)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return receipts, err
}
