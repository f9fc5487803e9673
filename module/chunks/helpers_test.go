package chunks_test

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/chunks"
	modulemock "github.com/nightshard/shardnode/module/mock"
	"github.com/nightshard/shardnode/storage"
)

// chainStub serves the shard snapshots of a fixed set of accepted blocks.
type chainStub struct {
	snapshots map[flow.Identifier][]*chunks.ShardSnapshot
}

func (c *chainStub) ShardSnapshot(blockID flow.Identifier, shard flow.ShardID) (*chunks.ShardSnapshot, error) {
	shards, ok := c.snapshots[blockID]
	if !ok || int(shard) >= len(shards) {
		return nil, storage.ErrNotFound
	}
	return shards[shard], nil
}

// receiptsStub returns the configured deliverable receipts.
type receiptsStub struct {
	mu       sync.Mutex
	incoming map[flow.ShardID]flow.ReceiptList
}

func (r *receiptsStub) Drain(_ flow.Identifier, shard flow.ShardID, _ uint64) (flow.ReceiptList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incoming[shard], nil
}

// applyFunc executes transactions by hashing them into the new state root and
// emitting one receipt per transaction that targets another shard.
func applyFunc(shard flow.ShardID, prior flow.Identifier, txs []*flow.Transaction, incoming []*flow.Receipt) *module.ApplyResult {
	result := &module.ApplyResult{
		StateRoot: flow.MakeID(struct {
			Prior    flow.Identifier
			Txs      flow.IdentifierList
			Incoming flow.IdentifierList
		}{prior, flow.GetIDs(txs), flow.GetIDs(incoming)}),
	}
	for _, tx := range txs {
		if tx.ReceiverShard == shard {
			continue
		}
		result.Outgoing = append(result.Outgoing, &flow.Receipt{
			DestinationShard: tx.ReceiverShard,
			OriginTxID:       tx.ID(),
			Payload:          tx.Payload,
		})
		result.GasUsed++
	}
	return result
}

func runtimeMock() *modulemock.Runtime {
	runtime := &modulemock.Runtime{}
	runtime.On("Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(applyFunc, nil)
	return runtime
}
