package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// Receipts implements the receipt router's storage. Queue states are
// immutable per block and cached, since the router reads the parent's state
// for every routed block.
type Receipts struct {
	db     *badger.DB
	queues *Cache[flow.Identifier, *flow.ReceiptQueues]
}

var _ storage.Receipts = (*Receipts)(nil)

func NewReceipts(collector module.CacheMetrics, db *badger.DB) *Receipts {

	store := func(blockID flow.Identifier, queues *flow.ReceiptQueues) func(*badger.Txn) error {
		return operation.SkipDuplicates(operation.InsertReceiptQueues(blockID, queues))
	}
	retrieve := func(blockID flow.Identifier) func(*badger.Txn) (*flow.ReceiptQueues, error) {
		return func(tx *badger.Txn) (*flow.ReceiptQueues, error) {
			var queues flow.ReceiptQueues
			err := operation.RetrieveReceiptQueues(blockID, &queues)(tx)
			return &queues, err
		}
	}

	r := &Receipts{
		db: db,
		queues: newCache(collector, metrics.ResourceReceiptQueues,
			withLimit[flow.Identifier, *flow.ReceiptQueues](256),
			withStore(store),
			withRetrieve(retrieve)),
	}
	return r
}

func (r *Receipts) StoreQueues(blockID flow.Identifier, queues *flow.ReceiptQueues) error {
	err := r.queues.Put(r.db, blockID, queues)
	if err != nil {
		return fmt.Errorf("could not store receipt queues: %w", err)
	}
	return nil
}

func (r *Receipts) Queues(blockID flow.Identifier) (*flow.ReceiptQueues, error) {
	tx := r.db.NewTransaction(false)
	defer tx.Discard()
	return r.queues.Get(blockID)(tx)
}

func (r *Receipts) StoreOutgoing(blockID flow.Identifier, source flow.ShardID, receipts flow.ReceiptList) error {
	return operation.RetryOnConflict(r.db.Update, operation.SkipDuplicates(operation.InsertOutgoingReceipts(blockID, source, receipts)))
}

func (r *Receipts) Outgoing(blockID flow.Identifier, source flow.ShardID) (flow.ReceiptList, error) {
	var receipts flow.ReceiptList
	err := r.db.View(operation.RetrieveOutgoingReceipts(blockID, source, &receipts))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve outgoing receipts: %w", err)
	}
	return receipts, nil
}

func (r *Receipts) StoreIncoming(blockID flow.Identifier, destination flow.ShardID, receipts flow.ReceiptList) error {
	return operation.RetryOnConflict(r.db.Update, operation.SkipDuplicates(operation.InsertIncomingReceipts(blockID, destination, receipts)))
}

func (r *Receipts) Incoming(blockID flow.Identifier, destination flow.ShardID) (flow.ReceiptList, error) {
	var receipts flow.ReceiptList
	err := r.db.View(operation.RetrieveIncomingReceipts(blockID, destination, &receipts))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve incoming receipts: %w", err)
	}
	return receipts, nil
}
