package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
)

func InsertReceiptQueues(blockID flow.Identifier, queues *flow.ReceiptQueues) func(*badger.Txn) error {
	return insert(makePrefix(codeReceiptQueues, blockID), queues)
}

func RetrieveReceiptQueues(blockID flow.Identifier, queues *flow.ReceiptQueues) func(*badger.Txn) error {
	return retrieve(makePrefix(codeReceiptQueues, blockID), queues)
}

// InsertOutgoingReceipts stores the receipts a block produced, indexed by source shard.
func InsertOutgoingReceipts(blockID flow.Identifier, source flow.ShardID, receipts flow.ReceiptList) func(*badger.Txn) error {
	return insert(makePrefix(codeOutgoingReceipts, blockID, source), receipts)
}

func RetrieveOutgoingReceipts(blockID flow.Identifier, source flow.ShardID, receipts *flow.ReceiptList) func(*badger.Txn) error {
	return retrieve(makePrefix(codeOutgoingReceipts, blockID, source), receipts)
}

// InsertIncomingReceipts stores the receipts a block delivered, indexed by destination shard.
func InsertIncomingReceipts(blockID flow.Identifier, destination flow.ShardID, receipts flow.ReceiptList) func(*badger.Txn) error {
	return insert(makePrefix(codeIncomingReceipts, blockID, destination), receipts)
}

func RetrieveIncomingReceipts(blockID flow.Identifier, destination flow.ShardID, receipts *flow.ReceiptList) func(*badger.Txn) error {
	return retrieve(makePrefix(codeIncomingReceipts, blockID, destination), receipts)
}
