package badger

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/storage/badger/operation"
)

func operationRetryOnConflict(db *badger.DB, op func(*badger.Txn) error) error {
	return operation.RetryOnConflict(db.Update, op)
}
