package operation

import (
	"errors"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/storage"
)

// SkipDuplicates turns storage.ErrAlreadyExists into a no-op.
func SkipDuplicates(op func(*badger.Txn) error) func(tx *badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := op(tx)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		return err
	}
}

// RetryOnConflict re-runs the transaction while badger reports a conflict
// with a concurrent transaction.
func RetryOnConflict(action func(func(*badger.Txn) error) error, op func(tx *badger.Txn) error) error {
	for {
		err := action(op)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

// Chain composes the given operations into one, stopping at the first error.
func Chain(ops ...func(*badger.Txn) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		for _, op := range ops {
			err := op(tx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}
