package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
)

// InsertStateParent links a shard state root to the root it was derived from.
func InsertStateParent(shard flow.ShardID, root flow.Identifier, parent flow.Identifier) func(*badger.Txn) error {
	return insert(makePrefix(codeStateParent, shard, root), parent)
}

func RetrieveStateParent(shard flow.ShardID, root flow.Identifier, parent *flow.Identifier) func(*badger.Txn) error {
	return retrieve(makePrefix(codeStateParent, shard, root), parent)
}

// InsertStateValue stores the value written to key by the state with the
// given root. A nil value marks the key as deleted in that state.
func InsertStateValue(shard flow.ShardID, root flow.Identifier, key []byte, value []byte) func(*badger.Txn) error {
	return insert(makePrefix(codeStateValue, shard, root, key), stateValue{Value: value, Deleted: value == nil})
}

// RetrieveStateValue retrieves the value written to key by the state with the
// given root. deleted is set if that state deleted the key.
func RetrieveStateValue(shard flow.ShardID, root flow.Identifier, key []byte, value *[]byte, deleted *bool) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var v stateValue
		err := retrieve(makePrefix(codeStateValue, shard, root, key), &v)(tx)
		if err != nil {
			return err
		}
		*value = v.Value
		*deleted = v.Deleted
		return nil
	}
}

type stateValue struct {
	Value   []byte
	Deleted bool
}
