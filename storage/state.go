package storage

import (
	"github.com/nightshard/shardnode/model/flow"
)

// StateStore is the shard state storage engine the execution runtime writes
// through. States are immutable snapshots addressed by root: Commit derives a
// new root from a prior one, leaving the prior state readable.
type StateStore interface {

	// Get returns the value of key in the shard state with the given root.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the key is not set in that state
	Get(shard flow.ShardID, root flow.Identifier, key []byte) ([]byte, error)

	// Commit applies the writes on top of the prior root and returns the new root.
	// A nil value deletes the key.
	Commit(shard flow.ShardID, priorRoot flow.Identifier, writes map[string][]byte) (flow.Identifier, error)
}
