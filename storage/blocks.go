package storage

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Blocks represents persistent storage for blocks, indexed by block ID.
type Blocks interface {

	// Store persists the block. Storing a block twice is a no-op.
	Store(block *flow.Block) error

	// ByID returns the block with the given ID.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if no block with the given ID is known
	ByID(blockID flow.Identifier) (*flow.Block, error)

	// Exists returns whether a block with the given ID is stored.
	Exists(blockID flow.Identifier) (bool, error)
}
