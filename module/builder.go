package module

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Builder assembles new blocks on top of accepted blocks.
type Builder interface {

	// BuildOn creates a block on top of the given accepted parent, filling its
	// chunk slots and approvals from the memory pools. The setter may adjust
	// the header before it is signed with sign.
	//
	// # Errors
	// Returns builder.ErrNotProposer if the signing node is not scheduled to
	// propose at the block's height, and passes through errors returned by
	// `setter` and `sign`.
	BuildOn(parentID flow.Identifier, setter func(*flow.BlockHeader) error, sign func(*flow.BlockHeader) error) (*flow.Block, error)
}
