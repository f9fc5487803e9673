package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
)

func InsertBlock(blockID flow.Identifier, block *flow.Block) func(*badger.Txn) error {
	return insert(makePrefix(codeBlock, blockID), block)
}

func RetrieveBlock(blockID flow.Identifier, block *flow.Block) func(*badger.Txn) error {
	return retrieve(makePrefix(codeBlock, blockID), block)
}

func BlockExists(blockID flow.Identifier, blockExists *bool) func(*badger.Txn) error {
	return exists(makePrefix(codeBlock, blockID), blockExists)
}

// UpsertBlockMeta stores the chain's bookkeeping for a block, replacing the
// previous record. Status transitions are validated by the caller.
func UpsertBlockMeta(blockID flow.Identifier, meta *flow.BlockMeta) func(*badger.Txn) error {
	return upsert(makePrefix(codeBlockMeta, blockID), meta)
}

func RetrieveBlockMeta(blockID flow.Identifier, meta *flow.BlockMeta) func(*badger.Txn) error {
	return retrieve(makePrefix(codeBlockMeta, blockID), meta)
}

// IndexBlockChild indexes a block by its parent, so that all children of a
// block can be looked up.
func IndexBlockChild(parentID flow.Identifier, childID flow.Identifier) func(*badger.Txn) error {
	return insert(makePrefix(codeBlockChild, parentID, childID), childID)
}

// LookupBlockChildren retrieves the IDs of all indexed children of the block.
func LookupBlockChildren(parentID flow.Identifier, childIDs *[]flow.Identifier) func(*badger.Txn) error {
	return traverse(makePrefix(codeBlockChild, parentID), lookup(childIDs))
}

func InsertFinalizedHeight(height uint64) func(*badger.Txn) error {
	return insert(makePrefix(codeFinalizedHeight), height)
}

func UpdateFinalizedHeight(height uint64) func(*badger.Txn) error {
	return update(makePrefix(codeFinalizedHeight), height)
}

func RetrieveFinalizedHeight(height *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeFinalizedHeight), height)
}

// IndexFinalizedBlock indexes the finalized block at the given height.
func IndexFinalizedBlock(height uint64, blockID flow.Identifier) func(*badger.Txn) error {
	return insert(makePrefix(codeFinalizedAtHeight, height), blockID)
}

func LookupFinalizedBlock(height uint64, blockID *flow.Identifier) func(*badger.Txn) error {
	return retrieve(makePrefix(codeFinalizedAtHeight, height), blockID)
}

func UpsertHead(blockID flow.Identifier) func(*badger.Txn) error {
	return upsert(makePrefix(codeHeadBlock), blockID)
}

func RetrieveHead(blockID *flow.Identifier) func(*badger.Txn) error {
	return retrieve(makePrefix(codeHeadBlock), blockID)
}
