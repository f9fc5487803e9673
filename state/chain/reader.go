package chain

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// Reader gives read access to the chain bookkeeping persisted by State. The
// chunk pipeline reads the shard state of accepted blocks through it.
type Reader struct {
	db    *badger.DB
	metas *lru.Cache[flow.Identifier, *flow.BlockMeta]
}

var _ chunks.ChainReader = (*Reader)(nil)

func NewReader(db *badger.DB) *Reader {
	metas, _ := lru.New[flow.Identifier, *flow.BlockMeta](4096)
	return &Reader{db: db, metas: metas}
}

// Meta returns the chain's record of an accepted or invalid block.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the block was never accepted or found invalid
func (r *Reader) Meta(blockID flow.Identifier) (*flow.BlockMeta, error) {
	if meta, ok := r.metas.Get(blockID); ok {
		return meta, nil
	}
	var meta flow.BlockMeta
	err := r.db.View(operation.RetrieveBlockMeta(blockID, &meta))
	if err != nil {
		return nil, err
	}
	// accepted and invalid records never change
	r.metas.Add(blockID, &meta)
	return &meta, nil
}

// accepted returns the record of an accepted block.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the block is not accepted
func (r *Reader) accepted(blockID flow.Identifier) (*flow.BlockMeta, error) {
	meta, err := r.Meta(blockID)
	if err != nil {
		return nil, err
	}
	if meta.Status != flow.BlockAccepted {
		return nil, fmt.Errorf("block %x is %s: %w", blockID, meta.Status, storage.ErrNotFound)
	}
	return meta, nil
}

func (r *Reader) ShardSnapshot(blockID flow.Identifier, shard flow.ShardID) (*chunks.ShardSnapshot, error) {
	meta, err := r.accepted(blockID)
	if err != nil {
		return nil, err
	}
	if int(shard) >= len(meta.StateRoots) {
		return nil, fmt.Errorf("shard %d out of range", shard)
	}
	return &chunks.ShardSnapshot{
		Height:       meta.Height,
		StateRoot:    meta.StateRoots[shard],
		OutgoingRoot: meta.OutgoingRoots[shard],
	}, nil
}

// StateRoot returns the shard's state root after the accepted block.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the block is not accepted
func (r *Reader) StateRoot(blockID flow.Identifier, shard flow.ShardID) (flow.Identifier, error) {
	snapshot, err := r.ShardSnapshot(blockID, shard)
	if err != nil {
		return flow.ZeroID, err
	}
	return snapshot.StateRoot, nil
}

// FinalizedAt returns the ID of the finalized block at the given height.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the height is not finalized
func (r *Reader) FinalizedAt(height uint64) (flow.Identifier, error) {
	var blockID flow.Identifier
	err := r.db.View(operation.LookupFinalizedBlock(height, &blockID))
	return blockID, err
}

// Children returns the IDs of the accepted children of a block.
func (r *Reader) Children(blockID flow.Identifier) (flow.IdentifierList, error) {
	var children []flow.Identifier
	err := r.db.View(operation.LookupBlockChildren(blockID, &children))
	if err != nil {
		return nil, fmt.Errorf("could not look up children of %x: %w", blockID, err)
	}
	return children, nil
}

// ancestorAt returns the ID of the ancestor of the accepted block at the
// given height, walking parent links.
func (r *Reader) ancestorAt(blockID flow.Identifier, height uint64) (flow.Identifier, error) {
	meta, err := r.accepted(blockID)
	if err != nil {
		return flow.ZeroID, err
	}
	if meta.Height < height {
		return flow.ZeroID, fmt.Errorf("block %x at height %d is below height %d", blockID, meta.Height, height)
	}
	for meta.Height > height {
		blockID = meta.ParentID
		meta, err = r.accepted(blockID)
		if err != nil {
			return flow.ZeroID, fmt.Errorf("could not walk to ancestor: %w", err)
		}
	}
	return blockID, nil
}

// head returns the ID of the persisted canonical head.
func (r *Reader) head() (flow.Identifier, error) {
	var headID flow.Identifier
	err := r.db.View(operation.RetrieveHead(&headID))
	if errors.Is(err, storage.ErrNotFound) {
		return flow.ZeroID, ErrNotBootstrapped
	}
	return headID, err
}

func (r *Reader) finalizedHeight() (uint64, error) {
	var height uint64
	err := r.db.View(operation.RetrieveFinalizedHeight(&height))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrNotBootstrapped
	}
	return height, err
}
