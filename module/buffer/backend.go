package buffer

import (
	"github.com/google/btree"

	"github.com/nightshard/shardnode/model/flow"
)

// item is a buffered block.
type item struct {
	blockID flow.Identifier
	block   *flow.Block
}

func (i *item) height() uint64 { return i.block.Header.Height }

// heightKey orders buffered blocks by height, then by ID.
type heightKey struct {
	height  uint64
	blockID flow.Identifier
}

func lessHeightKey(a, b heightKey) bool {
	if a.height != b.height {
		return a.height < b.height
	}
	return a.blockID.Less(b.blockID)
}

const treeDegree = 16

// backend stores buffered blocks indexed by ID, by parent ID and by height.
// It is not concurrency safe; the pools using it hold their own lock.
type backend struct {
	byID     map[flow.Identifier]*item
	byParent map[flow.Identifier]map[flow.Identifier]*item
	byHeight *btree.BTreeG[heightKey]
}

func newBackend() *backend {
	return &backend{
		byID:     make(map[flow.Identifier]*item),
		byParent: make(map[flow.Identifier]map[flow.Identifier]*item),
		byHeight: btree.NewG(treeDegree, lessHeightKey),
	}
}

// add adds the block. Returns false if it was already buffered.
func (b *backend) add(block *flow.Block) bool {
	blockID := block.ID()
	if _, ok := b.byID[blockID]; ok {
		return false
	}
	it := &item{blockID: blockID, block: block}
	b.byID[blockID] = it
	parentID := block.Header.ParentID
	siblings, ok := b.byParent[parentID]
	if !ok {
		siblings = make(map[flow.Identifier]*item)
		b.byParent[parentID] = siblings
	}
	siblings[blockID] = it
	b.byHeight.ReplaceOrInsert(heightKey{height: it.height(), blockID: blockID})
	return true
}

func (b *backend) get(blockID flow.Identifier) (*item, bool) {
	it, ok := b.byID[blockID]
	return it, ok
}

// children returns the buffered blocks with the given parent, ordered by ID.
func (b *backend) children(parentID flow.Identifier) []*flow.Block {
	siblings, ok := b.byParent[parentID]
	if !ok {
		return nil
	}
	ids := make(flow.IdentifierList, 0, len(siblings))
	for blockID := range siblings {
		ids = append(ids, blockID)
	}
	ids = ids.Sorted()
	blocks := make([]*flow.Block, 0, len(ids))
	for _, blockID := range ids {
		blocks = append(blocks, siblings[blockID].block)
	}
	return blocks
}

// remove removes the block. Returns false if it was not buffered.
func (b *backend) remove(blockID flow.Identifier) bool {
	it, ok := b.byID[blockID]
	if !ok {
		return false
	}
	delete(b.byID, blockID)
	parentID := it.block.Header.ParentID
	siblings := b.byParent[parentID]
	delete(siblings, blockID)
	if len(siblings) == 0 {
		delete(b.byParent, parentID)
	}
	b.byHeight.Delete(heightKey{height: it.height(), blockID: blockID})
	return true
}

// below returns the IDs of the buffered blocks with height strictly below
// the given height, lowest first.
func (b *backend) below(height uint64) flow.IdentifierList {
	var ids flow.IdentifierList
	b.byHeight.AscendLessThan(heightKey{height: height}, func(key heightKey) bool {
		ids = append(ids, key.blockID)
		return true
	})
	return ids
}

// highest returns the buffered block with the greatest height, ties broken
// by the greater ID.
func (b *backend) highest() (flow.Identifier, bool) {
	key, ok := b.byHeight.Max()
	return key.blockID, ok
}

func (b *backend) size() uint {
	return uint(len(b.byID))
}
