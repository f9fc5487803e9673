package buffer

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

// PendingBlocks holds blocks whose parent is accepted but whose chunk
// headers are not all resolved yet. Blocks are indexed by the chunks they
// wait for and released once none is left. Like the orphan pool it is
// bounded, evicting the highest blocks first, and pruned by distance from
// the canonical head.
// PendingBlocks is safe for concurrent use.
type PendingBlocks struct {
	mu       sync.RWMutex
	backend  *backend
	limit    uint
	distance uint64
	metrics  module.ChainMetrics
	// block ID -> chunks the block still waits for
	waiting map[flow.Identifier]map[flow.Identifier]struct{}
	// chunk ID -> blocks waiting for it
	byChunk map[flow.Identifier]map[flow.Identifier]struct{}
}

// NewPendingBlocks creates a pool holding at most limit blocks. Blocks more
// than distance heights below the canonical head are dropped by Prune.
func NewPendingBlocks(limit uint, distance uint64, metrics module.ChainMetrics) *PendingBlocks {
	return &PendingBlocks{
		backend:  newBackend(),
		limit:    limit,
		distance: distance,
		metrics:  metrics,
		waiting:  make(map[flow.Identifier]map[flow.Identifier]struct{}),
		byChunk:  make(map[flow.Identifier]map[flow.Identifier]struct{}),
	}
}

// Add buffers the block until the given chunks are resolved. If the pool
// overflows, the highest blocks are evicted and returned, which may include
// the added block itself. Returns false if the block was already buffered.
func (b *PendingBlocks) Add(block *flow.Block, chunkIDs flow.IdentifierList) ([]*flow.Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.backend.add(block) {
		return nil, false
	}
	blockID := block.ID()
	chunks := make(map[flow.Identifier]struct{}, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		chunks[chunkID] = struct{}{}
		blocks, ok := b.byChunk[chunkID]
		if !ok {
			blocks = make(map[flow.Identifier]struct{})
			b.byChunk[chunkID] = blocks
		}
		blocks[blockID] = struct{}{}
	}
	b.waiting[blockID] = chunks

	var evicted []*flow.Block
	for b.backend.size() > b.limit {
		highestID, _ := b.backend.highest()
		it, _ := b.backend.get(highestID)
		evicted = append(evicted, it.block)
		b.removeLocked(highestID)
		b.metrics.PendingEvicted()
	}
	b.metrics.PendingPoolSize(b.backend.size())
	return evicted, true
}

func (b *PendingBlocks) ByID(blockID flow.Identifier) (*flow.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.backend.get(blockID)
	if !ok {
		return nil, false
	}
	return it.block, true
}

// Waiting returns the chunks the block still waits for.
func (b *PendingBlocks) Waiting(blockID flow.Identifier) flow.IdentifierList {
	b.mu.RLock()
	defer b.mu.RUnlock()
	chunks := b.waiting[blockID]
	ids := make(flow.IdentifierList, 0, len(chunks))
	for chunkID := range chunks {
		ids = append(ids, chunkID)
	}
	return ids.Sorted()
}

// ChunkValidated marks the chunk as resolved. Returns the blocks that no
// longer wait for any chunk, removed from the buffer, lowest first.
func (b *PendingBlocks) ChunkValidated(chunkID flow.Identifier) []*flow.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ready []*flow.Block
	for blockID := range b.byChunk[chunkID] {
		chunks := b.waiting[blockID]
		delete(chunks, chunkID)
		if len(chunks) > 0 {
			continue
		}
		it, _ := b.backend.get(blockID)
		ready = append(ready, it.block)
	}
	delete(b.byChunk, chunkID)
	for _, block := range ready {
		b.removeLocked(block.ID())
	}
	if len(ready) > 0 {
		b.metrics.PendingPoolSize(b.backend.size())
	}
	sortByHeight(ready)
	return ready
}

// DropForChunk removes and returns all blocks waiting for the chunk, lowest
// first. Used when the chunk is rejected.
func (b *PendingBlocks) DropForChunk(chunkID flow.Identifier) []*flow.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []*flow.Block
	for blockID := range b.byChunk[chunkID] {
		it, _ := b.backend.get(blockID)
		dropped = append(dropped, it.block)
	}
	for _, block := range dropped {
		b.removeLocked(block.ID())
	}
	if len(dropped) > 0 {
		b.metrics.PendingPoolSize(b.backend.size())
	}
	sortByHeight(dropped)
	return dropped
}

// ByParentID returns the buffered children of the given parent.
func (b *PendingBlocks) ByParentID(parentID flow.Identifier) ([]*flow.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	children := b.backend.children(parentID)
	return children, len(children) > 0
}

// PruneByHeight removes the blocks at or below the given height and returns
// them, lowest first.
func (b *PendingBlocks) PruneByHeight(height uint64) []*flow.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pruneBelowLocked(height + 1)
}

// Prune evicts the blocks too far below the canonical head to be worth
// waiting for, and returns them lowest first.
func (b *PendingBlocks) Prune(headHeight uint64) []*flow.Block {
	if headHeight <= b.distance {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pruned := b.pruneBelowLocked(headHeight - b.distance)
	for range pruned {
		b.metrics.PendingEvicted()
	}
	return pruned
}

func (b *PendingBlocks) pruneBelowLocked(height uint64) []*flow.Block {
	var pruned []*flow.Block
	for _, blockID := range b.backend.below(height) {
		it, _ := b.backend.get(blockID)
		pruned = append(pruned, it.block)
		b.removeLocked(blockID)
	}
	if len(pruned) > 0 {
		b.metrics.PendingPoolSize(b.backend.size())
	}
	return pruned
}

func (b *PendingBlocks) Size() uint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.backend.size()
}

func (b *PendingBlocks) removeLocked(blockID flow.Identifier) {
	for chunkID := range b.waiting[blockID] {
		blocks := b.byChunk[chunkID]
		delete(blocks, blockID)
		if len(blocks) == 0 {
			delete(b.byChunk, chunkID)
		}
	}
	delete(b.waiting, blockID)
	b.backend.remove(blockID)
}

// sortByHeight orders blocks by height, then by ID.
func sortByHeight(blocks []*flow.Block) {
	slices.SortFunc(blocks, func(a, b *flow.Block) int {
		if a.Header.Height != b.Header.Height {
			if a.Header.Height < b.Header.Height {
				return -1
			}
			return 1
		}
		return a.ID().Compare(b.ID())
	})
}
