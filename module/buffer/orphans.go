package buffer

import (
	"sync"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

// Orphans holds blocks whose parent is not known yet, keyed by the missing
// parent. The pool is bounded: when full, the blocks with the greatest
// heights are evicted first, as they are the furthest from being connected.
// Orphans is safe for concurrent use.
type Orphans struct {
	mu       sync.RWMutex
	backend  *backend
	limit    uint
	distance uint64
	metrics  module.ChainMetrics
}

// NewOrphans creates an orphan pool holding at most limit blocks. Blocks
// more than distance heights below the canonical head are dropped by Prune.
func NewOrphans(limit uint, distance uint64, metrics module.ChainMetrics) *Orphans {
	return &Orphans{
		backend:  newBackend(),
		limit:    limit,
		distance: distance,
		metrics:  metrics,
	}
}

// Add adds the block to the pool. Returns false if the block was already
// buffered, or if it was evicted right away because the pool is full of
// lower blocks.
func (o *Orphans) Add(block *flow.Block) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.backend.add(block) {
		return false
	}
	blockID := block.ID()
	kept := true
	for o.backend.size() > o.limit {
		evicted, _ := o.backend.highest()
		o.backend.remove(evicted)
		o.metrics.OrphanEvicted()
		if evicted == blockID {
			kept = false
		}
	}
	o.metrics.OrphanPoolSize(o.backend.size())
	return kept
}

// ByID returns the buffered block with the given ID.
func (o *Orphans) ByID(blockID flow.Identifier) (*flow.Block, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	it, ok := o.backend.get(blockID)
	if !ok {
		return nil, false
	}
	return it.block, true
}

// ByParentID returns the buffered children of the given parent.
func (o *Orphans) ByParentID(parentID flow.Identifier) ([]*flow.Block, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	children := o.backend.children(parentID)
	return children, len(children) > 0
}

// DropForParent removes and returns the buffered children of the given parent.
func (o *Orphans) DropForParent(parentID flow.Identifier) []*flow.Block {
	o.mu.Lock()
	defer o.mu.Unlock()
	children := o.backend.children(parentID)
	for _, child := range children {
		o.backend.remove(child.ID())
	}
	if len(children) > 0 {
		o.metrics.OrphanPoolSize(o.backend.size())
	}
	return children
}

// Prune evicts the orphans too far below the canonical head to ever be
// connected to it. Returns the number of evicted blocks.
func (o *Orphans) Prune(headHeight uint64) int {
	if headHeight <= o.distance {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	stale := o.backend.below(headHeight - o.distance)
	for _, blockID := range stale {
		o.backend.remove(blockID)
		o.metrics.OrphanEvicted()
	}
	if len(stale) > 0 {
		o.metrics.OrphanPoolSize(o.backend.size())
	}
	return len(stale)
}

func (o *Orphans) Size() uint {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.backend.size()
}
