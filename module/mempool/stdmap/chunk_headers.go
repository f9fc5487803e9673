package stdmap

import (
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/mempool"
)

// ChunkHeaders implements the memory pool of validated chunk headers.
type ChunkHeaders struct {
	*backend[*flow.ChunkHeader]
}

var _ mempool.ChunkHeaders = (*ChunkHeaders)(nil)

func NewChunkHeaders() *ChunkHeaders {
	return &ChunkHeaders{backend: newBackend[*flow.ChunkHeader]()}
}

func (c *ChunkHeaders) Add(header *flow.ChunkHeader) bool {
	return c.backend.Add(header.ID(), header)
}

// ByParent returns the header with the lowest chunk ID among those of the
// shard built on the given block.
func (c *ChunkHeaders) ByParent(parentID flow.Identifier, shard flow.ShardID) (*flow.ChunkHeader, bool) {
	candidates := c.backend.filter(func(header *flow.ChunkHeader) bool {
		return header.PrevBlockID == parentID && header.ShardID == shard
	})
	var best *flow.ChunkHeader
	for _, header := range candidates {
		if best == nil || header.ID().Less(best.ID()) {
			best = header
		}
	}
	return best, best != nil
}

func (c *ChunkHeaders) PruneUpToHeight(height uint64) int {
	return c.backend.removeIf(func(header *flow.ChunkHeader) bool {
		return header.Height <= height
	})
}
