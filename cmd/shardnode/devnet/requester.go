package devnet

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

// PartStore keeps the parts of recently produced chunks and serves them to
// the fetcher, standing in for the chunk producers of a real network.
type PartStore struct {
	parts *lru.Cache[flow.Identifier, []*flow.ChunkPart]
}

var _ module.PartRequester = (*PartStore)(nil)

func NewPartStore(capacity int) (*PartStore, error) {
	parts, err := lru.New[flow.Identifier, []*flow.ChunkPart](capacity)
	if err != nil {
		return nil, fmt.Errorf("could not create part cache: %w", err)
	}
	return &PartStore{parts: parts}, nil
}

// Add stores all parts of a chunk.
func (p *PartStore) Add(chunkID flow.Identifier, parts []*flow.ChunkPart) {
	p.parts.Add(chunkID, parts)
}

// RequestParts returns the requested parts the store holds. Any peer serves
// every part.
func (p *PartStore) RequestParts(ctx context.Context, _ flow.AccountID, chunkID flow.Identifier, indices []uint32) ([]*flow.ChunkPart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, ok := p.parts.Get(chunkID)
	if !ok {
		return nil, nil
	}
	parts := make([]*flow.ChunkPart, 0, len(indices))
	for _, index := range indices {
		if int(index) < len(all) {
			parts = append(parts, all[index])
		}
	}
	return parts, nil
}
