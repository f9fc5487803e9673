package module

import (
	"context"

	"github.com/nightshard/shardnode/model/flow"
)

// PartRequester retrieves chunk parts from a peer. Implementations may return
// fewer parts than requested. They must honour ctx cancellation.
type PartRequester interface {
	RequestParts(ctx context.Context, peer flow.AccountID, chunkID flow.Identifier, indices []uint32) ([]*flow.ChunkPart, error)
}
