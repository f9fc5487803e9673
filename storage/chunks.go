package storage

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Chunks represents persistent storage for chunk headers, reconstructed
// chunk bodies and the terminal validation state of each chunk.
type Chunks interface {

	// StoreHeader persists the chunk header. Storing a header twice is a no-op.
	StoreHeader(header *flow.ChunkHeader) error

	// Header returns the chunk header with the given ID.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the header is unknown
	Header(chunkID flow.Identifier) (*flow.ChunkHeader, error)

	// StoreBody persists the reconstructed body of a validated chunk.
	StoreBody(chunkID flow.Identifier, body *flow.ChunkBody) error

	// Body returns the body of the chunk with the given ID.
	// Expected errors during normal operations:
	//   - storage.ErrNotFound if the body is unknown
	Body(chunkID flow.Identifier) (*flow.ChunkBody, error)

	// SetState records the validation state of the chunk.
	SetState(chunkID flow.Identifier, state flow.ChunkState) error

	// State returns the recorded state of the chunk, flow.ChunkUnknown if none.
	State(chunkID flow.Identifier) (flow.ChunkState, error)
}
