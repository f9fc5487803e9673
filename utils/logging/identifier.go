package logging

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
)

func ID(entity flow.Entity) []byte {
	id := entity.ID()
	return id[:]
}

func IDs(ids []flow.Identifier) []string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, hex.EncodeToString(id[:]))
	}
	return ss
}

// Block adds the standard fields describing a block header to the log context.
func Block(ctx zerolog.Context, header *flow.BlockHeader) zerolog.Context {
	id := header.ID()
	return ctx.
		Uint64("block_height", header.Height).
		Hex("block_id", id[:]).
		Hex("parent_id", header.ParentID[:]).
		Str("proposer", string(header.ProposerID))
}

// Chunk adds the standard fields describing a chunk header to the log context.
func Chunk(ctx zerolog.Context, header *flow.ChunkHeader) zerolog.Context {
	id := header.ID()
	return ctx.
		Hex("chunk_id", id[:]).
		Uint32("shard", uint32(header.ShardID)).
		Uint64("height", header.Height).
		Str("producer", string(header.ProducerID))
}

// Type returns the name of the object's type.
func Type(obj interface{}) string {
	return fmt.Sprintf("%T", obj)
}
