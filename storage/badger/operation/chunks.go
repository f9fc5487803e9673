package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
)

func InsertChunkHeader(chunkID flow.Identifier, header *flow.ChunkHeader) func(*badger.Txn) error {
	return insert(makePrefix(codeChunkHeader, chunkID), header)
}

func RetrieveChunkHeader(chunkID flow.Identifier, header *flow.ChunkHeader) func(*badger.Txn) error {
	return retrieve(makePrefix(codeChunkHeader, chunkID), header)
}

func InsertChunkBody(chunkID flow.Identifier, body *flow.ChunkBody) func(*badger.Txn) error {
	return insert(makePrefix(codeChunkBody, chunkID), body)
}

func RetrieveChunkBody(chunkID flow.Identifier, body *flow.ChunkBody) func(*badger.Txn) error {
	return retrieve(makePrefix(codeChunkBody, chunkID), body)
}

func UpsertChunkState(chunkID flow.Identifier, state flow.ChunkState) func(*badger.Txn) error {
	return upsert(makePrefix(codeChunkState, chunkID), state)
}

func RetrieveChunkState(chunkID flow.Identifier, state *flow.ChunkState) func(*badger.Txn) error {
	return retrieve(makePrefix(codeChunkState, chunkID), state)
}
