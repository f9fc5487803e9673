package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// Chunks implements chunk header, body and validation state storage.
type Chunks struct {
	db      *badger.DB
	headers *Cache[flow.Identifier, *flow.ChunkHeader]
	bodies  *Cache[flow.Identifier, *flow.ChunkBody]
}

var _ storage.Chunks = (*Chunks)(nil)

func NewChunks(collector module.CacheMetrics, db *badger.DB) *Chunks {

	storeHeader := func(chunkID flow.Identifier, header *flow.ChunkHeader) func(*badger.Txn) error {
		return operation.SkipDuplicates(operation.InsertChunkHeader(chunkID, header))
	}
	retrieveHeader := func(chunkID flow.Identifier) func(*badger.Txn) (*flow.ChunkHeader, error) {
		return func(tx *badger.Txn) (*flow.ChunkHeader, error) {
			var header flow.ChunkHeader
			err := operation.RetrieveChunkHeader(chunkID, &header)(tx)
			return &header, err
		}
	}

	storeBody := func(chunkID flow.Identifier, body *flow.ChunkBody) func(*badger.Txn) error {
		return operation.SkipDuplicates(operation.InsertChunkBody(chunkID, body))
	}
	retrieveBody := func(chunkID flow.Identifier) func(*badger.Txn) (*flow.ChunkBody, error) {
		return func(tx *badger.Txn) (*flow.ChunkBody, error) {
			var body flow.ChunkBody
			err := operation.RetrieveChunkBody(chunkID, &body)(tx)
			return &body, err
		}
	}

	c := &Chunks{
		db: db,
		headers: newCache(collector, metrics.ResourceChunkHeader,
			withLimit[flow.Identifier, *flow.ChunkHeader](4096),
			withStore(storeHeader),
			withRetrieve(retrieveHeader)),
		bodies: newCache(collector, metrics.ResourceChunkBody,
			withLimit[flow.Identifier, *flow.ChunkBody](256),
			withStore(storeBody),
			withRetrieve(retrieveBody)),
	}

	return c
}

func (c *Chunks) StoreHeader(header *flow.ChunkHeader) error {
	err := c.headers.Put(c.db, header.ID(), header)
	if err != nil {
		return fmt.Errorf("could not store chunk header: %w", err)
	}
	return nil
}

func (c *Chunks) Header(chunkID flow.Identifier) (*flow.ChunkHeader, error) {
	tx := c.db.NewTransaction(false)
	defer tx.Discard()
	return c.headers.Get(chunkID)(tx)
}

func (c *Chunks) StoreBody(chunkID flow.Identifier, body *flow.ChunkBody) error {
	err := c.bodies.Put(c.db, chunkID, body)
	if err != nil {
		return fmt.Errorf("could not store chunk body: %w", err)
	}
	return nil
}

func (c *Chunks) Body(chunkID flow.Identifier) (*flow.ChunkBody, error) {
	tx := c.db.NewTransaction(false)
	defer tx.Discard()
	return c.bodies.Get(chunkID)(tx)
}

func (c *Chunks) SetState(chunkID flow.Identifier, state flow.ChunkState) error {
	return operation.RetryOnConflict(c.db.Update, operation.UpsertChunkState(chunkID, state))
}

func (c *Chunks) State(chunkID flow.Identifier) (flow.ChunkState, error) {
	var state flow.ChunkState
	err := c.db.View(operation.RetrieveChunkState(chunkID, &state))
	if errors.Is(err, storage.ErrNotFound) {
		return flow.ChunkUnknown, nil
	}
	if err != nil {
		return flow.ChunkUnknown, fmt.Errorf("could not retrieve chunk state: %w", err)
	}
	return state, nil
}
