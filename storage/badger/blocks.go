package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// Blocks implements block storage around a badger DB.
type Blocks struct {
	db    *badger.DB
	cache *Cache[flow.Identifier, *flow.Block]
}

var _ storage.Blocks = (*Blocks)(nil)

func NewBlocks(collector module.CacheMetrics, db *badger.DB) *Blocks {

	store := func(blockID flow.Identifier, block *flow.Block) func(*badger.Txn) error {
		return operation.SkipDuplicates(operation.InsertBlock(blockID, block))
	}

	retrieve := func(blockID flow.Identifier) func(*badger.Txn) (*flow.Block, error) {
		return func(tx *badger.Txn) (*flow.Block, error) {
			var block flow.Block
			err := operation.RetrieveBlock(blockID, &block)(tx)
			return &block, err
		}
	}

	b := &Blocks{
		db: db,
		cache: newCache(collector, metrics.ResourceBlock,
			withLimit[flow.Identifier, *flow.Block](1024),
			withStore(store),
			withRetrieve(retrieve)),
	}

	return b
}

func (b *Blocks) Store(block *flow.Block) error {
	err := b.cache.Put(b.db, block.ID(), block)
	if err != nil {
		return fmt.Errorf("could not store block: %w", err)
	}
	return nil
}

func (b *Blocks) ByID(blockID flow.Identifier) (*flow.Block, error) {
	tx := b.db.NewTransaction(false)
	defer tx.Discard()
	return b.cache.Get(blockID)(tx)
}

func (b *Blocks) Exists(blockID flow.Identifier) (bool, error) {
	if b.cache.IsCached(blockID) {
		return true, nil
	}
	var exists bool
	err := b.db.View(operation.BlockExists(blockID, &exists))
	if err != nil {
		return false, fmt.Errorf("could not check existence: %w", err)
	}
	return exists, nil
}
