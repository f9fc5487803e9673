package operation

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/utils/unittest"
)

func TestBlockInsertRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		block := flow.Genesis(4, unittest.IdentifierFixture(), time.UnixMilli(1234))
		block.Header.Chunks[2] = flow.PresentSlot(&flow.ChunkHeader{ShardID: 2, ProducerID: "alice", Shape: flow.ErasureShape{DataParts: 4, TotalParts: 7}})
		blockID := block.ID()

		err := db.Update(InsertBlock(blockID, block))
		require.NoError(t, err)

		err = db.Update(InsertBlock(blockID, block))
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		var actual flow.Block
		err = db.View(RetrieveBlock(blockID, &actual))
		require.NoError(t, err)
		assert.Equal(t, blockID, actual.ID())
		assert.Equal(t, flow.AccountID("alice"), actual.Header.Chunks[2].Header.ProducerID)

		var found bool
		require.NoError(t, db.View(BlockExists(blockID, &found)))
		assert.True(t, found)
		require.NoError(t, db.View(BlockExists(unittest.IdentifierFixture(), &found)))
		assert.False(t, found)

		err = db.View(RetrieveBlock(unittest.IdentifierFixture(), &actual))
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestBlockChildrenIndex(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		parentID := unittest.IdentifierFixture()
		children := unittest.IdentifierListFixture(3)
		for _, childID := range children {
			require.NoError(t, db.Update(IndexBlockChild(parentID, childID)))
		}
		// an unrelated parent
		require.NoError(t, db.Update(IndexBlockChild(unittest.IdentifierFixture(), unittest.IdentifierFixture())))

		var actual []flow.Identifier
		require.NoError(t, db.View(LookupBlockChildren(parentID, &actual)))
		assert.ElementsMatch(t, children, actual)
	})
}

func TestBlockMetaUpsert(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		blockID := unittest.IdentifierFixture()
		meta := &flow.BlockMeta{Status: flow.BlockPending, Height: 3}
		require.NoError(t, db.Update(UpsertBlockMeta(blockID, meta)))

		meta.Status = flow.BlockAccepted
		meta.StateRoots = unittest.IdentifierListFixture(4)
		require.NoError(t, db.Update(UpsertBlockMeta(blockID, meta)))

		var actual flow.BlockMeta
		require.NoError(t, db.View(RetrieveBlockMeta(blockID, &actual)))
		assert.Equal(t, *meta, actual)
	})
}

func TestFinalizedHeight(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		err := db.Update(UpdateFinalizedHeight(3))
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, db.Update(InsertFinalizedHeight(0)))
		require.NoError(t, db.Update(UpdateFinalizedHeight(5)))

		var height uint64
		require.NoError(t, db.View(RetrieveFinalizedHeight(&height)))
		assert.Equal(t, uint64(5), height)
	})
}
