package stdmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/utils/unittest"
)

func TestApprovals(t *testing.T) {
	pool := NewApprovals()
	blockID := unittest.IdentifierFixture()

	approval1 := &flow.Approval{BlockID: blockID, Height: 5, ValidatorID: "validator-02"}
	approval2 := &flow.Approval{BlockID: blockID, Height: 5, ValidatorID: "validator-01"}
	other := &flow.Approval{BlockID: unittest.IdentifierFixture(), Height: 6, ValidatorID: "validator-01"}

	t.Run("adding approvals", func(t *testing.T) {
		require.True(t, pool.Add(approval1))
		require.False(t, pool.Add(approval1))
		require.True(t, pool.Add(approval2))
		require.True(t, pool.Add(other))
		assert.Equal(t, uint(3), pool.Size())
		assert.True(t, pool.Has(approval1.ID()))
	})

	t.Run("approvals by block are ordered by validator", func(t *testing.T) {
		approvals := pool.ByBlockID(blockID)
		require.Len(t, approvals, 2)
		assert.Equal(t, approval2, approvals[0])
		assert.Equal(t, approval1, approvals[1])
		assert.Empty(t, pool.ByBlockID(unittest.IdentifierFixture()))
	})

	t.Run("pruning by height", func(t *testing.T) {
		assert.Equal(t, 2, pool.PruneUpToHeight(5))
		assert.Equal(t, uint(1), pool.Size())
		assert.Len(t, pool.ByBlockID(other.BlockID), 1)
	})
}

func TestChunkHeaders(t *testing.T) {
	pool := NewChunkHeaders()
	parentID := unittest.IdentifierFixture()

	a := &flow.ChunkHeader{ShardID: 1, Height: 4, PrevBlockID: parentID, ProducerID: "validator-00"}
	b := &flow.ChunkHeader{ShardID: 1, Height: 4, PrevBlockID: parentID, ProducerID: "validator-01"}
	c := &flow.ChunkHeader{ShardID: 2, Height: 4, PrevBlockID: parentID, ProducerID: "validator-00"}

	require.True(t, pool.Add(a))
	require.False(t, pool.Add(a))
	require.True(t, pool.Add(b))
	require.True(t, pool.Add(c))

	lowest := a
	if b.ID().Less(a.ID()) {
		lowest = b
	}
	header, ok := pool.ByParent(parentID, 1)
	require.True(t, ok)
	assert.Equal(t, lowest.ID(), header.ID())

	_, ok = pool.ByParent(parentID, 3)
	assert.False(t, ok)

	require.True(t, pool.Remove(lowest.ID()))
	header, ok = pool.ByParent(parentID, 1)
	require.True(t, ok)
	assert.NotEqual(t, lowest.ID(), header.ID())

	assert.Equal(t, 2, pool.PruneUpToHeight(4))
	assert.Equal(t, uint(0), pool.Size())
}
