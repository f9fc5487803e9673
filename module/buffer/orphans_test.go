package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/buffer"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/utils/unittest"
)

func TestOrphansAddAndQuery(t *testing.T) {
	orphans := buffer.NewOrphans(10, 5, metrics.NewNoopCollector())
	parentID := unittest.IdentifierFixture()
	a := unittest.BlockWithParentFixture(parentID, 5, 4)
	b := unittest.BlockWithParentFixture(parentID, 5, 4)

	assert.True(t, orphans.Add(a))
	assert.False(t, orphans.Add(a))
	assert.True(t, orphans.Add(b))
	assert.Equal(t, uint(2), orphans.Size())

	got, ok := orphans.ByID(a.ID())
	require.True(t, ok)
	assert.Equal(t, a, got)

	children, ok := orphans.ByParentID(parentID)
	require.True(t, ok)
	assert.ElementsMatch(t, []*flow.Block{a, b}, children)

	_, ok = orphans.ByParentID(a.ID())
	assert.False(t, ok)
}

func TestOrphansDropForParent(t *testing.T) {
	orphans := buffer.NewOrphans(10, 5, metrics.NewNoopCollector())
	chain := unittest.BlockChainFixture(unittest.IdentifierFixture(), 3, 3)
	for _, block := range chain {
		require.True(t, orphans.Add(block))
	}

	children := orphans.DropForParent(chain[0].ID())
	require.Len(t, children, 1)
	assert.Equal(t, chain[1].ID(), children[0].ID())
	assert.Equal(t, uint(2), orphans.Size())
	_, ok := orphans.ByID(chain[1].ID())
	assert.False(t, ok)

	assert.Empty(t, orphans.DropForParent(chain[0].ID()))
}

// TestOrphansEvictHighest verifies that a full pool evicts the highest blocks.
func TestOrphansEvictHighest(t *testing.T) {
	orphans := buffer.NewOrphans(3, 100, metrics.NewNoopCollector())
	blocks := []*flow.Block{
		unittest.BlockWithParentFixture(unittest.IdentifierFixture(), 10, 4),
		unittest.BlockWithParentFixture(unittest.IdentifierFixture(), 12, 4),
		unittest.BlockWithParentFixture(unittest.IdentifierFixture(), 11, 4),
	}
	for _, block := range blocks {
		require.True(t, orphans.Add(block))
	}

	low := unittest.BlockWithParentFixture(unittest.IdentifierFixture(), 9, 4)
	assert.True(t, orphans.Add(low))
	assert.Equal(t, uint(3), orphans.Size())
	_, ok := orphans.ByID(blocks[1].ID())
	assert.False(t, ok, "highest orphan should be evicted")

	high := unittest.BlockWithParentFixture(unittest.IdentifierFixture(), 20, 4)
	assert.False(t, orphans.Add(high), "orphan above a full pool should be evicted right away")
	assert.Equal(t, uint(3), orphans.Size())
}

func TestOrphansPrune(t *testing.T) {
	orphans := buffer.NewOrphans(10, 5, metrics.NewNoopCollector())
	var blocks []*flow.Block
	for height := uint64(1); height <= 8; height++ {
		block := unittest.BlockWithParentFixture(unittest.IdentifierFixture(), height, 4)
		blocks = append(blocks, block)
		require.True(t, orphans.Add(block))
	}

	assert.Equal(t, 0, orphans.Prune(5))
	// head 9 keeps heights >= 4
	assert.Equal(t, 3, orphans.Prune(9))
	assert.Equal(t, uint(5), orphans.Size())
	_, ok := orphans.ByID(blocks[2].ID())
	assert.False(t, ok)
	_, ok = orphans.ByID(blocks[3].ID())
	assert.True(t, ok)
}
