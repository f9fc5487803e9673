package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlockHeader_ID(t *testing.T) {
	header := &BlockHeader{
		Height:  5,
		EpochID: HashToID([]byte{9}),
		Chunks: []ChunkSlot{
			MissingSlot(),
			PresentSlot(&ChunkHeader{ShardID: 1, Height: 5}),
		},
	}
	id := header.ID()

	// signature is not part of the identity
	header.Signature = []byte{1, 2, 3}
	assert.Equal(t, id, header.ID())

	// a missing slot is distinct from a present slot
	header.Chunks[1] = MissingSlot()
	assert.NotEqual(t, id, header.ID())
}

func TestGenesis(t *testing.T) {
	genesis := Genesis(4, ZeroID, time.UnixMilli(1000))
	assert.Len(t, genesis.Header.Chunks, 4)
	for _, slot := range genesis.Header.Chunks {
		assert.True(t, slot.Missing)
	}
	assert.Equal(t, uint64(1000), genesis.Header.Timestamp)
}

func TestTip_Better(t *testing.T) {
	low := HashToID([]byte{1})
	high := HashToID([]byte{2})

	a := &Tip{BlockID: high, Score: 10}
	b := &Tip{BlockID: low, Score: 9}
	assert.True(t, a.Better(b))
	assert.False(t, b.Better(a))

	// equal score: lower block ID wins
	b.Score = 10
	assert.True(t, b.Better(a))
	assert.False(t, a.Better(b))
	assert.True(t, a.Better(nil))

	// Equal score: the greater height wins before the block ID. This
	// tiebreak is deliberate and goes beyond score-then-ID ordering: a child
	// that carries no approvals yet has its parent's score, and must still
	// become the head instead of losing to its parent on block ID.
	a.Height = 1
	assert.True(t, a.Better(b))
	assert.False(t, b.Better(a))

	parent := &Tip{BlockID: low, Height: 4, Score: 7}
	child := &Tip{BlockID: high, Height: 5, ParentID: low, Score: 7}
	assert.True(t, child.Better(parent))
	assert.False(t, parent.Better(child))
}
