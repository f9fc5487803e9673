package flow

import (
	"time"
)

// BlockHeader is the full content of a block. Chunk bodies are stored and
// fetched independently, so a block only commits to chunk headers.
type BlockHeader struct {
	Height    uint64
	ParentID  Identifier
	Timestamp uint64 // unix milliseconds
	EpochID   Identifier

	ProposerID AccountID

	// Chunks holds exactly one slot per shard, indexed by shard ID.
	Chunks []ChunkSlot

	// Approvals endorse the parent block.
	Approvals []Approval

	// ValidatorProposals are stake changes that take effect at the next epoch
	// boundary of this fork.
	ValidatorProposals []ValidatorStake

	Signature []byte
}

type encodableBlockHeader struct {
	Height             uint64
	ParentID           Identifier
	Timestamp          uint64
	EpochID            Identifier
	ProposerID         AccountID
	ChunkIDs           []Identifier
	Missing            []bool
	Approvals          []Approval
	ValidatorProposals []ValidatorStake
}

// ID returns the block hash. It covers everything but the producer signature.
func (h *BlockHeader) ID() Identifier {
	enc := encodableBlockHeader{
		Height:             h.Height,
		ParentID:           h.ParentID,
		Timestamp:          h.Timestamp,
		EpochID:            h.EpochID,
		ProposerID:         h.ProposerID,
		ChunkIDs:           make([]Identifier, 0, len(h.Chunks)),
		Missing:            make([]bool, 0, len(h.Chunks)),
		Approvals:          h.Approvals,
		ValidatorProposals: h.ValidatorProposals,
	}
	for _, slot := range h.Chunks {
		enc.ChunkIDs = append(enc.ChunkIDs, slot.ChunkID())
		enc.Missing = append(enc.Missing, slot.Missing)
	}
	return MakeID(enc)
}

// SigningMessage returns the bytes the proposer signs.
func (h *BlockHeader) SigningMessage() []byte {
	id := h.ID()
	return id[:]
}

// Time returns the header timestamp.
func (h *BlockHeader) Time() time.Time {
	return time.UnixMilli(int64(h.Timestamp)).UTC()
}

// Block is a block header. Chunk bodies are not part of the block, which allows
// blocks to be accepted with some chunks missing.
type Block struct {
	Header *BlockHeader
}

// ID returns the block hash.
func (b *Block) ID() Identifier {
	return b.Header.ID()
}

// Genesis builds the genesis block for the given number of shards. All shard
// slots are marked missing; state roots are provided by the chain state.
func Genesis(numShards uint32, epochID Identifier, timestamp time.Time) *Block {
	slots := make([]ChunkSlot, numShards)
	for i := range slots {
		slots[i] = MissingSlot()
	}
	return &Block{
		Header: &BlockHeader{
			Height:    0,
			ParentID:  ZeroID,
			Timestamp: uint64(timestamp.UnixMilli()),
			EpochID:   epochID,
			Chunks:    slots,
		},
	}
}

// Tip is a summary of a chain head.
type Tip struct {
	Height   uint64
	BlockID  Identifier
	ParentID Identifier
	Score    uint64
}

// TipFromHeader builds a tip for the given header with its cumulative score.
func TipFromHeader(header *BlockHeader, score uint64) *Tip {
	return &Tip{
		Height:   header.Height,
		BlockID:  header.ID(),
		ParentID: header.ParentID,
		Score:    score,
	}
}

// Better reports whether t should be preferred over other by fork choice:
// greater score wins. Equal scores prefer the greater height, so that a block
// carrying no approvals still extends its parent, then the lower block ID.
func (t *Tip) Better(other *Tip) bool {
	if other == nil {
		return true
	}
	if t.Score != other.Score {
		return t.Score > other.Score
	}
	if t.Height != other.Height {
		return t.Height > other.Height
	}
	return t.BlockID.Less(other.BlockID)
}
