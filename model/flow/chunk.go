package flow

import (
	"fmt"
)

// ErasureShape describes how a chunk body is split into parts: any
// DataParts of the TotalParts parts suffice to reconstruct the body.
type ErasureShape struct {
	DataParts  uint32
	TotalParts uint32
}

// ParityParts is the number of redundant parts.
func (s ErasureShape) ParityParts() uint32 {
	return s.TotalParts - s.DataParts
}

// Validate checks 0 < DataParts < TotalParts.
func (s ErasureShape) Validate() error {
	if s.DataParts == 0 {
		return fmt.Errorf("erasure shape must have at least one data part")
	}
	if s.DataParts >= s.TotalParts {
		return fmt.Errorf("erasure shape %d/%d must have at least one parity part", s.DataParts, s.TotalParts)
	}
	if s.TotalParts > 256 {
		return fmt.Errorf("erasure shape supports at most 256 parts (got %d)", s.TotalParts)
	}
	return nil
}

func (s ErasureShape) String() string {
	return fmt.Sprintf("%d/%d", s.DataParts, s.TotalParts)
}

// ChunkHeader commits to one shard's chunk at one height.
type ChunkHeader struct {
	ShardID     ShardID
	Height      uint64     // height of the block the chunk is produced for
	PrevBlockID Identifier // block the chunk builds on

	// PrevStateRoot is the shard's state root after PrevBlockID.
	PrevStateRoot Identifier

	// EncodedMerkleRoot is the merkle root over the hashes of the erasure-coded
	// parts of the body; EncodedLength is the length of the encoded body.
	EncodedMerkleRoot Identifier
	EncodedLength     uint64

	// OutgoingReceiptsRoot commits to the receipts this chunk produces;
	// PrevOutgoingReceiptsRoot to those produced by the shard's previous chunk.
	OutgoingReceiptsRoot     Identifier
	PrevOutgoingReceiptsRoot Identifier

	ProducerID AccountID
	Shape      ErasureShape
	Signature  []byte
}

// chunkHeaderBody is the signed portion of the header.
type chunkHeaderBody struct {
	ShardID                  ShardID
	Height                   uint64
	PrevBlockID              Identifier
	PrevStateRoot            Identifier
	EncodedMerkleRoot        Identifier
	EncodedLength            uint64
	OutgoingReceiptsRoot     Identifier
	PrevOutgoingReceiptsRoot Identifier
	ProducerID               AccountID
	Shape                    ErasureShape
}

func (h *ChunkHeader) body() chunkHeaderBody {
	return chunkHeaderBody{
		ShardID:                  h.ShardID,
		Height:                   h.Height,
		PrevBlockID:              h.PrevBlockID,
		PrevStateRoot:            h.PrevStateRoot,
		EncodedMerkleRoot:        h.EncodedMerkleRoot,
		EncodedLength:            h.EncodedLength,
		OutgoingReceiptsRoot:     h.OutgoingReceiptsRoot,
		PrevOutgoingReceiptsRoot: h.PrevOutgoingReceiptsRoot,
		ProducerID:               h.ProducerID,
		Shape:                    h.Shape,
	}
}

// ID returns the chunk hash. The signature is not part of it, so two headers
// with the same content and different signatures are the same chunk.
func (h *ChunkHeader) ID() Identifier {
	return MakeID(h.body())
}

// Checksum covers the signature as well.
func (h *ChunkHeader) Checksum() Identifier {
	return MakeID(h)
}

// SigningMessage returns the bytes the producer signs.
func (h *ChunkHeader) SigningMessage() []byte {
	id := h.ID()
	return id[:]
}

// ChunkBody is the content of a chunk.
type ChunkBody struct {
	Transactions     []*Transaction
	IncomingReceipts []*Receipt
	OutgoingReceipts []*Receipt
}

// Chunk is a chunk header with its full body.
type Chunk struct {
	Header *ChunkHeader
	Body   *ChunkBody
}

// ID returns the chunk hash.
func (c *Chunk) ID() Identifier {
	return c.Header.ID()
}

// ChunkPart is one erasure-coded part of a chunk body together with the
// merkle path proving its membership under the header's EncodedMerkleRoot.
type ChunkPart struct {
	ChunkID Identifier
	Index   uint32
	Data    []byte
	Proof   []Identifier
}

// ID identifies the part by chunk and index.
func (p *ChunkPart) ID() Identifier {
	return MakeID(struct {
		ChunkID Identifier
		Index   uint32
	}{p.ChunkID, p.Index})
}

// ChunkSlot is a block's entry for one shard: either a chunk header or the
// explicit marker that the shard's chunk is missing at this height.
type ChunkSlot struct {
	Missing bool
	Header  *ChunkHeader
}

// MissingSlot returns a slot marking the shard's chunk as missing.
func MissingSlot() ChunkSlot {
	return ChunkSlot{Missing: true}
}

// PresentSlot returns a slot holding the given chunk header.
func PresentSlot(header *ChunkHeader) ChunkSlot {
	return ChunkSlot{Header: header}
}

// ChunkID returns the slot's chunk ID or ZeroID if missing.
func (s ChunkSlot) ChunkID() Identifier {
	if s.Missing || s.Header == nil {
		return ZeroID
	}
	return s.Header.ID()
}

// ChunkState is the validation state of a chunk on the validating side.
type ChunkState int

const (
	ChunkUnknown ChunkState = iota
	ChunkCollecting
	ChunkReconstructable
	ChunkValidated
	ChunkRejected
)

func (s ChunkState) String() string {
	switch s {
	case ChunkUnknown:
		return "unknown"
	case ChunkCollecting:
		return "collecting"
	case ChunkReconstructable:
		return "reconstructable"
	case ChunkValidated:
		return "validated"
	case ChunkRejected:
		return "rejected"
	default:
		return fmt.Sprintf("chunk_state(%d)", int(s))
	}
}

// Terminal reports whether the state can no longer change.
func (s ChunkState) Terminal() bool {
	return s == ChunkValidated || s == ChunkRejected
}
