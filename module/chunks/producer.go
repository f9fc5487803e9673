package chunks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/module/merkle"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/module/trace"
	"github.com/nightshard/shardnode/storage"
)

// Producer builds the local validator's chunks: it executes the chunk inputs,
// erasure-codes the resulting body and signs the header committing to it.
type Producer struct {
	log     zerolog.Logger
	metrics module.ChunkMetrics
	tracer  module.Tracer
	coder   *erasure.Coder
	runtime module.Runtime
	chain   ChainReader
	signer  *signature.Signer
}

func NewProducer(
	log zerolog.Logger,
	metrics module.ChunkMetrics,
	tracer module.Tracer,
	coder *erasure.Coder,
	runtime module.Runtime,
	chain ChainReader,
	signer *signature.Signer,
) *Producer {
	return &Producer{
		log:     log.With().Str("component", "chunk_producer").Logger(),
		metrics: metrics,
		tracer:  tracer,
		coder:   coder,
		runtime: runtime,
		chain:   chain,
		signer:  signer,
	}
}

// Produce builds the shard's chunk at height on top of the given block. The
// incoming receipts must be those the router delivers to the shard at that
// height. Returns the chunk and its parts, each with its merkle proof.
// Expected errors during normal operations:
//   - ErrUnknownPrevBlock if the previous block is not accepted
func (p *Producer) Produce(
	ctx context.Context,
	shard flow.ShardID,
	height uint64,
	prevBlockID flow.Identifier,
	txs []*flow.Transaction,
	incoming flow.ReceiptList,
) (*flow.Chunk, []*flow.ChunkPart, error) {
	span, _ := p.tracer.StartBlockSpan(ctx, prevBlockID, trace.CKProduce)
	defer span.End()

	prev, err := p.chain.ShardSnapshot(prevBlockID, shard)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("block %x: %w", prevBlockID, ErrUnknownPrevBlock)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not get shard %d state after %x: %w", shard, prevBlockID, err)
	}
	if height != prev.Height+1 {
		return nil, nil, fmt.Errorf("chunk height %d does not follow block height %d", height, prev.Height)
	}

	result, err := p.runtime.Apply(shard, prev.StateRoot, txs, incoming)
	if err != nil {
		return nil, nil, fmt.Errorf("could not execute chunk of shard %d at height %d: %w", shard, height, err)
	}
	body := &flow.ChunkBody{
		Transactions:     txs,
		IncomingReceipts: incoming,
		OutgoingReceipts: StampOutgoing(shard, height, result.Outgoing),
	}

	encoded, err := EncodeBody(body)
	if err != nil {
		return nil, nil, err
	}
	data, err := p.coder.Encode(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("could not erasure-code chunk body: %w", err)
	}
	leaves := make([]flow.Identifier, 0, len(data))
	for _, part := range data {
		leaves = append(leaves, merkle.LeafHash(part))
	}
	tree := merkle.NewTree(leaves)

	header := &flow.ChunkHeader{
		ShardID:                  shard,
		Height:                   height,
		PrevBlockID:              prevBlockID,
		PrevStateRoot:            prev.StateRoot,
		EncodedMerkleRoot:        tree.Root(),
		EncodedLength:            uint64(len(encoded)),
		OutgoingReceiptsRoot:     flow.ReceiptList(body.OutgoingReceipts).Root(),
		PrevOutgoingReceiptsRoot: prev.OutgoingRoot,
		ProducerID:               p.signer.Account(),
		Shape:                    p.coder.Shape(),
	}
	err = p.signer.SignChunk(header)
	if err != nil {
		return nil, nil, fmt.Errorf("could not sign chunk: %w", err)
	}

	chunkID := header.ID()
	parts := make([]*flow.ChunkPart, 0, len(data))
	for i, d := range data {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, nil, fmt.Errorf("could not build proof for part %d: %w", i, err)
		}
		parts = append(parts, &flow.ChunkPart{
			ChunkID: chunkID,
			Index:   uint32(i),
			Data:    d,
			Proof:   proof,
		})
	}

	p.metrics.ChunkProduced(shard, len(parts))
	p.log.Debug().
		Uint32("shard", uint32(shard)).
		Uint64("height", height).
		Hex("chunk_id", chunkID[:]).
		Int("transactions", len(txs)).
		Int("incoming", len(incoming)).
		Int("outgoing", len(body.OutgoingReceipts)).
		Msg("chunk produced")

	return &flow.Chunk{Header: header, Body: body}, parts, nil
}
