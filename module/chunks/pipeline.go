package chunks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/module/merkle"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/module/trace"
	"github.com/nightshard/shardnode/storage"
)

// Verdict is the outcome of validating a chunk.
type Verdict int

const (
	VerdictIncomplete Verdict = iota
	VerdictAccepted
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictIncomplete:
		return "incomplete"
	case VerdictAccepted:
		return "accepted"
	case VerdictRejected:
		return "rejected"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// dutySlot identifies one chunk production duty.
type dutySlot struct {
	producer flow.AccountID
	shard    flow.ShardID
	height   uint64
}

// tracker follows the validation of one chunk.
type tracker struct {
	header   *flow.ChunkHeader
	epochID  flow.Identifier
	state    flow.ChunkState
	parts    [][]byte
	received int
	// set while a reconstruction is running outside the lock
	validating bool
	err        error
}

// Pipeline validates chunk headers and reconstructs chunk bodies from their
// parts. Each chunk moves from Unknown through Collecting and Reconstructable
// to Validated, or to Rejected. Terminal states are persisted.
// Pipeline is safe for concurrent use.
type Pipeline struct {
	log      zerolog.Logger
	metrics  module.ChunkMetrics
	tracer   module.Tracer
	coder    *erasure.Coder
	epochs   EpochSource
	chain    ChainReader
	receipts ReceiptSource
	verifier *signature.Verifier
	chunks   storage.Chunks

	mu        sync.Mutex
	trackers  map[flow.Identifier]*tracker
	slots     map[dutySlot]flow.Identifier
	consumers []ResolutionConsumer
}

func NewPipeline(
	log zerolog.Logger,
	metrics module.ChunkMetrics,
	tracer module.Tracer,
	coder *erasure.Coder,
	epochs EpochSource,
	chain ChainReader,
	receipts ReceiptSource,
	verifier *signature.Verifier,
	chunks storage.Chunks,
) *Pipeline {
	return &Pipeline{
		log:      log.With().Str("component", "chunk_pipeline").Logger(),
		metrics:  metrics,
		tracer:   tracer,
		coder:    coder,
		epochs:   epochs,
		chain:    chain,
		receipts: receipts,
		verifier: verifier,
		chunks:   chunks,
		trackers: make(map[flow.Identifier]*tracker),
		slots:    make(map[dutySlot]flow.Identifier),
	}
}

// AddConsumer registers a consumer notified of every chunk reaching a
// terminal state. Consumers are called without holding internal locks.
func (p *Pipeline) AddConsumer(consumer ResolutionConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, consumer)
}

// Validate submits the header and the given parts and reports the resulting
// verdict. A rejected chunk is reported with a ChunkRejectedError carrying
// the reason.
// Expected errors during normal operations:
//   - ChunkRejectedError if the chunk is rejected
//   - ErrUnknownPrevBlock if the chunk builds on a block that is not accepted
//   - epochmgr.ErrEpochNotReady if the chunk's epoch is not computed
func (p *Pipeline) Validate(ctx context.Context, header *flow.ChunkHeader, parts []*flow.ChunkPart) (Verdict, error) {
	state, err := p.SubmitHeader(ctx, header)
	if err != nil {
		return verdictFor(state), err
	}
	for _, part := range parts {
		state, err = p.SubmitPart(ctx, part)
		if err != nil {
			return verdictFor(state), err
		}
	}
	return verdictFor(state), p.rejection(header.ID())
}

func verdictFor(state flow.ChunkState) Verdict {
	switch state {
	case flow.ChunkValidated:
		return VerdictAccepted
	case flow.ChunkRejected:
		return VerdictRejected
	default:
		return VerdictIncomplete
	}
}

// rejection returns the rejection error recorded for the chunk, if any.
func (p *Pipeline) rejection(chunkID flow.Identifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[chunkID]
	if !ok || t.state != flow.ChunkRejected {
		return nil
	}
	return t.err
}

// SubmitHeader starts tracking a chunk. The header is checked against the
// epoch assignment and the state of the block it builds on; parts are only
// accepted for chunks whose header passed these checks.
// Expected errors during normal operations:
//   - ChunkRejectedError if the header is invalid or equivocates
//   - ErrUnknownPrevBlock if the chunk builds on a block that is not accepted
//   - epochmgr.ErrEpochNotReady if the chunk's epoch is not computed
func (p *Pipeline) SubmitHeader(ctx context.Context, header *flow.ChunkHeader) (flow.ChunkState, error) {
	chunkID := header.ID()
	span, _ := p.tracer.StartChunkSpan(ctx, chunkID, trace.CKValidate)
	defer span.End()

	p.mu.Lock()
	if t, ok := p.trackers[chunkID]; ok {
		p.mu.Unlock()
		return t.state, nil
	}
	p.mu.Unlock()

	stored, err := p.chunks.State(chunkID)
	if err != nil {
		return flow.ChunkUnknown, fmt.Errorf("could not get state of chunk %x: %w", chunkID, err)
	}
	if stored.Terminal() {
		return stored, nil
	}

	epochID, err := p.checkHeader(chunkID, header)
	if IsChunkRejectedError(err) {
		p.mu.Lock()
		t := &tracker{header: header, epochID: epochID, state: flow.ChunkUnknown}
		p.trackers[chunkID] = t
		resolved := p.reject(t, err)
		p.mu.Unlock()
		p.notify(resolved)
		return flow.ChunkRejected, err
	}
	if err != nil {
		return flow.ChunkUnknown, err
	}

	err = p.chunks.StoreHeader(header)
	if err != nil {
		return flow.ChunkUnknown, fmt.Errorf("could not store chunk header: %w", err)
	}

	p.mu.Lock()
	if t, ok := p.trackers[chunkID]; ok {
		p.mu.Unlock()
		return t.state, nil
	}
	t := &tracker{
		header:  header,
		epochID: epochID,
		state:   flow.ChunkUnknown,
		parts:   make([][]byte, header.Shape.TotalParts),
	}
	p.trackers[chunkID] = t
	p.metrics.ChunkStateChanged(flow.ChunkUnknown)

	slot := dutySlot{producer: header.ProducerID, shard: header.ShardID, height: header.Height}
	otherID, seen := p.slots[slot]
	if !seen {
		p.slots[slot] = chunkID
		p.mu.Unlock()
		return flow.ChunkUnknown, nil
	}

	// the producer signed two distinct chunks for the same duty
	var resolved []resolution
	rejection := NewChunkRejectedErrorf(chunkID, RejectEquivocation, "producer %s already signed chunk %x for shard %d at height %d", header.ProducerID, otherID, header.ShardID, header.Height)
	resolved = append(resolved, p.reject(t, rejection)...)
	if other, ok := p.trackers[otherID]; ok && other.state != flow.ChunkValidated {
		resolved = append(resolved, p.reject(other, NewChunkRejectedErrorf(otherID, RejectEquivocation, "producer %s also signed chunk %x for shard %d at height %d", header.ProducerID, chunkID, header.ShardID, header.Height))...)
	}
	p.mu.Unlock()

	_, err = p.epochs.RecordEquivocation(epochID, header.ProducerID, header.ShardID, header.Height)
	if err != nil {
		return flow.ChunkRejected, fmt.Errorf("could not record equivocation: %w", err)
	}
	p.notify(resolved)
	return flow.ChunkRejected, rejection
}

// checkHeader validates the header without its body. Returns the epoch the
// chunk belongs to.
func (p *Pipeline) checkHeader(chunkID flow.Identifier, header *flow.ChunkHeader) (flow.Identifier, error) {
	if header.Shape != p.coder.Shape() {
		return flow.ZeroID, NewChunkRejectedErrorf(chunkID, RejectWrongShape, "shape %s differs from %s", header.Shape, p.coder.Shape())
	}

	epochID, err := p.epochs.EpochForNewBlock(header.PrevBlockID)
	if errors.Is(err, epochmgr.ErrUnknownBlock) {
		return flow.ZeroID, fmt.Errorf("block %x: %w", header.PrevBlockID, ErrUnknownPrevBlock)
	}
	if err != nil {
		return flow.ZeroID, fmt.Errorf("could not determine epoch of chunk %x: %w", chunkID, err)
	}
	epoch, err := p.epochs.EpochInfo(epochID)
	if err != nil {
		return epochID, err
	}
	if int(header.ShardID) >= epoch.NumShards() {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectInvalidHeader, "shard %d out of range", header.ShardID)
	}

	prev, err := p.chain.ShardSnapshot(header.PrevBlockID, header.ShardID)
	if errors.Is(err, storage.ErrNotFound) {
		return epochID, fmt.Errorf("block %x: %w", header.PrevBlockID, ErrUnknownPrevBlock)
	}
	if err != nil {
		return epochID, fmt.Errorf("could not get shard state after %x: %w", header.PrevBlockID, err)
	}
	if header.Height != prev.Height+1 {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectInvalidHeader, "height %d does not follow block height %d", header.Height, prev.Height)
	}
	if header.PrevStateRoot != prev.StateRoot {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectInvalidHeader, "prior state root %x differs from %x", header.PrevStateRoot, prev.StateRoot)
	}
	if header.PrevOutgoingReceiptsRoot != prev.OutgoingRoot {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectInvalidHeader, "prior outgoing receipts root %x differs from %x", header.PrevOutgoingReceiptsRoot, prev.OutgoingRoot)
	}
	if header.EncodedLength == 0 {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectInvalidHeader, "empty encoded body")
	}

	producer, err := epoch.ChunkProducer(header.ShardID, header.Height)
	if err != nil {
		return epochID, fmt.Errorf("could not get chunk producer: %w", err)
	}
	if header.ProducerID != producer {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectWrongProducer, "produced by %s, scheduled producer is %s", header.ProducerID, producer)
	}
	vs, ok := epoch.Validator(producer)
	if !ok {
		return epochID, fmt.Errorf("scheduled producer %s is not a validator of epoch %x", producer, epochID)
	}
	err = p.verifier.VerifyChunk(vs.PublicKey, header)
	if signature.IsInvalidSignatureError(err) || errors.Is(err, signature.ErrInvalidFormat) {
		return epochID, NewChunkRejectedErrorf(chunkID, RejectBadSignature, "%v", err)
	}
	if err != nil {
		return epochID, fmt.Errorf("could not verify chunk signature: %w", err)
	}
	return epochID, nil
}

// SubmitPart adds a part of a tracked chunk. Parts with an invalid proof are
// dropped. Once enough parts are collected the body is reconstructed and
// checked.
// Expected errors during normal operations:
//   - ErrUnknownChunk if the chunk's header was not submitted
//   - ChunkRejectedError if the reconstructed chunk is rejected
func (p *Pipeline) SubmitPart(ctx context.Context, part *flow.ChunkPart) (flow.ChunkState, error) {
	p.mu.Lock()
	t, ok := p.trackers[part.ChunkID]
	if !ok {
		p.mu.Unlock()
		return flow.ChunkUnknown, fmt.Errorf("part %d of chunk %x: %w", part.Index, part.ChunkID, ErrUnknownChunk)
	}
	if t.state.Terminal() || t.validating {
		state := t.state
		p.mu.Unlock()
		return state, nil
	}
	header := t.header
	total := int(header.Shape.TotalParts)
	if t.state == flow.ChunkReconstructable {
		// an earlier reconstruction failed transiently
		t.validating = true
		parts := make([][]byte, total)
		copy(parts, t.parts)
		p.mu.Unlock()
		return p.reconstruct(ctx, part.ChunkID, header, parts)
	}
	if int(part.Index) >= total || t.parts[part.Index] != nil {
		state := t.state
		p.mu.Unlock()
		return state, nil
	}

	err := merkle.Verify(header.EncodedMerkleRoot, merkle.LeafHash(part.Data), int(part.Index), total, part.Proof)
	if err != nil {
		state := t.state
		p.mu.Unlock()
		p.metrics.ChunkPartReceived(false)
		p.log.Warn().Err(err).
			Hex("chunk_id", part.ChunkID[:]).
			Uint32("index", part.Index).
			Msg("dropping chunk part with invalid proof")
		return state, nil
	}
	p.metrics.ChunkPartReceived(true)

	t.parts[part.Index] = part.Data
	t.received++
	if t.received < int(header.Shape.DataParts) {
		if t.state != flow.ChunkCollecting {
			t.state = flow.ChunkCollecting
			p.metrics.ChunkStateChanged(flow.ChunkCollecting)
		}
		p.mu.Unlock()
		return flow.ChunkCollecting, nil
	}

	t.state = flow.ChunkReconstructable
	t.validating = true
	p.metrics.ChunkStateChanged(flow.ChunkReconstructable)
	parts := make([][]byte, total)
	copy(parts, t.parts)
	p.mu.Unlock()

	return p.reconstruct(ctx, part.ChunkID, header, parts)
}

// reconstruct decodes and checks the body of a reconstructable chunk.
func (p *Pipeline) reconstruct(ctx context.Context, chunkID flow.Identifier, header *flow.ChunkHeader, parts [][]byte) (flow.ChunkState, error) {
	span, _ := p.tracer.StartChunkSpan(ctx, chunkID, trace.CKReconstruct)
	defer span.End()
	start := time.Now()

	body, err := p.checkBody(chunkID, header, parts)
	p.metrics.ChunkReconstructed(time.Since(start))
	if err == nil {
		err = p.chunks.StoreBody(chunkID, body)
		if err != nil {
			err = fmt.Errorf("could not store chunk body: %w", err)
		}
	}
	if err != nil && !IsChunkRejectedError(err) {
		// the chunk stays reconstructable and is checked again with the next part
		p.mu.Lock()
		if t, ok := p.trackers[chunkID]; ok {
			t.validating = false
		}
		p.mu.Unlock()
		return flow.ChunkReconstructable, err
	}

	p.mu.Lock()
	t, ok := p.trackers[chunkID]
	if !ok || t.state.Terminal() {
		// resolved concurrently, e.g. rejected for equivocation
		state := flow.ChunkUnknown
		if ok {
			state = t.state
		}
		p.mu.Unlock()
		return state, nil
	}
	t.validating = false
	var resolved []resolution
	if err != nil {
		resolved = p.reject(t, err)
	} else {
		resolved = p.resolve(t, flow.ChunkValidated)
	}
	state := t.state
	p.mu.Unlock()

	p.notify(resolved)
	if state == flow.ChunkRejected {
		return state, err
	}
	p.log.Debug().
		Hex("chunk_id", chunkID[:]).
		Uint32("shard", uint32(header.ShardID)).
		Uint64("height", header.Height).
		Msg("chunk validated")
	return state, nil
}

// checkBody reconstructs the body from at least DataParts parts. Any
// inconsistency with the header rejects the chunk.
func (p *Pipeline) checkBody(chunkID flow.Identifier, header *flow.ChunkHeader, parts [][]byte) (*flow.ChunkBody, error) {
	// re-encoding all parts detects a producer that committed to parts
	// which are not a consistent encoding
	all, err := p.coder.Reconstruct(parts)
	if erasure.IsMismatchedPartsError(err) {
		return nil, NewChunkRejectedErrorf(chunkID, RejectRootMismatch, "inconsistent parts: %v", err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not reconstruct chunk %x: %w", chunkID, err)
	}
	leaves := make([]flow.Identifier, 0, len(all))
	for _, part := range all {
		leaves = append(leaves, merkle.LeafHash(part))
	}
	root := merkle.NewTree(leaves).Root()
	if root != header.EncodedMerkleRoot {
		return nil, NewChunkRejectedErrorf(chunkID, RejectRootMismatch, "re-encoded root %x differs from %x", root, header.EncodedMerkleRoot)
	}

	encoded, err := p.coder.Decode(all, header.EncodedLength)
	if erasure.IsMismatchedPartsError(err) {
		return nil, NewChunkRejectedErrorf(chunkID, RejectMalformedBody, "%v", err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode chunk %x: %w", chunkID, err)
	}
	body, err := DecodeBody(encoded)
	if err != nil {
		return nil, NewChunkRejectedErrorf(chunkID, RejectMalformedBody, "%v", err)
	}
	for _, tx := range body.Transactions {
		if tx == nil || tx.ShardID != header.ShardID {
			return nil, NewChunkRejectedErrorf(chunkID, RejectMalformedBody, "transaction does not belong to shard %d", header.ShardID)
		}
	}

	if !checkOutgoing(header, body.OutgoingReceipts) {
		return nil, NewChunkRejectedErrorf(chunkID, RejectReceiptMismatch, "outgoing receipts do not match root %x", header.OutgoingReceiptsRoot)
	}
	epochID, err := p.epochs.EpochForNewBlock(header.PrevBlockID)
	if err != nil {
		return nil, fmt.Errorf("could not determine epoch of chunk %x: %w", chunkID, err)
	}
	epoch, err := p.epochs.EpochInfo(epochID)
	if err != nil {
		return nil, fmt.Errorf("could not get epoch %x: %w", epochID, err)
	}
	for _, r := range body.OutgoingReceipts {
		if int(r.DestinationShard) >= epoch.NumShards() {
			return nil, NewChunkRejectedErrorf(chunkID, RejectReceiptMismatch, "outgoing receipt targets unknown shard %d", r.DestinationShard)
		}
	}
	expected, err := p.receipts.Drain(header.PrevBlockID, header.ShardID, header.Height)
	if err != nil {
		return nil, fmt.Errorf("could not get deliverable receipts: %w", err)
	}
	if len(expected) != len(body.IncomingReceipts) {
		return nil, NewChunkRejectedErrorf(chunkID, RejectReceiptMismatch, "chunk consumes %d receipts, %d are deliverable", len(body.IncomingReceipts), len(expected))
	}
	for i, r := range body.IncomingReceipts {
		if r == nil || r.ID() != expected[i].ID() {
			return nil, NewChunkRejectedErrorf(chunkID, RejectReceiptMismatch, "incoming receipt %d differs from deliverable receipt", i)
		}
	}
	return body, nil
}

type resolution struct {
	chunkID flow.Identifier
	state   flow.ChunkState
}

// reject moves the tracker to Rejected. Must be called holding the lock.
func (p *Pipeline) reject(t *tracker, err error) []resolution {
	t.err = err
	if reason, ok := RejectionReason(err); ok {
		p.metrics.ChunkRejected(string(reason))
	}
	p.log.Warn().Err(err).
		Uint32("shard", uint32(t.header.ShardID)).
		Uint64("height", t.header.Height).
		Str("producer", string(t.header.ProducerID)).
		Msg("chunk rejected")
	return p.resolve(t, flow.ChunkRejected)
}

// resolve moves the tracker to a terminal state. Must be called holding the lock.
func (p *Pipeline) resolve(t *tracker, state flow.ChunkState) []resolution {
	t.state = state
	t.parts = nil
	p.metrics.ChunkStateChanged(state)
	return []resolution{{chunkID: t.header.ID(), state: state}}
}

// notify persists terminal states and informs the consumers.
func (p *Pipeline) notify(resolved []resolution) {
	if len(resolved) == 0 {
		return
	}
	p.mu.Lock()
	consumers := make([]ResolutionConsumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.mu.Unlock()

	for _, r := range resolved {
		err := p.chunks.SetState(r.chunkID, r.state)
		if err != nil {
			p.log.Error().Err(err).Hex("chunk_id", r.chunkID[:]).Msg("could not persist chunk state")
		}
		for _, consume := range consumers {
			consume(r.chunkID, r.state)
		}
	}
}

// State returns the validation state of the chunk.
func (p *Pipeline) State(chunkID flow.Identifier) (flow.ChunkState, error) {
	p.mu.Lock()
	t, ok := p.trackers[chunkID]
	if ok {
		state := t.state
		p.mu.Unlock()
		return state, nil
	}
	p.mu.Unlock()
	return p.chunks.State(chunkID)
}

// Missing returns the indices of the parts still missing for a tracked chunk
// that is not reconstructable yet.
func (p *Pipeline) Missing(chunkID flow.Identifier) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[chunkID]
	if !ok || t.state.Terminal() || t.state == flow.ChunkReconstructable {
		return nil
	}
	var missing []uint32
	for i, part := range t.parts {
		if part == nil {
			missing = append(missing, uint32(i))
		}
	}
	return missing
}

// Body returns the reconstructed body of a validated chunk.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the chunk is not validated
func (p *Pipeline) Body(chunkID flow.Identifier) (*flow.ChunkBody, error) {
	return p.chunks.Body(chunkID)
}

// Prune drops the trackers of chunks below the given height. Their terminal
// states remain persisted.
func (p *Pipeline) Prune(height uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pruned := 0
	for chunkID, t := range p.trackers {
		if t.header.Height < height && !t.validating {
			delete(p.trackers, chunkID)
			pruned++
		}
	}
	for slot := range p.slots {
		if slot.height < height {
			delete(p.slots, slot)
		}
	}
	return pruned
}
