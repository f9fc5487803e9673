// Package chain implements fork choice and finality over blocks whose chunks
// are validated by the chunk pipeline.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/buffer"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/irrecoverable"
	"github.com/nightshard/shardnode/module/receipts"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/module/trace"
	"github.com/nightshard/shardnode/state"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
	"github.com/nightshard/shardnode/utils/logging"
)

// Epochs is the epoch manager as seen by the chain.
type Epochs interface {
	Bootstrap(genesis *flow.BlockHeader, genesisCfg config.GenesisConfig) (*flow.EpochInfo, error)
	EpochForNewBlock(parentID flow.Identifier) (flow.Identifier, error)
	EpochInfo(epochID flow.Identifier) (*flow.EpochInfo, error)
	AddBlock(header *flow.BlockHeader) error
	Prune(finalizedID flow.Identifier) (int, error)
}

// ChunkValidator is the chunk pipeline as seen by the chain.
type ChunkValidator interface {
	SubmitHeader(ctx context.Context, header *flow.ChunkHeader) (flow.ChunkState, error)
	Body(chunkID flow.Identifier) (*flow.ChunkBody, error)
	Prune(height uint64) int
}

// Router is the receipt router as seen by the chain.
type Router interface {
	Bootstrap(genesis *flow.BlockHeader) error
	Route(parentID, blockID flow.Identifier, height uint64, shards []receipts.ShardReceipts) (*flow.ReceiptQueues, error)
}

// State decides which blocks are valid, which chain is canonical and which
// heights are final. A block is an orphan until its parent is accepted,
// pending until the chunks it carries are validated, then accepted or
// invalid. Accepted blocks are never invalidated; fork choice picks the
// accepted block with the greatest cumulative approval score as head, but
// never a block that does not descend from the finalized block.
// State is safe for concurrent use; submissions are serialized.
type State struct {
	*Reader
	log      zerolog.Logger
	cfg      config.ProtocolConfig
	metrics  module.ChainMetrics
	tracer   module.Tracer
	db       *badger.DB
	blocks   storage.Blocks
	epochs   Epochs
	chunks   ChunkValidator
	router   Router
	runtime  module.Runtime
	verifier *signature.Verifier
	orphans  *buffer.Orphans
	pending  *buffer.PendingBlocks
	clock    func() time.Time

	mu          sync.Mutex
	consumers   []Consumer
	head        *flow.Tip
	finalized   flow.Identifier
	finalHeight uint64
}

// WithClock replaces the clock block timestamps are checked against.
func WithClock(clock func() time.Time) func(*State) {
	return func(s *State) {
		s.clock = clock
	}
}

// NewState creates the chain state. If the database already holds a chain,
// the head and finalized block are loaded from it; otherwise the state must
// be bootstrapped before use.
func NewState(
	log zerolog.Logger,
	cfg config.ProtocolConfig,
	metrics module.ChainMetrics,
	tracer module.Tracer,
	db *badger.DB,
	reader *Reader,
	blocks storage.Blocks,
	epochs Epochs,
	chunks ChunkValidator,
	router Router,
	runtime module.Runtime,
	verifier *signature.Verifier,
	options ...func(*State),
) (*State, error) {
	s := &State{
		Reader:   reader,
		log:      log.With().Str("component", "chain").Logger(),
		cfg:      cfg,
		metrics:  metrics,
		tracer:   tracer,
		db:       db,
		blocks:   blocks,
		epochs:   epochs,
		chunks:   chunks,
		router:   router,
		runtime:  runtime,
		verifier: verifier,
		orphans:  buffer.NewOrphans(cfg.MaxOrphans, cfg.OrphanHeightDistance, metrics),
		pending:  buffer.NewPendingBlocks(cfg.MaxPendingBlocks, cfg.OrphanHeightDistance, metrics),
		clock:    time.Now,
	}
	for _, option := range options {
		option(s)
	}

	err := s.load()
	if err != nil && !errors.Is(err, ErrNotBootstrapped) {
		return nil, fmt.Errorf("could not load chain state: %w", err)
	}
	return s, nil
}

// load restores the head and finalized block from the database.
func (s *State) load() error {
	headID, err := s.Reader.head()
	if err != nil {
		return err
	}
	headMeta, err := s.accepted(headID)
	if err != nil {
		return fmt.Errorf("could not get head: %w", err)
	}
	finalHeight, err := s.Reader.finalizedHeight()
	if err != nil {
		return err
	}
	finalizedID, err := s.FinalizedAt(finalHeight)
	if err != nil {
		return fmt.Errorf("could not get finalized block: %w", err)
	}
	s.head = &flow.Tip{Height: headMeta.Height, BlockID: headID, ParentID: headMeta.ParentID, Score: headMeta.Score}
	s.finalized = finalizedID
	s.finalHeight = finalHeight
	return nil
}

// AddConsumer registers a consumer of block lifecycle events.
func (s *State) AddConsumer(consumer Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = append(s.consumers, consumer)
}

// Bootstrap initializes an empty database with the genesis block, which is
// accepted and final. All shards start from the empty state. Bootstrapping
// a state that already holds this genesis is a no-op.
func (s *State) Bootstrap(genesis *flow.Block, genesisCfg config.GenesisConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := genesis.Header
	genesisID := genesis.ID()
	if s.head != nil {
		existing, err := s.FinalizedAt(0)
		if err != nil {
			return fmt.Errorf("could not get stored genesis: %w", err)
		}
		if existing != genesisID {
			return fmt.Errorf("database holds genesis %x, not %x", existing, genesisID)
		}
		return nil
	}
	if header.Height != 0 || header.ParentID != flow.ZeroID {
		return fmt.Errorf("genesis must be at height 0 without parent")
	}
	if uint32(len(header.Chunks)) != s.cfg.NumShards {
		return fmt.Errorf("genesis has %d chunk slots for %d shards", len(header.Chunks), s.cfg.NumShards)
	}

	_, err := s.epochs.Bootstrap(header, genesisCfg)
	if err != nil {
		return fmt.Errorf("could not bootstrap epochs: %w", err)
	}
	err = s.router.Bootstrap(header)
	if err != nil {
		return fmt.Errorf("could not bootstrap receipt router: %w", err)
	}
	err = s.blocks.Store(genesis)
	if err != nil {
		return fmt.Errorf("could not store genesis: %w", err)
	}

	meta := &flow.BlockMeta{
		Status:        flow.BlockAccepted,
		Height:        0,
		ParentID:      flow.ZeroID,
		Quorum:        true,
		StateRoots:    make([]flow.Identifier, s.cfg.NumShards),
		OutgoingRoots: make([]flow.Identifier, s.cfg.NumShards),
	}
	for shard := range meta.OutgoingRoots {
		meta.OutgoingRoots[shard] = flow.ReceiptList(nil).Root()
	}
	err = operation.RetryOnConflict(s.db.Update, operation.Chain(
		operation.UpsertBlockMeta(genesisID, meta),
		operation.IndexFinalizedBlock(0, genesisID),
		operation.InsertFinalizedHeight(0),
		operation.UpsertHead(genesisID),
	))
	if err != nil {
		return fmt.Errorf("could not bootstrap chain bookkeeping: %w", err)
	}

	s.head = flow.TipFromHeader(header, 0)
	s.finalized = genesisID
	s.finalHeight = 0
	s.log.Info().Hex("genesis_id", genesisID[:]).Msg("chain bootstrapped")
	return nil
}

// SubmitBlock processes a block and returns its resulting status. Blocks
// buffered because of it (orphans of the block, blocks waiting for the same
// chunks) are processed in the same call and reported to the consumers.
// Expected errors during normal operations:
//   - UnfitError if the block is already known
//   - ErrOldBlock if the block is at or below the finalized height
//   - ErrConflictsWithFinalized if the block does not descend from the finalized block
//   - ErrFutureBlock if the block's timestamp is too far ahead of the local clock
//   - InvalidBlockError if the block is invalid
//
// A state.ProtocolViolationError is fatal for the affected fork.
func (s *State) SubmitBlock(ctx context.Context, block *flow.Block) (flow.BlockStatus, error) {
	blockID := block.ID()
	span, ctx := s.tracer.StartBlockSpan(ctx, blockID, trace.CHSubmitBlock)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return flow.BlockUnknown, ErrNotBootstrapped
	}

	status, err := s.known(blockID)
	if err != nil {
		return flow.BlockUnknown, err
	}
	if status != flow.BlockUnknown {
		return status, UnfitError{BlockID: blockID, Status: status}
	}

	status, err = s.process(ctx, block)
	if status != flow.BlockInvalid && !errors.Is(err, ErrFutureBlock) {
		s.metrics.BlockSubmitted(status)
	}
	return status, err
}

// ChunkResolved re-evaluates the pending blocks waiting for a chunk that
// reached a terminal state: blocks no longer waiting for any chunk are
// accepted, blocks carrying a rejected chunk become invalid.
func (s *State) ChunkResolved(ctx context.Context, chunkID flow.Identifier, chunkState flow.ChunkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch chunkState {
	case flow.ChunkValidated:
		for _, block := range s.pending.ChunkValidated(chunkID) {
			_, err := s.process(ctx, block)
			if err != nil && !isBlockRejection(err) {
				return err
			}
		}
	case flow.ChunkRejected:
		for _, block := range s.pending.DropForChunk(chunkID) {
			err := s.invalidate(block, NewInvalidBlockErrorf(block.ID(), "chunk %x rejected", chunkID))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// isBlockRejection reports whether err rejects a single block without
// affecting the rest of the chain.
func isBlockRejection(err error) bool {
	return IsInvalidBlockError(err) ||
		errors.Is(err, ErrConflictsWithFinalized) ||
		errors.Is(err, ErrOldBlock) ||
		errors.Is(err, ErrFutureBlock)
}

// known returns the status of a block the state already holds, or
// BlockUnknown.
func (s *State) known(blockID flow.Identifier) (flow.BlockStatus, error) {
	meta, err := s.Meta(blockID)
	if err == nil {
		return meta.Status, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not get block meta: %w", err)
	}
	if _, ok := s.pending.ByID(blockID); ok {
		return flow.BlockPending, nil
	}
	if _, ok := s.orphans.ByID(blockID); ok {
		return flow.BlockOrphan, nil
	}
	return flow.BlockUnknown, nil
}

// process moves a block as far through the state machine as it can go, then
// processes the orphans its acceptance or invalidity releases.
func (s *State) process(ctx context.Context, block *flow.Block) (flow.BlockStatus, error) {
	status, err := s.evaluate(ctx, block)
	if IsInvalidBlockError(err) {
		invalidErr := s.invalidate(block, err)
		if invalidErr != nil {
			return flow.BlockInvalid, invalidErr
		}
		return flow.BlockInvalid, err
	}
	if err != nil {
		return status, err
	}
	if status != flow.BlockAccepted {
		return status, nil
	}

	// orphans waiting for this block are processed breadth first
	queue := s.orphans.DropForParent(block.ID())
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]
		childStatus, err := s.evaluate(ctx, child)
		if IsInvalidBlockError(err) {
			err = s.invalidate(child, err)
		}
		if err != nil && !isBlockRejection(err) {
			return status, err
		}
		if childStatus == flow.BlockAccepted {
			queue = append(queue, s.orphans.DropForParent(child.ID())...)
		}
	}
	return status, nil
}

// evaluate checks the block and accepts it, or buffers it as orphan or
// pending. It does not handle invalidity.
func (s *State) evaluate(ctx context.Context, block *flow.Block) (flow.BlockStatus, error) {
	header := block.Header
	blockID := block.ID()

	if header.Height <= s.finalHeight {
		return flow.BlockUnknown, fmt.Errorf("block %x at height %d (finalized %d): %w", blockID, header.Height, s.finalHeight, ErrOldBlock)
	}
	err := s.checkStructure(blockID, header)
	if err != nil {
		return flow.BlockInvalid, err
	}
	limit := s.clock().Add(s.cfg.MaxFutureDrift)
	if header.Time().After(limit) {
		return flow.BlockUnknown, fmt.Errorf("block %x timestamp %s after %s: %w", blockID, header.Time(), limit, ErrFutureBlock)
	}

	parent, err := s.Meta(header.ParentID)
	if errors.Is(err, storage.ErrNotFound) {
		s.orphans.Add(block)
		s.log.Debug().Hex("block_id", blockID[:]).Hex("parent_id", header.ParentID[:]).Msg("orphan block buffered")
		return flow.BlockOrphan, nil
	}
	if err != nil {
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not get parent meta: %w", err)
	}
	if parent.Status == flow.BlockInvalid {
		return flow.BlockInvalid, NewInvalidBlockErrorf(blockID, "parent %x is invalid", header.ParentID)
	}

	approvalStake, err := s.checkAgainstParent(ctx, blockID, header, parent)
	if err != nil {
		return flow.BlockInvalid, err
	}

	waiting, err := s.chunkStates(ctx, blockID, header)
	if err != nil {
		return flow.BlockInvalid, err
	}
	if len(waiting) > 0 {
		evicted, _ := s.pending.Add(block, waiting)
		s.discard(evicted, flow.BlockPending)
		for _, dropped := range evicted {
			if dropped.ID() == blockID {
				s.log.Debug().Hex("block_id", blockID[:]).Msg("pending pool full, block dropped")
				return flow.BlockUnknown, nil
			}
		}
		s.log.Debug().
			Hex("block_id", blockID[:]).
			Int("waiting_chunks", len(waiting)).
			Msg("block pending on chunks")
		return flow.BlockPending, nil
	}

	return s.accept(ctx, block, parent, approvalStake)
}

// checkStructure validates the block without context.
func (s *State) checkStructure(blockID flow.Identifier, header *flow.BlockHeader) error {
	if uint32(len(header.Chunks)) != s.cfg.NumShards {
		return NewInvalidBlockErrorf(blockID, "%d chunk slots for %d shards", len(header.Chunks), s.cfg.NumShards)
	}
	for shard, slot := range header.Chunks {
		if slot.Missing != (slot.Header == nil) {
			return NewInvalidBlockErrorf(blockID, "malformed slot for shard %d", shard)
		}
		if slot.Missing {
			continue
		}
		chunk := slot.Header
		if chunk.ShardID != flow.ShardID(shard) || chunk.Height != header.Height || chunk.PrevBlockID != header.ParentID {
			return NewInvalidBlockErrorf(blockID, "chunk %x in slot %d is for shard %d at height %d on %x", chunk.ID(), shard, chunk.ShardID, chunk.Height, chunk.PrevBlockID)
		}
	}

	seen := make(map[flow.AccountID]struct{}, len(header.Approvals))
	for _, approval := range header.Approvals {
		if approval.BlockID != header.ParentID || approval.Height+1 != header.Height {
			return NewInvalidBlockErrorf(blockID, "approval by %s for %x at height %d does not endorse the parent", approval.ValidatorID, approval.BlockID, approval.Height)
		}
		if _, dup := seen[approval.ValidatorID]; dup {
			return NewInvalidBlockErrorf(blockID, "duplicate approval by %s", approval.ValidatorID)
		}
		seen[approval.ValidatorID] = struct{}{}
	}
	return nil
}

// checkAgainstParent validates the block against its accepted parent and the
// epoch assignment. Returns the stake of the approvals the block carries.
func (s *State) checkAgainstParent(ctx context.Context, blockID flow.Identifier, header *flow.BlockHeader, parent *flow.BlockMeta) (uint64, error) {
	span, _ := s.tracer.StartSpanFromContext(ctx, trace.CHValidateHeader)
	defer span.End()

	if header.Height != parent.Height+1 {
		return 0, NewInvalidBlockErrorf(blockID, "height %d does not follow parent height %d", header.Height, parent.Height)
	}
	parentBlock, err := s.blocks.ByID(header.ParentID)
	if err != nil {
		return 0, irrecoverable.NewExceptionf("could not get accepted parent %x: %w", header.ParentID, err)
	}
	if header.Timestamp <= parentBlock.Header.Timestamp {
		return 0, NewInvalidBlockErrorf(blockID, "timestamp %d not after parent timestamp %d", header.Timestamp, parentBlock.Header.Timestamp)
	}

	ancestor, err := s.ancestorAt(header.ParentID, s.finalHeight)
	if err != nil {
		return 0, irrecoverable.NewExceptionf("could not get ancestor at finalized height: %w", err)
	}
	if ancestor != s.finalized {
		return 0, fmt.Errorf("block %x descends from %x at finalized height %d: %w", blockID, ancestor, s.finalHeight, ErrConflictsWithFinalized)
	}

	epochID, err := s.epochs.EpochForNewBlock(header.ParentID)
	if err != nil {
		return 0, fmt.Errorf("could not determine epoch of block %x: %w", blockID, err)
	}
	if header.EpochID != epochID {
		return 0, NewInvalidBlockErrorf(blockID, "carries epoch %x, expected %x", header.EpochID, epochID)
	}
	epoch, err := s.epochs.EpochInfo(epochID)
	if err != nil {
		return 0, fmt.Errorf("could not get epoch %x: %w", epochID, err)
	}

	proposer, err := epoch.BlockProducer(header.Height)
	if err != nil {
		return 0, fmt.Errorf("could not get block producer: %w", err)
	}
	if header.ProposerID != proposer {
		return 0, NewInvalidBlockErrorf(blockID, "proposed by %s, scheduled proposer is %s", header.ProposerID, proposer)
	}
	vs, ok := epoch.Validator(proposer)
	if !ok {
		return 0, fmt.Errorf("scheduled proposer %s is not a validator of epoch %x", proposer, epochID)
	}
	err = s.verifier.VerifyBlock(vs.PublicKey, header)
	if signature.IsInvalidSignatureError(err) || errors.Is(err, signature.ErrInvalidFormat) {
		return 0, NewInvalidBlockErrorf(blockID, "bad proposer signature: %w", err)
	}
	if err != nil {
		return 0, fmt.Errorf("could not verify block signature: %w", err)
	}

	// approvals endorse the parent, so they are weighed in the parent's epoch
	parentEpoch, err := s.epochs.EpochInfo(parentBlock.Header.EpochID)
	if err != nil {
		return 0, fmt.Errorf("could not get parent epoch: %w", err)
	}
	var stake uint64
	for i := range header.Approvals {
		approval := &header.Approvals[i]
		validator, ok := parentEpoch.Validator(approval.ValidatorID)
		if !ok {
			return 0, NewInvalidBlockErrorf(blockID, "approval by %s, not a validator of the parent's epoch", approval.ValidatorID)
		}
		err = s.verifier.VerifyApproval(validator.PublicKey, approval)
		if signature.IsInvalidSignatureError(err) || errors.Is(err, signature.ErrInvalidFormat) {
			return 0, NewInvalidBlockErrorf(blockID, "bad approval signature: %w", err)
		}
		if err != nil {
			return 0, fmt.Errorf("could not verify approval signature: %w", err)
		}
		stake += validator.Stake
	}
	return stake, nil
}

// chunkStates submits the block's chunk headers to the pipeline and returns
// the chunks that are not validated yet.
func (s *State) chunkStates(ctx context.Context, blockID flow.Identifier, header *flow.BlockHeader) (flow.IdentifierList, error) {
	var waiting flow.IdentifierList
	for shard, slot := range header.Chunks {
		if slot.Missing {
			continue
		}
		chunkID := slot.Header.ID()
		chunkState, err := s.chunks.SubmitHeader(ctx, slot.Header)
		if chunks.IsChunkRejectedError(err) {
			return nil, NewInvalidBlockErrorf(blockID, "chunk %x of shard %d rejected: %w", chunkID, shard, err)
		}
		if err != nil {
			return nil, fmt.Errorf("could not submit chunk %x of shard %d: %w", chunkID, shard, err)
		}
		switch chunkState {
		case flow.ChunkValidated:
		case flow.ChunkRejected:
			return nil, NewInvalidBlockErrorf(blockID, "chunk %x of shard %d was rejected", chunkID, shard)
		default:
			waiting = append(waiting, chunkID)
		}
	}
	return waiting, nil
}

// shardResult is the outcome of applying one shard's slot of a block.
type shardResult struct {
	stateRoot    flow.Identifier
	outgoingRoot flow.Identifier
	receipts     receipts.ShardReceipts
}

// applyChunks executes every present chunk on its shard's state after the
// parent. Missing shards keep the parent's state and produce nothing.
func (s *State) applyChunks(ctx context.Context, blockID flow.Identifier, header *flow.BlockHeader, parent *flow.BlockMeta) ([]shardResult, error) {
	span, _ := s.tracer.StartSpanFromContext(ctx, trace.CHApplyChunks)
	defer span.End()

	results := make([]shardResult, len(header.Chunks))
	var group errgroup.Group
	for shard, slot := range header.Chunks {
		shard, slot := flow.ShardID(shard), slot
		if slot.Missing {
			results[shard] = shardResult{
				stateRoot:    parent.StateRoots[shard],
				outgoingRoot: flow.ReceiptList(nil).Root(),
			}
			continue
		}
		group.Go(func() error {
			chunkID := slot.Header.ID()
			body, err := s.chunks.Body(chunkID)
			if err != nil {
				return irrecoverable.NewExceptionf("could not get body of validated chunk %x: %w", chunkID, err)
			}
			result, err := s.runtime.Apply(shard, parent.StateRoots[shard], body.Transactions, body.IncomingReceipts)
			if err != nil {
				return irrecoverable.NewExceptionf("could not apply chunk %x: %w", chunkID, err)
			}
			outgoing := chunks.StampOutgoing(shard, header.Height, result.Outgoing)
			root := outgoing.Root()
			if root != slot.Header.OutgoingReceiptsRoot {
				return NewInvalidBlockErrorf(blockID, "executing chunk %x produced receipts root %x, header commits to %x", chunkID, root, slot.Header.OutgoingReceiptsRoot)
			}
			results[shard] = shardResult{
				stateRoot:    result.StateRoot,
				outgoingRoot: root,
				receipts: receipts.ShardReceipts{
					Incoming: body.IncomingReceipts,
					Outgoing: outgoing,
				},
			}
			return nil
		})
	}
	err := group.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// accept applies the block, routes its receipts, records it and updates
// fork choice and finality.
func (s *State) accept(ctx context.Context, block *flow.Block, parent *flow.BlockMeta, approvalStake uint64) (flow.BlockStatus, error) {
	header := block.Header
	blockID := block.ID()
	start := time.Now()

	results, err := s.applyChunks(ctx, blockID, header, parent)
	if err != nil {
		return flow.BlockInvalid, err
	}
	s.metrics.BlockApplied(time.Since(start))

	err = s.blocks.Store(block)
	if err != nil {
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not store block: %w", err)
	}

	routeSpan, _ := s.tracer.StartSpanFromContext(ctx, trace.CHRouteReceipts)
	shards := make([]receipts.ShardReceipts, len(results))
	for shard, result := range results {
		shards[shard] = result.receipts
	}
	_, err = s.router.Route(header.ParentID, blockID, header.Height, shards)
	routeSpan.End()
	if receipts.IsBackpressureError(err) {
		s.log.Warn().Err(err).Hex("block_id", blockID[:]).Msg("receipt delivery is stalling")
	} else if err != nil {
		if state.IsProtocolViolationError(err) {
			return flow.BlockUnknown, err
		}
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not route receipts: %w", err)
	}

	err = s.epochs.AddBlock(header)
	if err != nil {
		return flow.BlockUnknown, fmt.Errorf("could not record block with epoch manager: %w", err)
	}

	parentBlock, err := s.blocks.ByID(header.ParentID)
	if err != nil {
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not get parent: %w", err)
	}
	parentEpoch, err := s.epochs.EpochInfo(parentBlock.Header.EpochID)
	if err != nil {
		return flow.BlockUnknown, fmt.Errorf("could not get parent epoch: %w", err)
	}

	meta := &flow.BlockMeta{
		Status:        flow.BlockAccepted,
		Height:        header.Height,
		ParentID:      header.ParentID,
		Score:         parent.Score + approvalStake,
		ApprovalStake: approvalStake,
		Quorum:        s.cfg.QuorumFraction.ExceededBy(approvalStake, parentEpoch.TotalStake),
		StateRoots:    make([]flow.Identifier, len(results)),
		OutgoingRoots: make([]flow.Identifier, len(results)),
	}
	for shard, result := range results {
		meta.StateRoots[shard] = result.stateRoot
		meta.OutgoingRoots[shard] = result.outgoingRoot
	}
	err = operation.RetryOnConflict(s.db.Update, operation.Chain(
		operation.UpsertBlockMeta(blockID, meta),
		operation.SkipDuplicates(operation.IndexBlockChild(header.ParentID, blockID)),
	))
	if err != nil {
		return flow.BlockUnknown, irrecoverable.NewExceptionf("could not record accepted block: %w", err)
	}

	s.log.Info().
		Uint64("height", header.Height).
		Hex("block_id", blockID[:]).
		Uint64("score", meta.Score).
		Bool("quorum", meta.Quorum).
		Msg("block accepted")

	err = s.updateForkChoice(ctx, header, meta)
	if err != nil {
		return flow.BlockAccepted, err
	}
	return flow.BlockAccepted, nil
}

// updateForkChoice makes the accepted block head if it is better than the
// current head, then advances finality along the new canonical chain.
func (s *State) updateForkChoice(ctx context.Context, header *flow.BlockHeader, meta *flow.BlockMeta) error {
	span, _ := s.tracer.StartSpanFromContext(ctx, trace.CHUpdateForkChoice)
	defer span.End()

	tip := flow.TipFromHeader(header, meta.Score)
	previous := s.head
	change := flow.HeadUnchanged
	if tip.Better(previous) {
		ancestor, err := s.ancestorAt(tip.BlockID, s.finalHeight)
		if err != nil {
			return irrecoverable.NewExceptionf("could not get ancestor of head candidate: %w", err)
		}
		if ancestor != s.finalized {
			return state.NewProtocolViolationErrorf("head candidate %x does not contain finalized block %x at height %d", tip.BlockID, s.finalized, s.finalHeight)
		}
		err = operation.RetryOnConflict(s.db.Update, operation.UpsertHead(tip.BlockID))
		if err != nil {
			return irrecoverable.NewExceptionf("could not update head: %w", err)
		}
		change = flow.HeadReorg
		if header.ParentID == previous.BlockID {
			change = flow.HeadNext
		}
		s.head = tip
		s.metrics.HeadChanged(tip.Height, change)
		if change == flow.HeadReorg {
			s.log.Info().
				Hex("old_head", previous.BlockID[:]).
				Uint64("old_height", previous.Height).
				Hex("new_head", tip.BlockID[:]).
				Uint64("new_height", tip.Height).
				Msg("chain reorganized")
		}
	}

	for _, consumer := range s.consumers {
		consumer.OnBlockAccepted(header, change, previous)
	}
	if change == flow.HeadUnchanged {
		return nil
	}
	s.orphans.Prune(s.head.Height)
	s.discard(s.pending.Prune(s.head.Height), flow.BlockPending)
	return s.advanceFinality()
}

// advanceFinality finalizes the highest height H whose canonical successors
// at H+1 and H+2 both carry a quorum of approvals for their parents.
func (s *State) advanceFinality() error {
	// canonical chain from the head down to the finalized height, highest first
	var canonical []flow.Identifier
	var metas []*flow.BlockMeta
	for blockID := s.head.BlockID; ; {
		meta, err := s.accepted(blockID)
		if err != nil {
			return irrecoverable.NewExceptionf("could not walk canonical chain: %w", err)
		}
		if meta.Height <= s.finalHeight {
			break
		}
		canonical = append(canonical, blockID)
		metas = append(metas, meta)
		blockID = meta.ParentID
	}

	final := -1
	for i := 0; i+1 < len(metas); i++ {
		if metas[i].Quorum && metas[i+1].Quorum {
			// metas[i] is at H+2 and metas[i+1] at H+1
			final = i + 2
			break
		}
	}
	if final < 0 || final >= len(canonical) {
		return nil
	}

	finalizedID := canonical[final]
	finalHeight := metas[final].Height
	ops := make([]func(*badger.Txn) error, 0, len(canonical)-final+1)
	for i := len(canonical) - 1; i >= final; i-- {
		ops = append(ops, operation.IndexFinalizedBlock(metas[i].Height, canonical[i]))
	}
	ops = append(ops, operation.UpdateFinalizedHeight(finalHeight))
	err := operation.RetryOnConflict(s.db.Update, operation.Chain(ops...))
	if err != nil {
		return irrecoverable.NewExceptionf("could not index finalized blocks: %w", err)
	}
	s.finalized = finalizedID
	s.finalHeight = finalHeight
	s.metrics.FinalizedHeight(finalHeight)
	s.log.Info().
		Uint64("finalized_height", finalHeight).
		Hex("finalized_id", finalizedID[:]).
		Msg("blocks finalized")

	for i := len(canonical) - 1; i >= final; i-- {
		block, err := s.blocks.ByID(canonical[i])
		if err != nil {
			return irrecoverable.NewExceptionf("could not get finalized block: %w", err)
		}
		for _, consumer := range s.consumers {
			consumer.OnBlockFinalized(block.Header)
		}
	}
	return s.prune()
}

// prune drops everything the new finalized block makes unreachable.
func (s *State) prune() error {
	_, err := s.epochs.Prune(s.finalized)
	if err != nil {
		return fmt.Errorf("could not prune epochs: %w", err)
	}
	s.chunks.Prune(s.finalHeight + 1)
	s.discard(s.pending.PruneByHeight(s.finalHeight), flow.BlockPending)
	return nil
}

// discard notifies the consumers of blocks dropped from a buffer.
func (s *State) discard(blocks []*flow.Block, status flow.BlockStatus) {
	for _, block := range blocks {
		for _, consumer := range s.consumers {
			consumer.OnBlockDiscarded(block, status)
		}
	}
}

// invalidate records the block as invalid, together with all its buffered
// descendants.
func (s *State) invalidate(block *flow.Block, cause error) error {
	queue := []*flow.Block{block}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		currentID := current.ID()
		meta := &flow.BlockMeta{
			Status:        flow.BlockInvalid,
			Height:        current.Header.Height,
			ParentID:      current.Header.ParentID,
			InvalidReason: cause.Error(),
		}
		err := operation.RetryOnConflict(s.db.Update, operation.UpsertBlockMeta(currentID, meta))
		if err != nil {
			return irrecoverable.NewExceptionf("could not record invalid block: %w", err)
		}
		s.metrics.BlockSubmitted(flow.BlockInvalid)
		log := logging.Block(s.log.With(), current.Header).Logger()
		log.Warn().Err(cause).Msg("block invalid")
		for _, consumer := range s.consumers {
			consumer.OnBlockDiscarded(current, flow.BlockInvalid)
		}
		queue = append(queue, s.orphans.DropForParent(currentID)...)
		cause = fmt.Errorf("ancestor %x is invalid", currentID)
	}
	return nil
}

// Head returns the canonical head.
func (s *State) Head() *flow.Tip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return nil
	}
	head := *s.head
	return &head
}

// FinalizedHeight returns the latest finalized height.
func (s *State) FinalizedHeight() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalHeight
}

// Finalized returns the latest finalized block.
func (s *State) Finalized() (*flow.Block, error) {
	s.mu.Lock()
	finalizedID := s.finalized
	bootstrapped := s.head != nil
	s.mu.Unlock()
	if !bootstrapped {
		return nil, ErrNotBootstrapped
	}
	return s.blocks.ByID(finalizedID)
}

// BlockStatus returns the status of the block in the state machine.
func (s *State) BlockStatus(blockID flow.Identifier) (flow.BlockStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known(blockID)
}

// OrphanCount returns the number of buffered orphans.
func (s *State) OrphanCount() uint {
	return s.orphans.Size()
}

// PendingCount returns the number of blocks waiting for chunks.
func (s *State) PendingCount() uint {
	return s.pending.Size()
}
