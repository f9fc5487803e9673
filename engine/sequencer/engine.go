// Package sequencer coordinates the node's components: it feeds inbound
// blocks, chunk headers, chunk parts and approvals to the chunk pipeline and
// the chain state, fetches missing chunk parts, hands chunk resolutions to
// the chain and, on a validator, proposes and approves blocks.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/engine"
	"github.com/nightshard/shardnode/engine/common/fifoqueue"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/builder"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/component"
	"github.com/nightshard/shardnode/module/irrecoverable"
	"github.com/nightshard/shardnode/module/mempool"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/state"
	"github.com/nightshard/shardnode/state/chain"
	"github.com/nightshard/shardnode/utils/logging"
)

const (
	// headerCacheSize bounds the chunk headers remembered until their chunk resolves.
	headerCacheSize = 10_000
	// earlyPartsCacheSize bounds the chunks whose parts arrived before their header.
	earlyPartsCacheSize = 1_000
	// maxEarlyParts bounds the parts kept per chunk; erasure shapes never exceed it.
	maxEarlyParts = 256
)

// ChainState is the chain state as seen by the sequencer.
type ChainState interface {
	SubmitBlock(ctx context.Context, block *flow.Block) (flow.BlockStatus, error)
	ChunkResolved(ctx context.Context, chunkID flow.Identifier, chunkState flow.ChunkState) error
	Head() *flow.Tip
	AddConsumer(consumer chain.Consumer)
}

// ChunkPipeline is the chunk pipeline as seen by the sequencer.
type ChunkPipeline interface {
	SubmitHeader(ctx context.Context, header *flow.ChunkHeader) (flow.ChunkState, error)
	SubmitPart(ctx context.Context, part *flow.ChunkPart) (flow.ChunkState, error)
	State(chunkID flow.Identifier) (flow.ChunkState, error)
	Missing(chunkID flow.Identifier) []uint32
	AddConsumer(consumer chunks.ResolutionConsumer)
}

// Seats resolves the validators seated on a shard, who hold its chunk parts.
type Seats interface {
	EpochForNewBlock(parentID flow.Identifier) (flow.Identifier, error)
	ShardSeats(epochID flow.Identifier, shard flow.ShardID) ([]flow.AccountID, error)
}

// Metrics is what the sequencer and its part fetcher report.
type Metrics interface {
	module.EngineMetrics
	module.FetcherMetrics
}

type resolution struct {
	chunkID flow.Identifier
	state   flow.ChunkState
}

// shardQueues buffers the chunk headers and parts of one shard.
type shardQueues struct {
	shard   flow.ShardID
	handler *engine.MessageHandler
	headers *engine.FifoMessageStore
	parts   *engine.FifoMessageStore
}

// Engine is the sequencer. Blocks and approvals are buffered in one FIFO
// queue per kind and processed by a single worker, so the chain sees them in
// order. Chunk headers and parts go to the queues of their shard, each
// drained by its own worker, so chunks of different shards are reconstructed
// concurrently. Chunk resolutions reported by the pipeline are applied to the
// chain by another worker, never from within a pipeline or chain call.
type Engine struct {
	*component.ComponentManager
	log       zerolog.Logger
	metrics   Metrics
	local     flow.AccountID
	chain     ChainState
	pipeline  ChunkPipeline
	seats     Seats
	fetcher   *chunks.Fetcher
	chunkPool mempool.ChunkHeaders
	approvals mempool.Approvals
	headers   *lru.Cache[flow.Identifier, *flow.ChunkHeader]
	early     *lru.Cache[flow.Identifier, []*flow.ChunkPart]
	cfg       Config

	handler       *engine.MessageHandler
	blocks        *engine.FifoMessageStore
	approvalQueue *engine.FifoMessageStore
	shards        []*shardQueues

	// routeMu orders the routing of parts against the arrival of their
	// header, and guards the read-modify-write of the early part cache.
	routeMu sync.Mutex

	resolutions        *fifoqueue.FifoQueue
	resolutionNotifier engine.Notifier
	// overflow holds the chunks whose resolution did not fit in the queue;
	// their state is read back from the pipeline.
	overflowMu sync.Mutex
	overflow   map[flow.Identifier]struct{}

	// set on validators only
	builder module.Builder
	signer  *signature.Signer
}

var _ chain.Consumer = (*Engine)(nil)

// WithProposer makes the engine propose blocks when the local validator is
// scheduled, and approve every new canonical head.
func WithProposer(builder module.Builder, signer *signature.Signer) func(*Engine) {
	return func(e *Engine) {
		e.builder = builder
		e.signer = signer
	}
}

// New creates the sequencer and subscribes it to the pipeline and chain.
func New(
	log zerolog.Logger,
	protocol config.ProtocolConfig,
	cfg Config,
	collector Metrics,
	local flow.AccountID,
	chainState ChainState,
	pipeline ChunkPipeline,
	seats Seats,
	requester module.PartRequester,
	chunkPool mempool.ChunkHeaders,
	approvals mempool.Approvals,
	options ...func(*Engine),
) (*Engine, error) {
	blocks, err := engine.NewFifoMessageStore(cfg.BlockQueueCapacity, queueLength(collector, metrics.MessageBlock))
	if err != nil {
		return nil, fmt.Errorf("could not create block queue: %w", err)
	}
	approvalQueue, err := engine.NewFifoMessageStore(cfg.ApprovalQueueCapacity, queueLength(collector, metrics.MessageApproval))
	if err != nil {
		return nil, fmt.Errorf("could not create approval queue: %w", err)
	}
	resolutions, err := fifoqueue.NewFifoQueue(cfg.ResolutionQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("could not create resolution queue: %w", err)
	}
	headers, err := lru.New[flow.Identifier, *flow.ChunkHeader](headerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create chunk header cache: %w", err)
	}
	early, err := lru.New[flow.Identifier, []*flow.ChunkPart](earlyPartsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create early part cache: %w", err)
	}

	e := &Engine{
		log:                log.With().Str("engine", metrics.EngineSequencer).Logger(),
		metrics:            collector,
		local:              local,
		chain:              chainState,
		pipeline:           pipeline,
		seats:              seats,
		chunkPool:          chunkPool,
		approvals:          approvals,
		headers:            headers,
		early:              early,
		cfg:                cfg,
		blocks:             blocks,
		approvalQueue:      approvalQueue,
		resolutions:        resolutions,
		resolutionNotifier: engine.NewNotifier(),
		overflow:           make(map[flow.Identifier]struct{}),
	}
	for _, option := range options {
		option(e)
	}
	for i := uint32(0); i < protocol.NumShards; i++ {
		queues, err := e.newShardQueues(flow.ShardID(i))
		if err != nil {
			return nil, err
		}
		e.shards = append(e.shards, queues)
	}

	e.handler = engine.NewMessageHandler(e.log, engine.NewNotifier(),
		engine.Pattern{
			Match: matchType[*flow.Block],
			Store: blocks,
		},
		engine.Pattern{
			Match: matchType[*flow.Approval],
			Store: approvalQueue,
		},
	)
	e.fetcher = chunks.NewFetcher(e.log, protocol, collector, requester, func(_ context.Context, part *flow.ChunkPart) {
		e.SubmitChunkPart(e.local, part)
	})

	pipeline.AddConsumer(e.onChunkResolved)
	chainState.AddConsumer(e)

	cm := component.NewComponentManagerBuilder().
		AddWorker(e.processInbound).
		AddWorker(e.processResolutions).
		AddWorker(e.stopFetcher)
	for _, queues := range e.shards {
		cm.AddWorker(e.processShard(queues))
	}
	if e.builder != nil {
		cm.AddWorker(e.propose)
	}
	e.ComponentManager = cm.Build()
	return e, nil
}

func (e *Engine) newShardQueues(shard flow.ShardID) (*shardQueues, error) {
	label := fmt.Sprintf("%s_shard_%d", metrics.EngineSequencer, shard)
	headers, err := engine.NewFifoMessageStore(e.cfg.ChunkQueueCapacity, shardQueueLength(e.metrics, label, metrics.MessageChunkHeader))
	if err != nil {
		return nil, fmt.Errorf("could not create chunk header queue of shard %d: %w", shard, err)
	}
	parts, err := engine.NewFifoMessageStore(e.cfg.PartQueueCapacity, shardQueueLength(e.metrics, label, metrics.MessageChunkPart))
	if err != nil {
		return nil, fmt.Errorf("could not create chunk part queue of shard %d: %w", shard, err)
	}
	return &shardQueues{
		shard:   shard,
		headers: headers,
		parts:   parts,
		handler: engine.NewMessageHandler(e.log.With().Uint32("shard", uint32(shard)).Logger(), engine.NewNotifier(),
			engine.Pattern{
				Match: matchType[*flow.ChunkHeader],
				Store: headers,
			},
			engine.Pattern{
				Match: matchType[*flow.ChunkPart],
				Store: parts,
			},
		),
	}, nil
}

// queueLength reports the length of an inbound queue.
func queueLength(collector Metrics, message string) fifoqueue.ConstructorOption {
	return shardQueueLength(collector, metrics.EngineSequencer, message)
}

func shardQueueLength(collector Metrics, label string, message string) fifoqueue.ConstructorOption {
	return fifoqueue.WithLengthObserver(func(length int) {
		collector.InboundQueueLength(label, message, length)
	})
}

func matchType[T any](msg *engine.Message) bool {
	_, ok := msg.Payload.(T)
	return ok
}

// SubmitBlock queues a block received from the origin.
func (e *Engine) SubmitBlock(originID flow.AccountID, block *flow.Block) {
	e.submit(originID, metrics.MessageBlock, block)
}

// SubmitChunkHeader queues a chunk header received from the origin on the
// queue of its shard.
func (e *Engine) SubmitChunkHeader(originID flow.AccountID, header *flow.ChunkHeader) {
	e.metrics.MessageReceived(metrics.EngineSequencer, metrics.MessageChunkHeader)
	if int(header.ShardID) >= len(e.shards) {
		e.log.Debug().
			Str("origin_id", string(originID)).
			Uint32("shard", uint32(header.ShardID)).
			Msg("chunk header of unknown shard")
		e.metrics.InboundMessageDropped(metrics.EngineSequencer, metrics.MessageChunkHeader)
		return
	}
	if !e.shards[header.ShardID].handler.Process(originID, header) {
		e.metrics.InboundMessageDropped(metrics.EngineSequencer, metrics.MessageChunkHeader)
	}
}

// SubmitChunkPart queues a chunk part received from the origin on the queue
// of its chunk's shard. A part of a chunk whose header is not known yet is
// kept until the header arrives.
func (e *Engine) SubmitChunkPart(originID flow.AccountID, part *flow.ChunkPart) {
	e.metrics.MessageReceived(metrics.EngineSequencer, metrics.MessageChunkPart)
	e.routeMu.Lock()
	header, ok := e.headers.Get(part.ChunkID)
	if !ok {
		e.stashLocked(part)
		e.routeMu.Unlock()
		return
	}
	e.routeMu.Unlock()
	if !e.shards[header.ShardID].handler.Process(originID, part) {
		e.metrics.InboundMessageDropped(metrics.EngineSequencer, metrics.MessageChunkPart)
	}
}

// SubmitApproval queues an approval received from the origin.
func (e *Engine) SubmitApproval(originID flow.AccountID, approval *flow.Approval) {
	e.submit(originID, metrics.MessageApproval, approval)
}

func (e *Engine) submit(originID flow.AccountID, message string, payload interface{}) {
	e.metrics.MessageReceived(metrics.EngineSequencer, message)
	if !e.handler.Process(originID, payload) {
		e.metrics.InboundMessageDropped(metrics.EngineSequencer, message)
	}
}

// onChunkResolved is called by the pipeline, possibly while the chain state
// is locked; the resolution is applied by the resolution worker. When the
// queue is full only the chunk ID is kept, and the worker reads the state
// back from the pipeline.
func (e *Engine) onChunkResolved(chunkID flow.Identifier, chunkState flow.ChunkState) {
	if !e.resolutions.Push(resolution{chunkID: chunkID, state: chunkState}) {
		e.log.Warn().
			Hex("chunk_id", chunkID[:]).
			Str("state", chunkState.String()).
			Msg("resolution queue full, deferring chunk resolution")
		e.overflowMu.Lock()
		e.overflow[chunkID] = struct{}{}
		e.overflowMu.Unlock()
	}
	e.resolutionNotifier.Notify()
}

func (e *Engine) processInbound(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.handler.GetNotifier():
			err := e.processAvailableMessages(ctx)
			if err != nil {
				ctx.Throw(err)
				return
			}
		}
	}
}

// processAvailableMessages drains the block and approval queues. Approvals
// come first since they may decide between the forks the blocks extend.
func (e *Engine) processAvailableMessages(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := e.approvalQueue.Get()
		if ok {
			e.onApproval(msg.Payload.(*flow.Approval))
			e.metrics.MessageHandled(metrics.EngineSequencer, metrics.MessageApproval)
			continue
		}
		msg, ok = e.blocks.Get()
		if ok {
			err := e.onBlock(ctx, msg.OriginID, msg.Payload.(*flow.Block))
			if err != nil {
				return fmt.Errorf("could not process block: %w", err)
			}
			e.metrics.MessageHandled(metrics.EngineSequencer, metrics.MessageBlock)
			continue
		}
		return nil
	}
}

// processShard returns the worker draining the chunk queues of a shard.
func (e *Engine) processShard(queues *shardQueues) component.ComponentWorker {
	return func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
		ready()
		for {
			select {
			case <-ctx.Done():
				return
			case <-queues.handler.GetNotifier():
				err := e.processShardMessages(ctx, queues)
				if err != nil {
					ctx.Throw(fmt.Errorf("could not process chunks of shard %d: %w", queues.shard, err))
					return
				}
			}
		}
	}
}

// processShardMessages drains the queues of a shard. Parts come first since
// they complete chunks that buffered blocks are waiting for.
func (e *Engine) processShardMessages(ctx context.Context, queues *shardQueues) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := queues.parts.Get()
		if ok {
			e.onChunkPart(ctx, msg.OriginID, msg.Payload.(*flow.ChunkPart))
			e.metrics.MessageHandled(metrics.EngineSequencer, metrics.MessageChunkPart)
			continue
		}
		msg, ok = queues.headers.Get()
		if ok {
			err := e.onChunkHeader(ctx, msg.OriginID, msg.Payload.(*flow.ChunkHeader))
			if err != nil {
				return fmt.Errorf("could not process chunk header: %w", err)
			}
			e.metrics.MessageHandled(metrics.EngineSequencer, metrics.MessageChunkHeader)
			continue
		}
		return nil
	}
}

// stashLocked keeps a part until the header of its chunk arrives. The caller
// holds routeMu.
func (e *Engine) stashLocked(part *flow.ChunkPart) {
	parts, _ := e.early.Get(part.ChunkID)
	if len(parts) < maxEarlyParts {
		e.early.Add(part.ChunkID, append(parts[:len(parts):len(parts)], part))
	}
}

// takeEarly removes and returns the parts kept for the chunk.
func (e *Engine) takeEarly(chunkID flow.Identifier) []*flow.ChunkPart {
	e.routeMu.Lock()
	defer e.routeMu.Unlock()
	parts, ok := e.early.Get(chunkID)
	if ok {
		e.early.Remove(chunkID)
	}
	return parts
}

func (e *Engine) onChunkPart(ctx context.Context, originID flow.AccountID, part *flow.ChunkPart) {
	_, err := e.pipeline.SubmitPart(ctx, part)
	if errors.Is(err, chunks.ErrUnknownChunk) {
		e.routeMu.Lock()
		e.stashLocked(part)
		e.routeMu.Unlock()
		return
	}
	if err != nil {
		e.log.Debug().Err(err).
			Str("origin_id", string(originID)).
			Hex("chunk_id", part.ChunkID[:]).
			Uint32("index", part.Index).
			Msg("chunk part not accepted")
	}
}

func (e *Engine) onChunkHeader(ctx context.Context, originID flow.AccountID, header *flow.ChunkHeader) error {
	chunkID := header.ID()
	log := logging.Chunk(e.log.With(), header).Str("origin_id", string(originID)).Logger()

	e.routeMu.Lock()
	e.headers.Add(chunkID, header)
	e.routeMu.Unlock()
	chunkState, err := e.pipeline.SubmitHeader(ctx, header)
	if chunks.IsChunkRejectedError(err) {
		log.Warn().Err(err).Msg("chunk header rejected")
		return nil
	}
	if errors.Is(err, chunks.ErrUnknownPrevBlock) {
		log.Debug().Err(err).Msg("chunk builds on unknown block, dropping")
		return nil
	}
	if err != nil {
		if state.IsProtocolViolationError(err) || irrecoverable.IsException(err) {
			return err
		}
		log.Warn().Err(err).Msg("could not submit chunk header")
		return nil
	}
	if chunkState == flow.ChunkValidated {
		e.chunkPool.Add(header)
		return nil
	}
	for _, part := range e.takeEarly(chunkID) {
		e.onChunkPart(ctx, originID, part)
	}
	e.fetchMissing(header)
	return nil
}

// fetchMissing starts retrieving the parts of the chunk that did not arrive yet.
func (e *Engine) fetchMissing(header *flow.ChunkHeader) {
	chunkID := header.ID()
	missing := e.pipeline.Missing(chunkID)
	if len(missing) == 0 {
		return
	}
	epochID, err := e.seats.EpochForNewBlock(header.PrevBlockID)
	if err != nil {
		e.log.Debug().Err(err).Hex("chunk_id", chunkID[:]).Msg("could not determine chunk epoch")
		return
	}
	seats, err := e.seats.ShardSeats(epochID, header.ShardID)
	if err != nil {
		e.log.Debug().Err(err).Hex("chunk_id", chunkID[:]).Msg("could not get shard seats")
		return
	}
	peers := make([]flow.AccountID, 0, len(seats))
	seen := make(map[flow.AccountID]struct{}, len(seats))
	for _, account := range seats {
		if _, dup := seen[account]; dup || account == e.local {
			continue
		}
		seen[account] = struct{}{}
		peers = append(peers, account)
	}
	e.fetcher.Fetch(chunkID, peers, missing)
}

func (e *Engine) onApproval(approval *flow.Approval) {
	head := e.chain.Head()
	if head != nil && approval.Height+1 < head.Height {
		return
	}
	e.approvals.Add(approval)
}

func (e *Engine) onBlock(ctx context.Context, originID flow.AccountID, block *flow.Block) error {
	log := logging.Block(e.log.With(), block.Header).Str("origin_id", string(originID)).Logger()
	e.routeMu.Lock()
	for _, slot := range block.Header.Chunks {
		if !slot.Missing && slot.Header != nil {
			e.headers.Add(slot.Header.ID(), slot.Header)
		}
	}
	e.routeMu.Unlock()

	status, err := e.chain.SubmitBlock(ctx, block)
	switch {
	case err == nil:
	case chain.IsInvalidBlockError(err):
		log.Warn().Err(err).Msg("invalid block")
		return nil
	case chain.IsUnfitError(err),
		errors.Is(err, chain.ErrOldBlock),
		errors.Is(err, chain.ErrConflictsWithFinalized),
		errors.Is(err, chain.ErrFutureBlock):
		log.Debug().Err(err).Msg("block not processed")
		return nil
	case state.IsProtocolViolationError(err), irrecoverable.IsException(err):
		return err
	default:
		log.Warn().Err(err).Msg("could not submit block")
		return nil
	}

	log.Debug().Str("status", status.String()).Msg("block processed")
	if status == flow.BlockPending {
		for _, slot := range block.Header.Chunks {
			if slot.Missing || slot.Header == nil {
				continue
			}
			// parts that arrived before the block go to the shard queue
			// now that the pipeline tracks the chunk
			queues := e.shards[slot.Header.ShardID]
			for _, part := range e.takeEarly(slot.Header.ID()) {
				if !queues.handler.Process(originID, part) {
					e.metrics.InboundMessageDropped(metrics.EngineSequencer, metrics.MessageChunkPart)
				}
			}
			e.fetchMissing(slot.Header)
		}
	}
	return nil
}

func (e *Engine) processResolutions(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.resolutionNotifier.Channel():
			for {
				item, ok := e.resolutions.Pop()
				if !ok {
					break
				}
				r := item.(resolution)
				err := e.resolve(ctx, r)
				if err != nil {
					ctx.Throw(fmt.Errorf("could not apply resolution of chunk %x: %w", r.chunkID, err))
					return
				}
			}
			err := e.resolveOverflow(ctx)
			if err != nil {
				ctx.Throw(err)
				return
			}
		}
	}
}

// resolveOverflow applies the resolutions that did not fit in the queue,
// reading the state of each chunk back from the pipeline.
func (e *Engine) resolveOverflow(ctx context.Context) error {
	e.overflowMu.Lock()
	if len(e.overflow) == 0 {
		e.overflowMu.Unlock()
		return nil
	}
	overflow := e.overflow
	e.overflow = make(map[flow.Identifier]struct{})
	e.overflowMu.Unlock()

	for chunkID := range overflow {
		chunkState, err := e.pipeline.State(chunkID)
		if err != nil {
			return fmt.Errorf("could not read state of chunk %x: %w", chunkID, err)
		}
		if !chunkState.Terminal() {
			continue
		}
		err = e.resolve(ctx, resolution{chunkID: chunkID, state: chunkState})
		if err != nil {
			return fmt.Errorf("could not apply resolution of chunk %x: %w", chunkID, err)
		}
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, r resolution) error {
	e.fetcher.Cancel(r.chunkID)
	header, known := e.headers.Get(r.chunkID)
	if known {
		e.headers.Remove(r.chunkID)
	}
	if r.state == flow.ChunkValidated && known {
		e.chunkPool.Add(header)
	}
	if r.state == flow.ChunkRejected {
		e.chunkPool.Remove(r.chunkID)
	}
	return e.chain.ChunkResolved(ctx, r.chunkID, r.state)
}

func (e *Engine) stopFetcher(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	<-ctx.Done()
	e.fetcher.Stop()
}

// propose periodically builds a block on the head when the local validator
// is scheduled and submits it like any other block.
func (e *Engine) propose(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	ticker := time.NewTicker(e.cfg.ProposalInterval)
	defer ticker.Stop()

	var lastParent flow.Identifier
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head := e.chain.Head()
		if head == nil || head.BlockID == lastParent {
			continue
		}
		block, err := e.builder.BuildOn(head.BlockID, func(*flow.BlockHeader) error { return nil }, e.signer.SignBlock)
		if errors.Is(err, builder.ErrNotProposer) {
			continue
		}
		if err != nil {
			e.log.Warn().Err(err).Hex("parent_id", head.BlockID[:]).Msg("could not build block")
			continue
		}
		lastParent = head.BlockID
		blockID := block.ID()
		e.log.Info().
			Uint64("height", block.Header.Height).
			Hex("block_id", blockID[:]).
			Msg("proposing block")
		e.SubmitBlock(e.local, block)
	}
}

// OnBlockAccepted approves a new canonical head.
func (e *Engine) OnBlockAccepted(header *flow.BlockHeader, change flow.HeadChange, _ *flow.Tip) {
	if e.signer == nil || change == flow.HeadUnchanged {
		return
	}
	approval, err := e.signer.Approve(header.ID(), header.Height)
	if err != nil {
		e.log.Error().Err(err).Msg("could not approve head")
		return
	}
	e.approvals.Add(&approval)
}

// OnBlockFinalized drops pooled chunks and approvals no block on top of the
// finalized one can include anymore.
func (e *Engine) OnBlockFinalized(header *flow.BlockHeader) {
	e.chunkPool.PruneUpToHeight(header.Height)
	if header.Height > 0 {
		e.approvals.PruneUpToHeight(header.Height - 1)
	}
}

// OnBlockDiscarded stops fetching the chunks of a discarded block.
func (e *Engine) OnBlockDiscarded(block *flow.Block, status flow.BlockStatus) {
	for _, slot := range block.Header.Chunks {
		if !slot.Missing && slot.Header != nil {
			e.fetcher.Cancel(slot.Header.ID())
		}
	}
	blockID := block.ID()
	e.log.Debug().
		Hex("block_id", blockID[:]).
		Str("status", status.String()).
		Msg("block discarded")
}
