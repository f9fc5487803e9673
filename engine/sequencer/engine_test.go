package sequencer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/engine/sequencer"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/builder"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/module/execution"
	"github.com/nightshard/shardnode/module/irrecoverable"
	"github.com/nightshard/shardnode/module/mempool/stdmap"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/module/receipts"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/module/trace"
	"github.com/nightshard/shardnode/state/chain"
	bstorage "github.com/nightshard/shardnode/storage/badger"
	"github.com/nightshard/shardnode/utils/unittest"
)

// partStore serves the parts of the chunks it holds to any peer.
type partStore struct {
	mu    sync.Mutex
	parts map[flow.Identifier][]*flow.ChunkPart
	calls int
}

func (p *partStore) RequestParts(_ context.Context, _ flow.AccountID, chunkID flow.Identifier, indices []uint32) ([]*flow.ChunkPart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	var parts []*flow.ChunkPart
	for _, index := range indices {
		if int(index) < len(p.parts[chunkID]) {
			parts = append(parts, p.parts[chunkID][index])
		}
	}
	return parts, nil
}

// node wires a full set of components on a fresh database.
type node struct {
	t          *testing.T
	db         *badger.DB
	cfg        config.ProtocolConfig
	validators *unittest.Validators
	collector  *metrics.NoopCollector
	coder      *erasure.Coder
	manager    *epochmgr.Manager
	reader     *chain.Reader
	router     *receipts.Router
	runtime    *execution.Runtime
	blocks     *bstorage.Blocks
	pipeline   *chunks.Pipeline
	state      *chain.State
	chunkPool  *stdmap.ChunkHeaders
	approvals  *stdmap.Approvals
	requester  *partStore
	genesis    *flow.Block
}

func newNode(t *testing.T) *node {
	n := &node{
		t:          t,
		db:         unittest.BadgerDB(t, unittest.TempDir(t)),
		cfg:        unittest.ProtocolConfigFixture(),
		validators: unittest.ValidatorsFixture(t, 8, 100),
		collector:  metrics.NewNoopCollector(),
		chunkPool:  stdmap.NewChunkHeaders(),
		approvals:  stdmap.NewApprovals(),
		requester:  &partStore{parts: make(map[flow.Identifier][]*flow.ChunkPart)},
	}
	var err error
	n.coder, err = erasure.NewCoder(n.cfg.Erasure)
	require.NoError(t, err)
	n.manager = epochmgr.NewManager(unittest.Logger(), n.cfg, n.collector, bstorage.NewEpochs(n.collector, n.db))
	n.reader = chain.NewReader(n.db)
	n.router = receipts.NewRouter(unittest.Logger(), n.cfg, n.collector, bstorage.NewReceipts(n.collector, n.db))
	n.runtime = execution.NewRuntime(unittest.Logger(), bstorage.NewStateStore(n.collector, n.db))
	n.blocks = bstorage.NewBlocks(n.collector, n.db)
	verifier, err := signature.NewVerifier(signature.DefaultKeyCacheSize)
	require.NoError(t, err)
	n.pipeline = chunks.NewPipeline(unittest.Logger(), n.collector, trace.NewNoopTracer(), n.coder, n.manager, n.reader, n.router, verifier, bstorage.NewChunks(n.collector, n.db))
	n.state, err = chain.NewState(unittest.Logger(), n.cfg, n.collector, trace.NewNoopTracer(), n.db, n.reader, n.blocks,
		n.manager, n.pipeline, n.router, n.runtime, verifier,
		chain.WithClock(func() time.Time { return time.UnixMilli(1_600_000_000_000).Add(24 * time.Hour) }))
	require.NoError(t, err)

	genesisCfg := unittest.GenesisFixture(n.validators)
	n.genesis = flow.Genesis(n.cfg.NumShards, epochmgr.FirstEpochID(), genesisCfg.Timestamp)
	require.NoError(t, n.state.Bootstrap(n.genesis, genesisCfg))
	return n
}

func (n *node) close() {
	require.NoError(n.t, n.db.Close())
}

func (n *node) engine(local flow.AccountID, options ...func(*sequencer.Engine)) *sequencer.Engine {
	cfg := sequencer.DefaultConfig()
	cfg.ProposalInterval = 10 * time.Millisecond
	e, err := sequencer.New(unittest.Logger(), n.cfg, cfg, n.collector, local, n.state, n.pipeline, n.manager, n.requester, n.chunkPool, n.approvals, options...)
	require.NoError(n.t, err)
	return e
}

// run starts the engine and returns a function stopping it.
func run(t *testing.T, e *sequencer.Engine) func() {
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(irrecoverable.NewMockSignalerContext(t, ctx))
	unittest.RequireCloseBefore(t, e.Ready(), time.Second, "engine not ready")
	return func() {
		cancel()
		unittest.RequireCloseBefore(t, e.Done(), 2*time.Second, "engine not done")
	}
}

// epochInfo returns the epoch of blocks built on genesis.
func (n *node) epochInfo() *flow.EpochInfo {
	epochID, err := n.manager.EpochForNewBlock(n.genesis.ID())
	require.NoError(n.t, err)
	epoch, err := n.manager.EpochInfo(epochID)
	require.NoError(n.t, err)
	return epoch
}

// A block whose chunk parts are missing is completed by fetching the parts
// from the shard's seats, then accepted.
func TestFetchesMissingPartsOfPendingBlock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := newNode(t)
	defer n.close()

	e := n.engine(unittest.AccountFixture(7))
	stop := run(t, e)
	defer stop()

	epoch := n.epochInfo()
	producer, err := epoch.ChunkProducer(0, 1)
	require.NoError(t, err)
	p := chunks.NewProducer(unittest.Logger(), n.collector, trace.NewNoopTracer(), n.coder, n.runtime, n.reader, n.validators.Signer(t, producer))
	chunk, parts, err := p.Produce(context.Background(), 0, 1, n.genesis.ID(), []*flow.Transaction{unittest.TransactionFixture(0, 0)}, nil)
	require.NoError(t, err)
	n.requester.mu.Lock()
	n.requester.parts[chunk.Header.ID()] = parts
	n.requester.mu.Unlock()

	proposer, err := epoch.BlockProducer(1)
	require.NoError(t, err)
	slots := make([]flow.ChunkSlot, n.cfg.NumShards)
	for i := range slots {
		slots[i] = flow.MissingSlot()
	}
	slots[0] = flow.PresentSlot(chunk.Header)
	header := &flow.BlockHeader{
		Height:     1,
		ParentID:   n.genesis.ID(),
		Timestamp:  n.genesis.Header.Timestamp + 1000,
		EpochID:    epoch.ID,
		ProposerID: proposer,
		Chunks:     slots,
	}
	require.NoError(t, n.validators.Signer(t, proposer).SignBlock(header))
	block := &flow.Block{Header: header}

	e.SubmitBlock(proposer, block)

	require.Eventually(t, func() bool {
		return n.state.Head().BlockID == block.ID()
	}, 3*time.Second, 10*time.Millisecond)
	n.requester.mu.Lock()
	assert.Positive(t, n.requester.calls)
	n.requester.mu.Unlock()
	_, ok := n.chunkPool.ByParent(n.genesis.ID(), 0)
	assert.True(t, ok, "validated chunk header should be pooled")
}

// A validated chunk header submitted on its own lands in the chunk pool.
func TestChunkHeaderPooledOnceValidated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := newNode(t)
	defer n.close()

	e := n.engine(unittest.AccountFixture(7))
	stop := run(t, e)
	defer stop()

	producer, err := n.epochInfo().ChunkProducer(2, 1)
	require.NoError(t, err)
	p := chunks.NewProducer(unittest.Logger(), n.collector, trace.NewNoopTracer(), n.coder, n.runtime, n.reader, n.validators.Signer(t, producer))
	chunk, parts, err := p.Produce(context.Background(), 2, 1, n.genesis.ID(), []*flow.Transaction{unittest.TransactionFixture(2, 1)}, nil)
	require.NoError(t, err)

	e.SubmitChunkHeader(producer, chunk.Header)
	for _, part := range parts {
		e.SubmitChunkPart(producer, part)
	}

	require.Eventually(t, func() bool {
		pooled, ok := n.chunkPool.ByParent(n.genesis.ID(), 2)
		return ok && pooled.ID() == chunk.Header.ID()
	}, 3*time.Second, 10*time.Millisecond)
}

// The scheduled proposer builds on the head from the pooled approvals.
func TestProposerExtendsHead(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := newNode(t)
	defer n.close()

	epoch := n.epochInfo()
	proposer, err := epoch.BlockProducer(1)
	require.NoError(t, err)
	b := builder.NewBuilder(unittest.Logger(), proposer, n.cfg.NumShards, n.manager, n.blocks, n.chunkPool, n.approvals)
	e := n.engine(proposer, sequencer.WithProposer(b, n.validators.Signer(t, proposer)))
	stop := run(t, e)
	defer stop()

	for _, vs := range epoch.Validators {
		approval, err := n.validators.Signer(t, vs.AccountID).Approve(n.genesis.ID(), 0)
		require.NoError(t, err)
		e.SubmitApproval(vs.AccountID, &approval)
	}

	require.Eventually(t, func() bool {
		return n.state.Head().Height >= 1
	}, 3*time.Second, 10*time.Millisecond)
	head := n.state.Head()
	assert.Equal(t, n.genesis.ID(), head.ParentID)
	assert.Positive(t, head.Score)

	// the new head is approved by the local validator
	require.Eventually(t, func() bool {
		for _, approval := range n.approvals.ByBlockID(head.BlockID) {
			if approval.ValidatorID == proposer {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

// gatedPipeline tracks chunk headers and holds every part it receives until
// released, reporting the chunk of each held part.
type gatedPipeline struct {
	mu       sync.Mutex
	states   map[flow.Identifier]flow.ChunkState
	consumer chunks.ResolutionConsumer
	entered  chan flow.Identifier
	release  chan struct{}
}

func newGatedPipeline() *gatedPipeline {
	return &gatedPipeline{
		states:  make(map[flow.Identifier]flow.ChunkState),
		entered: make(chan flow.Identifier, 16),
		release: make(chan struct{}),
	}
}

func (p *gatedPipeline) SubmitHeader(_ context.Context, header *flow.ChunkHeader) (flow.ChunkState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[header.ID()] = flow.ChunkCollecting
	return flow.ChunkCollecting, nil
}

func (p *gatedPipeline) SubmitPart(ctx context.Context, part *flow.ChunkPart) (flow.ChunkState, error) {
	p.mu.Lock()
	_, ok := p.states[part.ChunkID]
	p.mu.Unlock()
	if !ok {
		return flow.ChunkUnknown, chunks.ErrUnknownChunk
	}
	p.entered <- part.ChunkID
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return flow.ChunkCollecting, nil
}

func (p *gatedPipeline) State(chunkID flow.Identifier) (flow.ChunkState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[chunkID], nil
}

func (p *gatedPipeline) Missing(flow.Identifier) []uint32 { return nil }

func (p *gatedPipeline) AddConsumer(consumer chunks.ResolutionConsumer) { p.consumer = consumer }

// resolve moves the chunk to a terminal state and reports it.
func (p *gatedPipeline) resolve(chunkID flow.Identifier, state flow.ChunkState) {
	p.mu.Lock()
	p.states[chunkID] = state
	p.mu.Unlock()
	p.consumer(chunkID, state)
}

// resolvedChain records the chunk resolutions applied to it.
type resolvedChain struct {
	mu       sync.Mutex
	resolved map[flow.Identifier]flow.ChunkState
}

func (c *resolvedChain) SubmitBlock(context.Context, *flow.Block) (flow.BlockStatus, error) {
	return flow.BlockUnknown, nil
}

func (c *resolvedChain) ChunkResolved(_ context.Context, chunkID flow.Identifier, state flow.ChunkState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[chunkID] = state
	return nil
}

func (c *resolvedChain) Head() *flow.Tip { return nil }

func (c *resolvedChain) AddConsumer(chain.Consumer) {}

func (c *resolvedChain) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resolved)
}

type noSeats struct{}

func (noSeats) EpochForNewBlock(flow.Identifier) (flow.Identifier, error) { return flow.ZeroID, nil }

func (noSeats) ShardSeats(flow.Identifier, flow.ShardID) ([]flow.AccountID, error) { return nil, nil }

// isolatedEngine builds an engine on the given pipeline and chain, with no database.
func isolatedEngine(t *testing.T, pipeline sequencer.ChunkPipeline, chainState sequencer.ChainState, cfg sequencer.Config) *sequencer.Engine {
	e, err := sequencer.New(unittest.Logger(), unittest.ProtocolConfigFixture(), cfg, metrics.NewNoopCollector(),
		unittest.AccountFixture(7), chainState, pipeline, noSeats{},
		&partStore{parts: make(map[flow.Identifier][]*flow.ChunkPart)}, stdmap.NewChunkHeaders(), stdmap.NewApprovals())
	require.NoError(t, err)
	return e
}

// Parts of chunks on different shards are processed by different workers: a
// part of shard 0 held in the pipeline does not stop a part of shard 1.
func TestShardsReconstructConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pipeline := newGatedPipeline()
	e := isolatedEngine(t, pipeline, &resolvedChain{resolved: make(map[flow.Identifier]flow.ChunkState)}, sequencer.DefaultConfig())
	stop := run(t, e)
	defer stop()
	defer close(pipeline.release)

	origin := unittest.AccountFixture(3)
	prevBlockID := unittest.IdentifierFixture()
	headers := []*flow.ChunkHeader{
		{ShardID: 0, Height: 1, PrevBlockID: prevBlockID},
		{ShardID: 1, Height: 1, PrevBlockID: prevBlockID},
	}
	for _, header := range headers {
		e.SubmitChunkHeader(origin, header)
		e.SubmitChunkPart(origin, &flow.ChunkPart{ChunkID: header.ID(), Index: 0})
	}

	held := make(map[flow.Identifier]struct{})
	for len(held) < len(headers) {
		select {
		case chunkID := <-pipeline.entered:
			held[chunkID] = struct{}{}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d shards are reconstructing", len(held), len(headers))
		}
	}
	for _, header := range headers {
		assert.Contains(t, held, header.ID())
	}
}

// Resolutions that do not fit in the resolution queue are still applied,
// with the chunk state read back from the pipeline.
func TestResolutionsBeyondQueueCapacity(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pipeline := newGatedPipeline()
	chainState := &resolvedChain{resolved: make(map[flow.Identifier]flow.ChunkState)}
	cfg := sequencer.DefaultConfig()
	cfg.ResolutionQueueCapacity = 1
	e := isolatedEngine(t, pipeline, chainState, cfg)

	validated := unittest.IdentifierListFixture(3)
	rejected := unittest.IdentifierFixture()
	for _, chunkID := range validated {
		pipeline.resolve(chunkID, flow.ChunkValidated)
	}
	pipeline.resolve(rejected, flow.ChunkRejected)

	stop := run(t, e)
	defer stop()

	require.Eventually(t, func() bool {
		return chainState.count() == len(validated)+1
	}, 2*time.Second, 10*time.Millisecond)
	chainState.mu.Lock()
	defer chainState.mu.Unlock()
	for _, chunkID := range validated {
		assert.Equal(t, flow.ChunkValidated, chainState.resolved[chunkID])
	}
	assert.Equal(t, flow.ChunkRejected, chainState.resolved[rejected])
}
