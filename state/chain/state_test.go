package chain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/module/execution"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/module/receipts"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/module/trace"
	"github.com/nightshard/shardnode/state/chain"
	bstorage "github.com/nightshard/shardnode/storage/badger"
	"github.com/nightshard/shardnode/utils/unittest"
)

// recorder collects the chain's lifecycle events.
type recorder struct {
	mu        sync.Mutex
	accepted  []flow.HeadChange
	finalized []uint64
	discarded map[flow.Identifier]flow.BlockStatus
}

func newRecorder() *recorder {
	return &recorder{discarded: make(map[flow.Identifier]flow.BlockStatus)}
}

func (r *recorder) OnBlockAccepted(_ *flow.BlockHeader, change flow.HeadChange, _ *flow.Tip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, change)
}

func (r *recorder) OnBlockFinalized(header *flow.BlockHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, header.Height)
}

func (r *recorder) OnBlockDiscarded(block *flow.Block, status flow.BlockStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded[block.ID()] = status
}

type resolution struct {
	chunkID flow.Identifier
	state   flow.ChunkState
}

type ChainSuite struct {
	suite.Suite

	db         *badger.DB
	cfg        config.ProtocolConfig
	validators *unittest.Validators
	collector  *metrics.NoopCollector
	manager    *epochmgr.Manager
	coder      *erasure.Coder
	reader     *chain.Reader
	router     *receipts.Router
	runtime    *execution.Runtime
	pipeline   *chunks.Pipeline
	state      *chain.State
	genesis    *flow.Block
	events     *recorder

	resolvedMu sync.Mutex
	resolved   []resolution
}

func TestChain(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.db = unittest.BadgerDB(s.T(), unittest.TempDir(s.T()))
	s.cfg = unittest.ProtocolConfigFixture()
	s.validators = unittest.ValidatorsFixture(s.T(), 8, 100)
	s.collector = metrics.NewNoopCollector()

	var err error
	s.coder, err = erasure.NewCoder(s.cfg.Erasure)
	s.Require().NoError(err)
	s.manager = epochmgr.NewManager(unittest.Logger(), s.cfg, s.collector, bstorage.NewEpochs(s.collector, s.db))
	s.reader = chain.NewReader(s.db)
	s.router = receipts.NewRouter(unittest.Logger(), s.cfg, s.collector, bstorage.NewReceipts(s.collector, s.db))
	s.runtime = execution.NewRuntime(unittest.Logger(), bstorage.NewStateStore(s.collector, s.db))

	s.state = s.newState()
	s.pipeline.AddConsumer(func(chunkID flow.Identifier, state flow.ChunkState) {
		s.resolvedMu.Lock()
		defer s.resolvedMu.Unlock()
		s.resolved = append(s.resolved, resolution{chunkID: chunkID, state: state})
	})
	s.events = newRecorder()
	s.state.AddConsumer(s.events)

	genesisCfg := unittest.GenesisFixture(s.validators)
	s.genesis = flow.Genesis(s.cfg.NumShards, epochmgr.FirstEpochID(), genesisCfg.Timestamp)
	s.Require().NoError(s.state.Bootstrap(s.genesis, genesisCfg))
}

func (s *ChainSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

// newState creates a chain state, and the pipeline feeding it, on the suite's database.
func (s *ChainSuite) newState() *chain.State {
	verifier, err := signature.NewVerifier(signature.DefaultKeyCacheSize)
	s.Require().NoError(err)
	s.pipeline = chunks.NewPipeline(unittest.Logger(), s.collector, trace.NewNoopTracer(), s.coder, s.manager, s.reader, s.router, verifier, bstorage.NewChunks(s.collector, s.db))
	state, err := chain.NewState(
		unittest.Logger(),
		s.cfg,
		s.collector,
		trace.NewNoopTracer(),
		s.db,
		s.reader,
		bstorage.NewBlocks(s.collector, s.db),
		s.manager,
		s.pipeline,
		s.router,
		s.runtime,
		verifier,
		chain.WithClock(func() time.Time { return time.UnixMilli(1_600_000_000_000).Add(24 * time.Hour) }),
	)
	s.Require().NoError(err)
	return state
}

// flush hands the chunk resolutions reported by the pipeline to the chain.
func (s *ChainSuite) flush() {
	s.resolvedMu.Lock()
	resolved := s.resolved
	s.resolved = nil
	s.resolvedMu.Unlock()
	for _, r := range resolved {
		s.Require().NoError(s.state.ChunkResolved(context.Background(), r.chunkID, r.state))
	}
}

func (s *ChainSuite) epoch(epochID flow.Identifier) *flow.EpochInfo {
	epoch, err := s.manager.EpochInfo(epochID)
	s.Require().NoError(err)
	return epoch
}

// all returns every validator of the epoch.
func (s *ChainSuite) all(epochID flow.Identifier) []flow.AccountID {
	var accounts []flow.AccountID
	for _, vs := range s.epoch(epochID).Validators {
		accounts = append(accounts, vs.AccountID)
	}
	return accounts
}

// produce builds the scheduled producer's chunk for the shard on the accepted parent.
func (s *ChainSuite) produce(parent *flow.Block, shard flow.ShardID, txs ...*flow.Transaction) (*flow.Chunk, []*flow.ChunkPart) {
	height := parent.Header.Height + 1
	epochID, err := s.manager.EpochForNewBlock(parent.ID())
	s.Require().NoError(err)
	producer, err := s.epoch(epochID).ChunkProducer(shard, height)
	s.Require().NoError(err)
	incoming, err := s.router.Drain(parent.ID(), shard, height)
	s.Require().NoError(err)
	p := chunks.NewProducer(unittest.Logger(), s.collector, trace.NewNoopTracer(), s.coder, s.runtime, s.reader, s.validators.Signer(s.T(), producer))
	chunk, parts, err := p.Produce(context.Background(), shard, height, parent.ID(), txs, incoming)
	s.Require().NoError(err)
	return chunk, parts
}

// deliver feeds a chunk's parts to the pipeline and the resolutions to the chain.
func (s *ChainSuite) deliver(chunk *flow.Chunk, parts []*flow.ChunkPart) {
	verdict, err := s.pipeline.Validate(context.Background(), chunk.Header, parts)
	s.Require().NoError(err)
	s.Require().Equal(chunks.VerdictAccepted, verdict)
	s.flush()
}

// build creates a signed block on the parent in the given epoch, approved by
// the given validators of the parent's epoch.
func (s *ChainSuite) build(parent *flow.Block, epochID flow.Identifier, slots []flow.ChunkSlot, approvers []flow.AccountID) *flow.Block {
	height := parent.Header.Height + 1
	proposer, err := s.epoch(epochID).BlockProducer(height)
	s.Require().NoError(err)
	header := &flow.BlockHeader{
		Height:     height,
		ParentID:   parent.ID(),
		Timestamp:  parent.Header.Timestamp + 1000,
		EpochID:    epochID,
		ProposerID: proposer,
		Chunks:     slots,
	}
	for _, account := range approvers {
		approval, err := s.validators.Signer(s.T(), account).Approve(parent.ID(), parent.Header.Height)
		s.Require().NoError(err)
		header.Approvals = append(header.Approvals, approval)
	}
	s.Require().NoError(s.validators.Signer(s.T(), proposer).SignBlock(header))
	return &flow.Block{Header: header}
}

func (s *ChainSuite) missingSlots() []flow.ChunkSlot {
	slots := make([]flow.ChunkSlot, s.cfg.NumShards)
	for i := range slots {
		slots[i] = flow.MissingSlot()
	}
	return slots
}

// empty builds a block without chunks on the accepted parent.
func (s *ChainSuite) empty(parent *flow.Block, approvers ...flow.AccountID) *flow.Block {
	epochID, err := s.manager.EpochForNewBlock(parent.ID())
	s.Require().NoError(err)
	if approvers == nil {
		approvers = s.all(parent.Header.EpochID)
	}
	return s.build(parent, epochID, s.missingSlots(), approvers)
}

func (s *ChainSuite) submit(block *flow.Block) flow.BlockStatus {
	status, err := s.state.SubmitBlock(context.Background(), block)
	s.Require().NoError(err)
	return status
}

// extend submits n empty, fully approved blocks on top of the parent.
func (s *ChainSuite) extend(parent *flow.Block, n int) []*flow.Block {
	var blocks []*flow.Block
	for i := 0; i < n; i++ {
		block := s.empty(parent)
		s.Require().Equal(flow.BlockAccepted, s.submit(block))
		blocks = append(blocks, block)
		parent = block
	}
	return blocks
}

func (s *ChainSuite) TestBootstrap() {
	head := s.state.Head()
	s.Require().NotNil(head)
	s.Assert().Equal(s.genesis.ID(), head.BlockID)
	s.Assert().Equal(uint64(0), s.state.FinalizedHeight())

	status, err := s.state.BlockStatus(s.genesis.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockAccepted, status)

	for shard := uint32(0); shard < s.cfg.NumShards; shard++ {
		root, err := s.state.StateRoot(s.genesis.ID(), flow.ShardID(shard))
		s.Require().NoError(err)
		s.Assert().Equal(flow.ZeroID, root)
	}

	// bootstrapping again with the same genesis is a no-op
	s.Require().NoError(s.state.Bootstrap(s.genesis, unittest.GenesisFixture(s.validators)))
	other := flow.Genesis(s.cfg.NumShards, epochmgr.FirstEpochID(), time.UnixMilli(1))
	s.Assert().Error(s.state.Bootstrap(other, unittest.GenesisFixture(s.validators)))
}

func (s *ChainSuite) TestNotBootstrapped() {
	db := unittest.BadgerDB(s.T(), unittest.TempDir(s.T()))
	defer db.Close()
	verifier, err := signature.NewVerifier(signature.DefaultKeyCacheSize)
	s.Require().NoError(err)
	state, err := chain.NewState(unittest.Logger(), s.cfg, s.collector, trace.NewNoopTracer(), db, chain.NewReader(db),
		bstorage.NewBlocks(s.collector, db), s.manager, s.pipeline, s.router, s.runtime, verifier)
	s.Require().NoError(err)

	_, err = state.SubmitBlock(context.Background(), s.empty(s.genesis))
	s.Assert().ErrorIs(err, chain.ErrNotBootstrapped)
	_, err = state.Finalized()
	s.Assert().ErrorIs(err, chain.ErrNotBootstrapped)
	s.Assert().Nil(state.Head())
}

func (s *ChainSuite) TestExtendAndFinalize() {
	blocks := s.extend(s.genesis, 5)

	head := s.state.Head()
	s.Assert().Equal(blocks[4].ID(), head.BlockID)
	s.Assert().Equal(uint64(5*800), head.Score)
	s.Assert().Equal(uint64(3), s.state.FinalizedHeight())

	finalized, err := s.state.Finalized()
	s.Require().NoError(err)
	s.Assert().Equal(blocks[2].ID(), finalized.ID())
	for i, block := range blocks[:3] {
		blockID, err := s.state.FinalizedAt(uint64(i + 1))
		s.Require().NoError(err)
		s.Assert().Equal(block.ID(), blockID)
	}

	s.Assert().Equal([]uint64{1, 2, 3}, s.events.finalized)
	s.Assert().Len(s.events.accepted, 5)
	for _, change := range s.events.accepted {
		s.Assert().Equal(flow.HeadNext, change)
	}

	// a restarted state resumes from the stored chain
	restarted := s.newState()
	s.Assert().Equal(head, restarted.Head())
	s.Assert().Equal(uint64(3), restarted.FinalizedHeight())
}

func (s *ChainSuite) TestDuplicateAndOldBlocks() {
	blocks := s.extend(s.genesis, 4)

	_, err := s.state.SubmitBlock(context.Background(), blocks[3])
	var unfit chain.UnfitError
	s.Require().ErrorAs(err, &unfit)
	s.Assert().Equal(flow.BlockAccepted, unfit.Status)

	// a competing block at a finalized height
	fork := s.empty(blocks[0], s.all(blocks[0].Header.EpochID)[:6]...)
	_, err = s.state.SubmitBlock(context.Background(), fork)
	s.Assert().ErrorIs(err, chain.ErrOldBlock)
}

func (s *ChainSuite) TestOrphanResolvedByParent() {
	parent := s.empty(s.genesis)
	child := s.build(parent, parent.Header.EpochID, s.missingSlots(), s.all(parent.Header.EpochID))
	grandchild := s.build(child, child.Header.EpochID, s.missingSlots(), s.all(child.Header.EpochID))

	s.Assert().Equal(flow.BlockOrphan, s.submit(grandchild))
	s.Assert().Equal(flow.BlockOrphan, s.submit(child))
	s.Assert().Equal(uint(2), s.state.OrphanCount())
	status, err := s.state.BlockStatus(child.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockOrphan, status)

	s.Assert().Equal(flow.BlockAccepted, s.submit(parent))
	s.Assert().Equal(uint(0), s.state.OrphanCount())
	for _, block := range []*flow.Block{child, grandchild} {
		status, err := s.state.BlockStatus(block.ID())
		s.Require().NoError(err)
		s.Assert().Equal(flow.BlockAccepted, status)
	}
	s.Assert().Equal(grandchild.ID(), s.state.Head().BlockID)
	s.Assert().Equal(uint64(1), s.state.FinalizedHeight())
}

func (s *ChainSuite) TestInvalidBlocks() {
	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)

	s.Run("wrong slot count", func() {
		block := s.build(s.genesis, epochID, s.missingSlots()[:2], validators)
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})
	s.Run("wrong proposer", func() {
		block := s.empty(s.genesis)
		for _, account := range validators {
			if account != block.Header.ProposerID {
				block.Header.ProposerID = account
				s.Require().NoError(s.validators.Signer(s.T(), account).SignBlock(block.Header))
				break
			}
		}
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})
	s.Run("bad signature", func() {
		block := s.empty(s.genesis)
		block.Header.Signature = unittest.RandomBytes(len(block.Header.Signature))
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})
	s.Run("duplicate approval", func() {
		block := s.build(s.genesis, epochID, s.missingSlots(), append(validators[:3:3], validators[0]))
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})
	s.Run("wrong epoch", func() {
		block := s.build(s.genesis, epochID, s.missingSlots(), validators[:4])
		block.Header.EpochID = unittest.IdentifierFixture()
		s.Require().NoError(s.validators.Signer(s.T(), block.Header.ProposerID).SignBlock(block.Header))
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})
	s.Run("timestamp not after parent", func() {
		block := s.build(s.genesis, epochID, s.missingSlots(), validators[:5])
		block.Header.Timestamp = s.genesis.Header.Timestamp
		s.Require().NoError(s.validators.Signer(s.T(), block.Header.ProposerID).SignBlock(block.Header))
		_, err := s.state.SubmitBlock(context.Background(), block)
		s.Assert().True(chain.IsInvalidBlockError(err))
	})

	// invalid is terminal
	block := s.build(s.genesis, epochID, s.missingSlots(), append(validators[:2:2], validators[0]))
	_, err := s.state.SubmitBlock(context.Background(), block)
	s.Require().True(chain.IsInvalidBlockError(err))
	_, err = s.state.SubmitBlock(context.Background(), block)
	var unfit chain.UnfitError
	s.Require().ErrorAs(err, &unfit)
	s.Assert().Equal(flow.BlockInvalid, unfit.Status)
	s.Assert().Equal(flow.BlockInvalid, s.events.discarded[block.ID()])

	s.Assert().Equal(s.genesis.ID(), s.state.Head().BlockID)
}

func (s *ChainSuite) TestFutureBlock() {
	block := s.empty(s.genesis)
	block.Header.Timestamp = uint64(time.UnixMilli(1_600_000_000_000).Add(48 * time.Hour).UnixMilli())
	s.Require().NoError(s.validators.Signer(s.T(), block.Header.ProposerID).SignBlock(block.Header))

	_, err := s.state.SubmitBlock(context.Background(), block)
	s.Assert().ErrorIs(err, chain.ErrFutureBlock)

	// nothing is recorded, the block may come back later
	status, err := s.state.BlockStatus(block.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockUnknown, status)
}

// Orphans far below the head are evicted while finality is stalled.
func (s *ChainSuite) TestOrphansPrunedWithoutFinality() {
	s.cfg.OrphanHeightDistance = 4
	s.state = s.newState()

	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)
	// the parent of the orphan is never submitted
	unseen := s.build(s.genesis, epochID, s.missingSlots(), validators)
	orphan := s.build(unseen, epochID, s.missingSlots(), validators)
	s.Require().Equal(flow.BlockOrphan, s.submit(orphan))

	parent := s.genesis
	for height := uint64(1); height <= 8; height++ {
		// 5 of 8 equal stakes do not exceed two thirds
		block := s.empty(parent, validators[:5]...)
		s.Require().Equal(flow.BlockAccepted, s.submit(block))
		parent = block
		if height == 6 {
			// head 6 keeps heights >= 2
			s.Assert().Equal(uint(1), s.state.OrphanCount())
		}
	}
	s.Require().Equal(uint64(0), s.state.FinalizedHeight())
	s.Assert().Equal(uint(0), s.state.OrphanCount())
	status, err := s.state.BlockStatus(orphan.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockUnknown, status)
}

func (s *ChainSuite) TestInvalidParentInvalidatesOrphans() {
	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)
	parent := s.build(s.genesis, epochID, s.missingSlots(), append(validators[:2:2], validators[1]))
	child := s.build(parent, epochID, s.missingSlots(), validators)

	s.Assert().Equal(flow.BlockOrphan, s.submit(child))
	_, err := s.state.SubmitBlock(context.Background(), parent)
	s.Require().True(chain.IsInvalidBlockError(err))

	status, err := s.state.BlockStatus(child.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockInvalid, status)
	s.Assert().Equal(uint(0), s.state.OrphanCount())
}

func (s *ChainSuite) TestPendingUntilChunkValidated() {
	tx := unittest.TransactionFixture(0, 0)
	chunk, parts := s.produce(s.genesis, 0, tx)
	slots := s.missingSlots()
	slots[0] = flow.PresentSlot(chunk.Header)
	block := s.build(s.genesis, s.genesis.Header.EpochID, slots, s.all(s.genesis.Header.EpochID))

	s.Assert().Equal(flow.BlockPending, s.submit(block))
	s.Assert().Equal(uint(1), s.state.PendingCount())
	s.Assert().Equal(s.genesis.ID(), s.state.Head().BlockID)

	// an orphan of the pending block waits as well
	child := s.build(block, block.Header.EpochID, s.missingSlots(), s.all(block.Header.EpochID))
	s.Assert().Equal(flow.BlockOrphan, s.submit(child))

	s.deliver(chunk, parts)

	status, err := s.state.BlockStatus(block.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockAccepted, status)
	s.Assert().Equal(child.ID(), s.state.Head().BlockID)
	s.Assert().Equal(uint(0), s.state.PendingCount())

	root, err := s.state.StateRoot(block.ID(), 0)
	s.Require().NoError(err)
	s.Assert().NotEqual(flow.ZeroID, root)
	balance, err := s.runtime.Balance(0, root, tx.Receiver)
	s.Require().NoError(err)
	s.Assert().Equal(execution.Amount(tx.Payload), balance)
}

// Re-signed copies of a block waiting on a chunk whose parts never arrive
// are held within the pending pool bound, and dropped once the head moves
// far enough past them without finality.
func (s *ChainSuite) TestPendingPoolBounded() {
	s.cfg.MaxPendingBlocks = 4
	s.cfg.OrphanHeightDistance = 4
	s.state = s.newState()
	s.state.AddConsumer(s.events)

	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)
	chunk, _ := s.produce(s.genesis, 0, unittest.TransactionFixture(0, 0))
	slots := s.missingSlots()
	slots[0] = flow.PresentSlot(chunk.Header)

	for i := 0; i < 10; i++ {
		block := s.build(s.genesis, epochID, slots, validators)
		block.Header.Timestamp += uint64(i)
		s.Require().NoError(s.validators.Signer(s.T(), block.Header.ProposerID).SignBlock(block.Header))
		status := s.submit(block)
		s.Assert().Contains([]flow.BlockStatus{flow.BlockPending, flow.BlockUnknown}, status)
		s.Assert().LessOrEqual(s.state.PendingCount(), uint(4))
	}
	s.Assert().Equal(uint(4), s.state.PendingCount())
	s.Assert().Len(s.events.discarded, 6)
	for _, status := range s.events.discarded {
		s.Assert().Equal(flow.BlockPending, status)
	}

	// 5 of 8 approvals: the head advances without finality
	parent := s.genesis
	for i := 0; i < 6; i++ {
		block := s.empty(parent, validators[:5]...)
		s.Require().Equal(flow.BlockAccepted, s.submit(block))
		parent = block
	}
	s.Require().Equal(uint64(0), s.state.FinalizedHeight())
	s.Assert().Equal(uint(0), s.state.PendingCount())
	s.Assert().Len(s.events.discarded, 10)
}

func (s *ChainSuite) TestRejectedChunkInvalidatesPendingBlock() {
	chunk, _ := s.produce(s.genesis, 1, unittest.TransactionFixture(1, 1))
	slots := s.missingSlots()
	slots[1] = flow.PresentSlot(chunk.Header)
	block := s.build(s.genesis, s.genesis.Header.EpochID, slots, s.all(s.genesis.Header.EpochID))
	s.Require().Equal(flow.BlockPending, s.submit(block))

	// the producer signs a second chunk for the same slot
	conflicting, _ := s.produce(s.genesis, 1, unittest.TransactionFixture(1, 2))
	_, err := s.pipeline.SubmitHeader(context.Background(), conflicting.Header)
	s.Require().True(chunks.IsChunkRejectedError(err))
	s.flush()

	status, err := s.state.BlockStatus(block.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockInvalid, status)
	s.Assert().Equal(flow.BlockInvalid, s.events.discarded[block.ID()])
	s.Assert().Equal(uint(0), s.state.PendingCount())
}

func (s *ChainSuite) TestForkChoice() {
	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)

	weak := s.build(s.genesis, epochID, s.missingSlots(), validators[:6])
	strong := s.build(s.genesis, epochID, s.missingSlots(), validators)

	s.Require().Equal(flow.BlockAccepted, s.submit(weak))
	s.Assert().Equal(weak.ID(), s.state.Head().BlockID)
	s.Require().Equal(flow.BlockAccepted, s.submit(strong))
	s.Assert().Equal(strong.ID(), s.state.Head().BlockID)

	// extending the weak fork outweighs the strong block
	weakChild := s.empty(weak)
	s.Require().Equal(flow.BlockAccepted, s.submit(weakChild))
	s.Assert().Equal(weakChild.ID(), s.state.Head().BlockID)
	s.Assert().Equal(uint64(600+800), s.state.Head().Score)

	s.Assert().Equal([]flow.HeadChange{flow.HeadNext, flow.HeadReorg, flow.HeadReorg}, s.events.accepted)

	// a block without approvals still extends its parent
	unapproved := s.empty(weakChild, []flow.AccountID{}...)
	s.Require().Equal(flow.BlockAccepted, s.submit(unapproved))
	s.Assert().Equal(unapproved.ID(), s.state.Head().BlockID)
	s.Assert().Equal(uint64(600+800), s.state.Head().Score)

	children, err := s.state.Children(s.genesis.ID())
	s.Require().NoError(err)
	s.Assert().ElementsMatch(flow.IdentifierList{weak.ID(), strong.ID()}, children)
}

func (s *ChainSuite) TestConflictsWithFinalized() {
	epochID := s.genesis.Header.EpochID
	validators := s.all(epochID)

	first := s.extend(s.genesis, 1)[0]
	fork := s.empty(first, validators[:6]...)
	s.Require().Equal(flow.BlockAccepted, s.submit(fork))

	main := s.extend(first, 3)
	s.Require().Equal(uint64(2), s.state.FinalizedHeight())
	finalized, err := s.state.Finalized()
	s.Require().NoError(err)
	s.Require().Equal(main[0].ID(), finalized.ID())

	_, err = s.state.SubmitBlock(context.Background(), s.empty(fork))
	s.Assert().ErrorIs(err, chain.ErrConflictsWithFinalized)
	s.Assert().Equal(main[2].ID(), s.state.Head().BlockID)
}

func (s *ChainSuite) TestNoFinalityWithoutQuorum() {
	validators := s.all(s.genesis.Header.EpochID)
	parent := s.genesis
	for i := 0; i < 4; i++ {
		// 5 of 8 equal stakes do not exceed two thirds
		block := s.empty(parent, validators[:5]...)
		s.Require().Equal(flow.BlockAccepted, s.submit(block))
		parent = block
	}
	s.Assert().Equal(uint64(0), s.state.FinalizedHeight())

	s.extend(parent, 2)
	s.Assert().Equal(uint64(4), s.state.FinalizedHeight())
}

// Shard 1 misses its chunk at height 30 while receipts for it are queued:
// its state carries over unchanged and the receipts are delivered at 31.
func (s *ChainSuite) TestMissingChunkDefersReceipts() {
	blocks := s.extend(s.genesis, 28)
	parent := blocks[len(blocks)-1]

	// height 29: shard 0 sends a transfer to shard 1
	tx := unittest.TransactionFixture(0, 1)
	chunk, parts := s.produce(parent, 0, tx)
	slots := s.missingSlots()
	slots[0] = flow.PresentSlot(chunk.Header)
	epochID, err := s.manager.EpochForNewBlock(parent.ID())
	s.Require().NoError(err)
	b29 := s.build(parent, epochID, slots, s.all(parent.Header.EpochID))
	s.Require().Equal(flow.BlockPending, s.submit(b29))
	s.deliver(chunk, parts)
	s.Require().Equal(b29.ID(), s.state.Head().BlockID)

	// height 30: shard 1 is missing, shard 2 is present
	chunk2, parts2 := s.produce(b29, 2, unittest.TransactionFixture(2, 2))
	s.deliver(chunk2, parts2)
	slots = s.missingSlots()
	slots[2] = flow.PresentSlot(chunk2.Header)
	b30 := s.build(b29, epochID, slots, s.all(epochID))
	s.Require().Equal(flow.BlockAccepted, s.submit(b30))

	root29, err := s.state.StateRoot(b29.ID(), 1)
	s.Require().NoError(err)
	root30, err := s.state.StateRoot(b30.ID(), 1)
	s.Require().NoError(err)
	s.Assert().Equal(root29, root30)
	snapshot, err := s.state.ShardSnapshot(b30.ID(), 1)
	s.Require().NoError(err)
	s.Assert().Equal(flow.ReceiptList(nil).Root(), snapshot.OutgoingRoot)

	queued, err := s.router.Drain(b30.ID(), 1, 31)
	s.Require().NoError(err)
	s.Require().Len(queued, 1)
	s.Assert().Equal(tx.ID(), queued[0].OriginTxID)
	s.Assert().Equal(uint64(29), queued[0].ProducedHeight)

	// height 31: shard 1 consumes the receipt
	chunk1, parts1 := s.produce(b30, 1)
	s.Require().Len(chunk1.Body.IncomingReceipts, 1)
	s.deliver(chunk1, parts1)
	slots = s.missingSlots()
	slots[1] = flow.PresentSlot(chunk1.Header)
	b31 := s.build(b30, epochID, slots, s.all(epochID))
	s.Require().Equal(flow.BlockAccepted, s.submit(b31))

	root31, err := s.state.StateRoot(b31.ID(), 1)
	s.Require().NoError(err)
	balance, err := s.runtime.Balance(1, root31, tx.Receiver)
	s.Require().NoError(err)
	s.Assert().Equal(execution.Amount(tx.Payload), balance)

	remaining, err := s.router.Drain(b31.ID(), 1, 32)
	s.Require().NoError(err)
	s.Assert().Empty(remaining)
}

// The producer of shard 2 equivocates at height 50: both chunks are
// rejected, the block carrying one of them is invalid, and a block leaving
// the slot missing is accepted.
func (s *ChainSuite) TestChunkEquivocation() {
	blocks := s.extend(s.genesis, 49)
	parent := blocks[len(blocks)-1]
	epochID, err := s.manager.EpochForNewBlock(parent.ID())
	s.Require().NoError(err)
	producer, err := s.epoch(epochID).ChunkProducer(2, 50)
	s.Require().NoError(err)

	first, firstParts := s.produce(parent, 2, unittest.TransactionFixture(2, 2))
	second, _ := s.produce(parent, 2, unittest.TransactionFixture(2, 3))
	s.Require().NotEqual(first.Header.ID(), second.Header.ID())

	slots := s.missingSlots()
	slots[2] = flow.PresentSlot(first.Header)
	carrying := s.build(parent, epochID, slots, s.all(epochID))
	s.Require().Equal(flow.BlockPending, s.submit(carrying))

	_, err = s.pipeline.SubmitHeader(context.Background(), second.Header)
	s.Require().True(chunks.IsChunkRejectedError(err))
	s.flush()

	// parts arriving late do not revive the rejected chunk
	for _, part := range firstParts {
		_, _ = s.pipeline.SubmitPart(context.Background(), part)
	}
	s.flush()

	status, err := s.state.BlockStatus(carrying.ID())
	s.Require().NoError(err)
	s.Assert().Equal(flow.BlockInvalid, status)

	skipping := s.build(parent, epochID, s.missingSlots(), s.all(epochID))
	s.Require().Equal(flow.BlockAccepted, s.submit(skipping))
	s.Assert().Equal(skipping.ID(), s.state.Head().BlockID)

	history, err := s.manager.PerformanceAt(skipping.ID())
	s.Require().NoError(err)
	s.Assert().Equal(uint64(1), history[producer].Equivocations)
}

func TestReaderUnknownBlock(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		reader := chain.NewReader(db)
		_, err := reader.ShardSnapshot(unittest.IdentifierFixture(), 0)
		require.Error(t, err)
		_, err = reader.Meta(unittest.IdentifierFixture())
		assert.Error(t, err)
	})
}
