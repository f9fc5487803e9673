package devnet

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/engine/sequencer"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/module/execution"
	"github.com/nightshard/shardnode/module/mempool/stdmap"
	"github.com/nightshard/shardnode/module/receipts"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/state/chain"
	bstorage "github.com/nightshard/shardnode/storage/badger"
)

// Metrics is the union of the metrics interfaces of all node components.
type Metrics interface {
	module.CacheMetrics
	module.EpochMetrics
	module.ChunkMetrics
	module.FetcherMetrics
	module.ChainMetrics
	module.ReceiptMetrics
	module.EngineMetrics
}

// Node is a fully wired node on one database.
type Node struct {
	Local     flow.AccountID
	Coder     *erasure.Coder
	Epochs    *epochmgr.Manager
	Reader    *chain.Reader
	Router    *receipts.Router
	Runtime   *execution.Runtime
	Blocks    *bstorage.Blocks
	Pipeline  *chunks.Pipeline
	Chain     *chain.State
	ChunkPool *stdmap.ChunkHeaders
	Approvals *stdmap.Approvals
	Parts     *PartStore
	Engine    *sequencer.Engine
}

// NewNode wires all components of a node running as the local account.
// The chain is loaded from the database if it was bootstrapped before.
func NewNode(
	log zerolog.Logger,
	cfg config.ProtocolConfig,
	engineCfg sequencer.Config,
	collector Metrics,
	tracer module.Tracer,
	db *badger.DB,
	local flow.AccountID,
	options ...func(*chain.State),
) (*Node, error) {
	coder, err := erasure.NewCoder(cfg.Erasure)
	if err != nil {
		return nil, fmt.Errorf("could not create erasure coder: %w", err)
	}
	verifier, err := signature.NewVerifier(signature.DefaultKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create signature verifier: %w", err)
	}
	parts, err := NewPartStore(10 * int(cfg.NumShards) * int(cfg.OrphanHeightDistance))
	if err != nil {
		return nil, err
	}

	n := &Node{
		Local:     local,
		Coder:     coder,
		Epochs:    epochmgr.NewManager(log, cfg, collector, bstorage.NewEpochs(collector, db)),
		Reader:    chain.NewReader(db),
		Router:    receipts.NewRouter(log, cfg, collector, bstorage.NewReceipts(collector, db)),
		Runtime:   execution.NewRuntime(log, bstorage.NewStateStore(collector, db)),
		Blocks:    bstorage.NewBlocks(collector, db),
		ChunkPool: stdmap.NewChunkHeaders(),
		Approvals: stdmap.NewApprovals(),
		Parts:     parts,
	}
	n.Pipeline = chunks.NewPipeline(log, collector, tracer, coder, n.Epochs, n.Reader, n.Router, verifier, bstorage.NewChunks(collector, db))
	n.Chain, err = chain.NewState(log, cfg, collector, tracer, db, n.Reader, n.Blocks,
		n.Epochs, n.Pipeline, n.Router, n.Runtime, verifier, options...)
	if err != nil {
		return nil, fmt.Errorf("could not load chain state: %w", err)
	}
	n.Engine, err = sequencer.New(log, cfg, engineCfg, collector, local, n.Chain, n.Pipeline, n.Epochs, parts, n.ChunkPool, n.Approvals)
	if err != nil {
		return nil, fmt.Errorf("could not create sequencer: %w", err)
	}
	return n, nil
}
