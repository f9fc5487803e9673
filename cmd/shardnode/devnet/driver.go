package devnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/builder"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/utils/logging"
)

var errNotYet = errors.New("not yet")

// DriverConfig shapes the load the driver generates.
type DriverConfig struct {
	// TransactionsPerChunk is the number of transfers each chunk carries.
	TransactionsPerChunk int
	// CrossShardFraction is the share of transfers to a receiver on another shard.
	CrossShardFraction float64
	// SkipChunkFraction is the share of chunks the producer fails to produce.
	SkipChunkFraction float64
	// WithholdPartFraction is the share of parts not pushed to the node, which
	// then has to fetch them.
	WithholdPartFraction float64
	// StepTimeout bounds the wait for chunks and blocks to be processed.
	StepTimeout time.Duration
	Seed        int64
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		TransactionsPerChunk: 8,
		CrossShardFraction:   0.25,
		SkipChunkFraction:    0.05,
		WithholdPartFraction: 0.2,
		StepTimeout:          5 * time.Second,
		Seed:                 1,
	}
}

// Driver plays every validator of the devnet against one node.
type Driver struct {
	log        zerolog.Logger
	cfg        DriverConfig
	numShards  uint32
	node       *Node
	validators *Validators
	tracer     module.Tracer
	metrics    module.ChunkMetrics
	builders   map[flow.AccountID]*builder.Builder
	producers  map[flow.AccountID]*chunks.Producer
	rng        *rand.Rand
}

func NewDriver(log zerolog.Logger, cfg DriverConfig, numShards uint32, node *Node, validators *Validators, metrics module.ChunkMetrics, tracer module.Tracer) *Driver {
	d := &Driver{
		log:        log.With().Str("component", "devnet_driver").Logger(),
		cfg:        cfg,
		numShards:  numShards,
		node:       node,
		validators: validators,
		tracer:     tracer,
		metrics:    metrics,
		builders:   make(map[flow.AccountID]*builder.Builder),
		producers:  make(map[flow.AccountID]*chunks.Producer),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	return d
}

func (d *Driver) signer(account flow.AccountID) (*signature.Signer, error) {
	signer, ok := d.validators.Signers[account]
	if !ok {
		return nil, fmt.Errorf("no key for account %s", account)
	}
	return signer, nil
}

func (d *Driver) builder(account flow.AccountID) *builder.Builder {
	b, ok := d.builders[account]
	if !ok {
		b = builder.NewBuilder(d.log, account, d.numShards, d.node.Epochs, d.node.Blocks, d.node.ChunkPool, d.node.Approvals)
		d.builders[account] = b
	}
	return b
}

func (d *Driver) producer(signer *signature.Signer) *chunks.Producer {
	p, ok := d.producers[signer.Account()]
	if !ok {
		p = chunks.NewProducer(d.log, d.metrics, d.tracer, d.node.Coder, d.node.Runtime, d.node.Reader, signer)
		d.producers[signer.Account()] = p
	}
	return p
}

// Run steps until the context is cancelled, proposing at most one block per
// interval.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := d.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step extends the node's head by one block: every validator approves the
// head, the scheduled chunk producers produce their chunks and the scheduled
// proposer builds the block once the chunks are validated.
func (d *Driver) Step(ctx context.Context) error {
	head := d.node.Chain.Head()
	height := head.Height + 1

	for _, signer := range d.validators.Signers {
		approval, err := signer.Approve(head.BlockID, head.Height)
		if err != nil {
			return fmt.Errorf("could not approve head: %w", err)
		}
		d.node.Engine.SubmitApproval(signer.Account(), &approval)
	}

	epochID, err := d.node.Epochs.EpochForNewBlock(head.BlockID)
	if err != nil {
		return fmt.Errorf("could not determine epoch of height %d: %w", height, err)
	}

	var produced []flow.ShardID
	for shard := flow.ShardID(0); uint32(shard) < d.numShards; shard++ {
		if d.rng.Float64() < d.cfg.SkipChunkFraction {
			d.log.Debug().Uint32("shard", uint32(shard)).Uint64("height", height).Msg("skipping chunk")
			continue
		}
		err = d.produceChunk(ctx, epochID, shard, height, head.BlockID)
		if err != nil {
			return err
		}
		produced = append(produced, shard)
	}

	// wait for the produced chunks to validate so the block can include them
	err = d.await(ctx, func() bool {
		for _, shard := range produced {
			if _, ok := d.node.ChunkPool.ByParent(head.BlockID, shard); !ok {
				return false
			}
		}
		return true
	})
	if err != nil {
		d.log.Warn().Err(err).Uint64("height", height).Msg("proposing without all chunks")
	}

	proposer, err := d.node.Epochs.BlockProducer(epochID, height)
	if err != nil {
		return fmt.Errorf("could not determine proposer: %w", err)
	}
	signer, err := d.signer(proposer)
	if err != nil {
		return err
	}
	block, err := d.builder(proposer).BuildOn(head.BlockID, func(*flow.BlockHeader) error { return nil }, signer.SignBlock)
	if err != nil {
		return fmt.Errorf("could not build block at height %d: %w", height, err)
	}
	d.node.Engine.SubmitBlock(proposer, block)

	blockID := block.ID()
	err = d.await(ctx, func() bool {
		status, err := d.node.Chain.BlockStatus(blockID)
		return err == nil && status == flow.BlockAccepted
	})
	if err != nil {
		return fmt.Errorf("block %x at height %d was not accepted: %w", blockID, height, err)
	}
	log := logging.Block(d.log.With(), block.Header).Logger()
	log.Info().Uint64("finalized", d.node.Chain.FinalizedHeight()).Msg("block accepted")
	return nil
}

func (d *Driver) produceChunk(ctx context.Context, epochID flow.Identifier, shard flow.ShardID, height uint64, parentID flow.Identifier) error {
	account, err := d.node.Epochs.ChunkProducer(epochID, shard, height)
	if err != nil {
		return fmt.Errorf("could not determine chunk producer of shard %d: %w", shard, err)
	}
	signer, err := d.signer(account)
	if err != nil {
		return err
	}
	incoming, err := d.node.Router.Drain(parentID, shard, height)
	if err != nil {
		return fmt.Errorf("could not drain receipts of shard %d: %w", shard, err)
	}
	chunk, parts, err := d.producer(signer).Produce(ctx, shard, height, parentID, d.transactions(shard, height), incoming)
	if err != nil {
		return fmt.Errorf("could not produce chunk of shard %d: %w", shard, err)
	}

	d.node.Parts.Add(chunk.Header.ID(), parts)
	d.node.Engine.SubmitChunkHeader(account, chunk.Header)
	for _, part := range parts {
		if d.rng.Float64() < d.cfg.WithholdPartFraction {
			continue
		}
		d.node.Engine.SubmitChunkPart(account, part)
	}
	return nil
}

func (d *Driver) transactions(shard flow.ShardID, height uint64) []*flow.Transaction {
	txs := make([]*flow.Transaction, 0, d.cfg.TransactionsPerChunk)
	for i := 0; i < d.cfg.TransactionsPerChunk; i++ {
		receiverShard := shard
		if d.numShards > 1 && d.rng.Float64() < d.cfg.CrossShardFraction {
			receiverShard = flow.ShardID(d.rng.Intn(int(d.numShards)))
		}
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(d.rng.Intn(1000)+1))
		txs = append(txs, &flow.Transaction{
			ShardID:       shard,
			Sender:        flow.AccountID(fmt.Sprintf("user-%d-%d", shard, i)),
			Receiver:      flow.AccountID(fmt.Sprintf("user-%d-%d", receiverShard, d.rng.Intn(16))),
			ReceiverShard: receiverShard,
			Nonce:         height,
			Payload:       payload,
		})
	}
	return txs
}

// await polls the condition until it holds or the step timeout expires.
func (d *Driver) await(ctx context.Context, condition func() bool) error {
	backoff := retry.WithMaxDuration(d.cfg.StepTimeout, retry.NewConstant(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(context.Context) error {
		if condition() {
			return nil
		}
		return retry.RetryableError(errNotYet)
	})
}
