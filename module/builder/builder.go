package builder

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/mempool"
	"github.com/nightshard/shardnode/storage"
)

// ErrNotProposer is returned when building on a parent whose child the
// local node is not scheduled to propose.
var ErrNotProposer = errors.New("not the scheduled block proposer")

// EpochSource resolves the epoch a new block belongs to.
type EpochSource interface {
	EpochForNewBlock(parentID flow.Identifier) (flow.Identifier, error)
	EpochInfo(epochID flow.Identifier) (*flow.EpochInfo, error)
}

// Builder builds blocks from the validated chunk headers and the approvals
// in the memory pools. Shards without a validated chunk get a missing slot.
type Builder struct {
	log       zerolog.Logger
	local     flow.AccountID
	numShards uint32
	epochs    EpochSource
	blocks    storage.Blocks
	chunks    mempool.ChunkHeaders
	approvals mempool.Approvals
	cfg       Config
}

var _ module.Builder = (*Builder)(nil)

// NewBuilder creates a new block builder proposing as the local account.
func NewBuilder(
	log zerolog.Logger,
	local flow.AccountID,
	numShards uint32,
	epochs EpochSource,
	blocks storage.Blocks,
	chunks mempool.ChunkHeaders,
	approvals mempool.Approvals,
	options ...func(*Config),
) *Builder {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	return &Builder{
		log:       log.With().Str("component", "builder").Logger(),
		local:     local,
		numShards: numShards,
		epochs:    epochs,
		blocks:    blocks,
		chunks:    chunks,
		approvals: approvals,
		cfg:       cfg,
	}
}

// BuildOn creates a new block on top of the given parent.
func (b *Builder) BuildOn(parentID flow.Identifier, setter func(*flow.BlockHeader) error, sign func(*flow.BlockHeader) error) (*flow.Block, error) {
	parent, err := b.blocks.ByID(parentID)
	if err != nil {
		return nil, fmt.Errorf("could not get parent %x: %w", parentID, err)
	}
	height := parent.Header.Height + 1

	epochID, err := b.epochs.EpochForNewBlock(parentID)
	if err != nil {
		return nil, fmt.Errorf("could not determine epoch of new block: %w", err)
	}
	epoch, err := b.epochs.EpochInfo(epochID)
	if err != nil {
		return nil, fmt.Errorf("could not get epoch %x: %w", epochID, err)
	}
	proposer, err := epoch.BlockProducer(height)
	if err != nil {
		return nil, fmt.Errorf("could not get block producer: %w", err)
	}
	if proposer != b.local {
		return nil, fmt.Errorf("height %d is proposed by %s: %w", height, proposer, ErrNotProposer)
	}

	// approvals count only from validators of the parent's epoch
	parentEpoch, err := b.epochs.EpochInfo(parent.Header.EpochID)
	if err != nil {
		return nil, fmt.Errorf("could not get parent epoch: %w", err)
	}
	var approvals []flow.Approval
	for _, approval := range b.approvals.ByBlockID(parentID) {
		if approval.Height != parent.Header.Height {
			continue
		}
		if _, ok := parentEpoch.Validator(approval.ValidatorID); !ok {
			continue
		}
		approvals = append(approvals, *approval)
	}

	slots := make([]flow.ChunkSlot, b.numShards)
	present := 0
	for shard := range slots {
		header, ok := b.chunks.ByParent(parentID, flow.ShardID(shard))
		if !ok || header.Height != height {
			slots[shard] = flow.MissingSlot()
			continue
		}
		slots[shard] = flow.PresentSlot(header)
		present++
	}

	header := &flow.BlockHeader{
		Height:     height,
		ParentID:   parentID,
		Timestamp:  b.timestamp(parent.Header),
		EpochID:    epochID,
		ProposerID: b.local,
		Chunks:     slots,
		Approvals:  approvals,
	}
	err = setter(header)
	if err != nil {
		return nil, fmt.Errorf("could not apply setter: %w", err)
	}
	err = sign(header)
	if err != nil {
		return nil, fmt.Errorf("could not sign block: %w", err)
	}

	b.log.Debug().
		Uint64("height", height).
		Hex("parent_id", parentID[:]).
		Int("chunks", present).
		Int("approvals", len(approvals)).
		Msg("block built")
	return &flow.Block{Header: header}, nil
}

// timestamp returns the local time, or the earliest timestamp allowed after
// the parent if the clock lags behind.
func (b *Builder) timestamp(parent *flow.BlockHeader) uint64 {
	now := uint64(b.cfg.clock().UnixMilli())
	earliest := parent.Timestamp + uint64(b.cfg.minInterval/time.Millisecond)
	if earliest <= parent.Timestamp {
		earliest = parent.Timestamp + 1
	}
	if now < earliest {
		return earliest
	}
	return now
}
