package epochmgr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/storage"
)

// Manager tracks the epoch assignment of every fork. Each accepted block is
// recorded with its epoch and the performance counters accumulated on its
// fork; a block crossing the epoch boundary derives the next assignment from
// its parent. Competing forks that cross the same nominal boundary at
// different blocks hold distinct epochs until one of them is pruned.
type Manager struct {
	log     zerolog.Logger
	cfg     config.ProtocolConfig
	metrics module.EpochMetrics
	epochs  storage.Epochs

	// serializes the computation of new epochs and the recording of blocks
	mu sync.Mutex
}

func NewManager(log zerolog.Logger, cfg config.ProtocolConfig, metrics module.EpochMetrics, epochs storage.Epochs) *Manager {
	return &Manager{
		log:     log.With().Str("component", "epoch_manager").Logger(),
		cfg:     cfg,
		metrics: metrics,
		epochs:  epochs,
	}
}

// FirstEpochID is the ID of the first epoch, which the genesis block carries.
func FirstEpochID() flow.Identifier {
	return flow.EpochIDFor(1, flow.ZeroID)
}

// Bootstrap computes the first epoch from the genesis stakes and records the
// genesis block. Bootstrapping an already bootstrapped store is a no-op.
func (m *Manager) Bootstrap(genesis *flow.BlockHeader, genesisCfg config.GenesisConfig) (*flow.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	epochID := FirstEpochID()
	if genesis.EpochID != epochID {
		return nil, fmt.Errorf("genesis carries epoch %x, expected %x", genesis.EpochID, epochID)
	}

	snapshot := genesisCfg.Stakes.Canonical()
	epoch, err := Assign(m.cfg, genesisCfg.Seed, snapshot, nil)
	if err != nil {
		return nil, fmt.Errorf("could not assign first epoch: %w", err)
	}
	epoch.ID = epochID
	epoch.Counter = 1
	epoch.StartHeight = m.cfg.EpochHeight(1)
	epoch.BoundaryBlockID = flow.ZeroID

	err = m.epochs.StoreEpoch(epoch, snapshot)
	if err != nil {
		return nil, fmt.Errorf("could not store first epoch: %w", err)
	}
	err = m.epochs.StoreBlock(&flow.EpochBlock{
		BlockID:  genesis.ID(),
		ParentID: genesis.ParentID,
		Height:   genesis.Height,
		EpochID:  epochID,
	})
	if err != nil {
		return nil, fmt.Errorf("could not record genesis block: %w", err)
	}

	m.metrics.EpochComputed(epoch.Counter, len(epoch.Validators), len(epoch.Kickouts))
	m.log.Info().
		Uint64("counter", epoch.Counter).
		Hex("epoch_id", epoch.ID[:]).
		Int("validators", len(epoch.Validators)).
		Msg("first epoch bootstrapped")
	return epoch, nil
}

// EpochInfo returns the assignment of the given epoch.
// Expected errors during normal operations:
//   - ErrEpochNotReady if the epoch is not computed (yet, or anymore)
func (m *Manager) EpochInfo(epochID flow.Identifier) (*flow.EpochInfo, error) {
	epoch, err := m.epochs.ByID(epochID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("epoch %x: %w", epochID, ErrEpochNotReady)
	}
	if err != nil {
		return nil, fmt.Errorf("could not retrieve epoch %x: %w", epochID, err)
	}
	return epoch, nil
}

// BlockProducer returns the validator that must propose the block at height.
// Expected errors during normal operations:
//   - ErrEpochNotReady if the epoch is not computed
//   - flow.InvalidHeightError if the height is outside of the epoch
func (m *Manager) BlockProducer(epochID flow.Identifier, height uint64) (flow.AccountID, error) {
	epoch, err := m.EpochInfo(epochID)
	if err != nil {
		return "", err
	}
	return epoch.BlockProducer(height)
}

// ChunkProducer returns the validator that must produce the shard's chunk at height.
// Expected errors during normal operations:
//   - ErrEpochNotReady if the epoch is not computed
//   - flow.InvalidHeightError if the height is outside of the epoch
func (m *Manager) ChunkProducer(epochID flow.Identifier, shard flow.ShardID, height uint64) (flow.AccountID, error) {
	epoch, err := m.EpochInfo(epochID)
	if err != nil {
		return "", err
	}
	return epoch.ChunkProducer(shard, height)
}

// ShardSeats returns the ordered seats of the shard in the given epoch.
func (m *Manager) ShardSeats(epochID flow.Identifier, shard flow.ShardID) ([]flow.AccountID, error) {
	epoch, err := m.EpochInfo(epochID)
	if err != nil {
		return nil, err
	}
	if int(shard) >= epoch.NumShards() {
		return nil, fmt.Errorf("shard %d out of range (epoch has %d shards)", shard, epoch.NumShards())
	}
	return epoch.ShardSeats[shard], nil
}

// EpochForNewBlock returns the epoch a child of the given block must carry.
// If the child crosses the epoch boundary, the next epoch is computed on the
// parent's fork and stored before returning.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the parent was not added
//   - state.ProtocolViolationError if the next epoch cannot be assigned
func (m *Manager) EpochForNewBlock(parentID flow.Identifier) (flow.Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epoch, err := m.epochForChild(parentID)
	if err != nil {
		return flow.ZeroID, err
	}
	return epoch.ID, nil
}

func (m *Manager) epochForChild(parentID flow.Identifier) (*flow.EpochInfo, error) {
	parent, err := m.block(parentID)
	if err != nil {
		return nil, err
	}
	parentEpoch, err := m.EpochInfo(parent.EpochID)
	if err != nil {
		return nil, fmt.Errorf("could not get epoch of parent %x: %w", parentID, err)
	}
	if parent.Height+1 <= parentEpoch.FinalHeight() {
		return parentEpoch, nil
	}

	nextID := flow.EpochIDFor(parentEpoch.Counter+1, parentID)
	next, err := m.epochs.ByID(nextID)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not retrieve epoch %x: %w", nextID, err)
	}
	return m.computeNextEpoch(parent, parentEpoch)
}

// computeNextEpoch derives the epoch following prev, with the given block as
// the last block of prev on its fork.
func (m *Manager) computeNextEpoch(boundary *flow.EpochBlock, prev *flow.EpochInfo) (*flow.EpochInfo, error) {
	snapshot, err := m.epochs.Snapshot(prev.ID)
	if err != nil {
		return nil, fmt.Errorf("could not get stake snapshot of epoch %d: %w", prev.Counter, err)
	}
	proposals, err := m.proposals(boundary, prev.ID)
	if err != nil {
		return nil, err
	}
	snapshot = snapshot.ApplyProposals(proposals)

	history, err := m.performance(boundary)
	if err != nil {
		return nil, err
	}

	epoch, err := Assign(m.cfg, boundary.BlockID[:], snapshot, history)
	if err != nil {
		return nil, fmt.Errorf("could not assign epoch %d after block %x: %w", prev.Counter+1, boundary.BlockID, err)
	}
	epoch.ID = flow.EpochIDFor(prev.Counter+1, boundary.BlockID)
	epoch.Counter = prev.Counter + 1
	epoch.StartHeight = boundary.Height + 1
	epoch.BoundaryBlockID = boundary.BlockID

	err = m.epochs.StoreEpoch(epoch, snapshot)
	if err != nil {
		return nil, fmt.Errorf("could not store epoch %d: %w", epoch.Counter, err)
	}

	m.metrics.EpochComputed(epoch.Counter, len(epoch.Validators), len(epoch.Kickouts))
	log := m.log.With().
		Uint64("counter", epoch.Counter).
		Hex("epoch_id", epoch.ID[:]).
		Hex("boundary_block_id", boundary.BlockID[:]).
		Logger()
	for _, kickout := range epoch.Kickouts {
		log.Info().
			Str("validator", string(kickout.AccountID)).
			Uint64("missed", kickout.Missed).
			Uint64("expected", kickout.Expected).
			Msg("validator kicked out")
	}
	log.Info().
		Int("validators", len(epoch.Validators)).
		Uint64("total_stake", epoch.TotalStake).
		Msg("new epoch computed")
	return epoch, nil
}

// proposals collects the stake proposals of the given epoch's blocks along
// the fork ending at the given block, oldest first.
func (m *Manager) proposals(last *flow.EpochBlock, epochID flow.Identifier) ([]flow.ValidatorStake, error) {
	var chain []*flow.EpochBlock
	for current := last; current.EpochID == epochID; {
		chain = append(chain, current)
		if current.Height == 0 {
			break
		}
		parent, err := m.block(current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("could not walk fork: %w", err)
		}
		current = parent
	}

	var proposals []flow.ValidatorStake
	for i := len(chain) - 1; i >= 0; i-- {
		proposals = append(proposals, chain[i].Proposals...)
	}
	return proposals, nil
}

// AddBlock records an accepted block: its epoch, its stake proposals and the
// duties it settled. The parent must have been added before. Adding a block
// twice is a no-op.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the parent was not added
//   - ErrWrongEpoch if the block does not carry the epoch its parent determines
func (m *Manager) AddBlock(header *flow.BlockHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blockID := header.ID()
	_, err := m.epochs.Block(blockID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not check block record: %w", err)
	}

	parent, err := m.block(header.ParentID)
	if err != nil {
		return err
	}
	if header.Height != parent.Height+1 {
		return fmt.Errorf("block %x at height %d does not extend parent at height %d", blockID, header.Height, parent.Height)
	}
	epoch, err := m.epochForChild(header.ParentID)
	if err != nil {
		return fmt.Errorf("could not determine epoch for block %x: %w", blockID, err)
	}
	if header.EpochID != epoch.ID {
		return fmt.Errorf("block %x carries epoch %x, expected %x: %w", blockID, header.EpochID, epoch.ID, ErrWrongEpoch)
	}

	history := make(flow.PerformanceHistory)
	if parent.EpochID == epoch.ID {
		history = flow.HistoryFromEntries(parent.Performance)
	}
	err = settleDuties(epoch, header, history)
	if err != nil {
		return fmt.Errorf("could not settle duties of block %x: %w", blockID, err)
	}

	err = m.epochs.StoreBlock(&flow.EpochBlock{
		BlockID:     blockID,
		ParentID:    header.ParentID,
		Height:      header.Height,
		EpochID:     epoch.ID,
		Performance: history.Entries(),
		Proposals:   header.ValidatorProposals,
	})
	if err != nil {
		return fmt.Errorf("could not record block %x: %w", blockID, err)
	}
	return nil
}

// settleDuties accounts the duties of the block at its height into history:
// the scheduled chunk producer of every shard, and every validator of the
// epoch for endorsing the parent if the parent belongs to the same epoch.
func settleDuties(epoch *flow.EpochInfo, header *flow.BlockHeader, history flow.PerformanceHistory) error {
	for shard := 0; shard < epoch.NumShards() && shard < len(header.Chunks); shard++ {
		producer, err := epoch.ChunkProducer(flow.ShardID(shard), header.Height)
		if err != nil {
			return err
		}
		counters := history[producer]
		counters.ExpectedChunks++
		slot := header.Chunks[shard]
		if !slot.Missing && slot.Header != nil && slot.Header.ProducerID == producer {
			counters.ProducedChunks++
		}
		history[producer] = counters
	}

	if header.Height <= epoch.StartHeight {
		return nil
	}
	approved := make(map[flow.AccountID]struct{}, len(header.Approvals))
	for _, approval := range header.Approvals {
		approved[approval.ValidatorID] = struct{}{}
	}
	for _, vs := range epoch.Validators {
		counters := history[vs.AccountID]
		counters.ExpectedValidations++
		if _, ok := approved[vs.AccountID]; ok {
			counters.Validations++
		}
		history[vs.AccountID] = counters
	}
	return nil
}

// RecordEquivocation records that the validator signed conflicting chunks for
// the shard at height. Recording the same slot twice counts once. Returns
// whether the equivocation was new.
func (m *Manager) RecordEquivocation(epochID flow.Identifier, validator flow.AccountID, shard flow.ShardID, height uint64) (bool, error) {
	added, err := m.epochs.RecordEquivocation(flow.EquivocationRecord{
		EpochID:   epochID,
		AccountID: validator,
		ShardID:   shard,
		Height:    height,
	})
	if err != nil {
		return false, fmt.Errorf("could not record equivocation: %w", err)
	}
	if added {
		m.metrics.EquivocationRecorded()
		m.log.Warn().
			Hex("epoch_id", epochID[:]).
			Str("validator", string(validator)).
			Uint32("shard", uint32(shard)).
			Uint64("height", height).
			Msg("chunk producer equivocation recorded")
	}
	return added, nil
}

// PerformanceAt returns the performance counters of the block's epoch
// accumulated along the block's fork, including recorded equivocations.
// Expected errors during normal operations:
//   - ErrUnknownBlock if the block was not added
func (m *Manager) PerformanceAt(blockID flow.Identifier) (flow.PerformanceHistory, error) {
	record, err := m.block(blockID)
	if err != nil {
		return nil, err
	}
	return m.performance(record)
}

func (m *Manager) performance(record *flow.EpochBlock) (flow.PerformanceHistory, error) {
	history := flow.HistoryFromEntries(record.Performance)
	equivocations, err := m.epochs.Equivocations(record.EpochID)
	if err != nil {
		return nil, fmt.Errorf("could not get equivocations: %w", err)
	}
	for _, eq := range equivocations {
		counters := history[eq.AccountID]
		counters.Equivocations++
		history[eq.AccountID] = counters
	}
	return history, nil
}

// Prune removes the epochs no fork descending from the finalized block can
// reference anymore: epochs with a lower counter than the finalized block's
// epoch, competing epochs with the same counter, and later epochs whose
// boundary block does not descend from the finalized block.
// Returns the number of removed epochs.
func (m *Manager) Prune(finalizedID flow.Identifier) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	finalized, err := m.block(finalizedID)
	if err != nil {
		return 0, err
	}
	current, err := m.EpochInfo(finalized.EpochID)
	if err != nil {
		return 0, fmt.Errorf("could not get finalized epoch: %w", err)
	}

	counters, err := m.epochs.Counters()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, counter := range counters {
		epochIDs, err := m.epochs.IDsByCounter(counter)
		if err != nil {
			return pruned, err
		}
		for _, epochID := range epochIDs {
			if epochID == current.ID {
				continue
			}
			epoch, err := m.EpochInfo(epochID)
			if err != nil {
				return pruned, err
			}
			if counter > current.Counter {
				live, err := m.descendsFrom(epoch.BoundaryBlockID, finalized)
				if err != nil {
					return pruned, err
				}
				if live {
					continue
				}
			}
			err = m.epochs.RemoveEpoch(epoch)
			if err != nil {
				return pruned, err
			}
			pruned++
			m.log.Debug().
				Uint64("counter", epoch.Counter).
				Hex("epoch_id", epochID[:]).
				Msg("epoch pruned")
		}
	}
	if pruned > 0 {
		m.metrics.EpochsPruned(pruned)
	}
	return pruned, nil
}

// descendsFrom reports whether the block with the given ID is the ancestor
// block itself or one of its descendants.
func (m *Manager) descendsFrom(blockID flow.Identifier, ancestor *flow.EpochBlock) (bool, error) {
	current, err := m.block(blockID)
	if err != nil {
		return false, err
	}
	for current.Height > ancestor.Height {
		current, err = m.block(current.ParentID)
		if err != nil {
			return false, err
		}
	}
	return current.BlockID == ancestor.BlockID, nil
}

func (m *Manager) block(blockID flow.Identifier) (*flow.EpochBlock, error) {
	record, err := m.epochs.Block(blockID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("block %x: %w", blockID, ErrUnknownBlock)
	}
	if err != nil {
		return nil, fmt.Errorf("could not retrieve block record %x: %w", blockID, err)
	}
	return record, nil
}
