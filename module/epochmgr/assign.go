package epochmgr

import (
	"fmt"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/state"
)

// Assign computes the validator assignment for one epoch from the stake
// snapshot at its boundary and the performance counters accumulated during
// the prior epoch. Assign is a pure function of its inputs: every node
// computes a bit-identical result. The returned info carries no identity
// (ID, Counter, StartHeight, BoundaryBlockID); the caller sets those.
//
// Returns a state.ProtocolViolationError if fewer than cfg.MinValidators
// validators remain eligible.
func Assign(cfg config.ProtocolConfig, seed []byte, stakes flow.StakeList, history flow.PerformanceHistory) (*flow.EpochInfo, error) {
	candidates := stakes.Canonical().Filter(func(vs *flow.ValidatorStake) bool {
		return vs.Stake > 0
	})

	eligible, kickouts := applyKickouts(candidates, history, cfg.KickoutThreshold)
	if len(eligible) == 0 || len(eligible) < int(cfg.MinValidators) {
		return nil, state.NewProtocolViolationErrorf("only %d eligible validators of %d staked (%d kicked out), minimum is %d",
			len(eligible), len(candidates), len(kickouts), cfg.MinValidators)
	}

	weights := make([]uint64, 0, len(eligible))
	for _, vs := range eligible {
		weights = append(weights, vs.Stake)
	}

	seatsPerShard := int(cfg.SeatsPerShard)
	if seatsPerShard > len(eligible) {
		seatsPerShard = len(eligible)
	}

	shardSeats := make([][]flow.AccountID, cfg.NumShards)
	chunkProducers := make([][]uint16, cfg.NumShards)
	for shard := uint32(0); shard < cfg.NumShards; shard++ {
		rng, err := prgFromSeed(seed, shardCustomizer(customizerSeats, shard))
		if err != nil {
			return nil, err
		}
		picks, err := weightedSampleWithoutReplacement(rng, seatsPerShard, weights)
		if err != nil {
			return nil, fmt.Errorf("could not sample seats for shard %d: %w", shard, err)
		}

		seats := make([]flow.AccountID, 0, len(picks))
		seatWeights := make([]uint64, 0, len(picks))
		for _, idx := range picks {
			seats = append(seats, eligible[idx].AccountID)
			seatWeights = append(seatWeights, eligible[idx].Stake)
		}
		shardSeats[shard] = seats

		rng, err = prgFromSeed(seed, shardCustomizer(customizerChunkProducers, shard))
		if err != nil {
			return nil, err
		}
		chunkProducers[shard], err = weightedRandomSelection(rng, int(cfg.EpochLength), seatWeights)
		if err != nil {
			return nil, fmt.Errorf("could not select chunk producers for shard %d: %w", shard, err)
		}
	}

	rng, err := prgFromSeed(seed, customizerBlockProducers)
	if err != nil {
		return nil, err
	}
	blockProducers, err := weightedRandomSelection(rng, int(cfg.EpochLength), weights)
	if err != nil {
		return nil, fmt.Errorf("could not select block producers: %w", err)
	}

	return &flow.EpochInfo{
		Length:         cfg.EpochLength,
		Seed:           append([]byte(nil), seed...),
		Validators:     eligible,
		TotalStake:     eligible.TotalStake(),
		ShardSeats:     shardSeats,
		BlockProducers: blockProducers,
		ChunkProducers: chunkProducers,
		Kickouts:       kickouts,
	}, nil
}

// applyKickouts splits the candidates into those remaining eligible and those
// whose missed duties strictly exceed the threshold fraction of their
// expected duties. Validators without expected duties are never kicked out.
func applyKickouts(candidates flow.StakeList, history flow.PerformanceHistory, threshold flow.Fraction) (flow.StakeList, []flow.Kickout) {
	eligible := make(flow.StakeList, 0, len(candidates))
	var kickouts []flow.Kickout
	for _, vs := range candidates {
		counters, ok := history[vs.AccountID]
		if ok && threshold.ExceededBy(counters.Missed(), counters.Expected()) {
			kickouts = append(kickouts, flow.Kickout{
				AccountID: vs.AccountID,
				Reason:    flow.KickoutUnderperformed,
				Missed:    counters.Missed(),
				Expected:  counters.Expected(),
			})
			continue
		}
		eligible = append(eligible, vs)
	}
	return eligible, kickouts
}
