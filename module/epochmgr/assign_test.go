package epochmgr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/epochmgr"
	"github.com/nightshard/shardnode/state"
	"github.com/nightshard/shardnode/utils/unittest"
)

func stakesFixture(stakes ...uint64) flow.StakeList {
	list := make(flow.StakeList, 0, len(stakes))
	for i, stake := range stakes {
		list = append(list, &flow.ValidatorStake{AccountID: unittest.AccountFixture(i), Stake: stake})
	}
	return list.Canonical()
}

// TestAssignDeterminism verifies that identical inputs always produce an
// identical assignment, regardless of the order the stakes are given in.
func TestAssignDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(4, 24).Draw(t, "validators")
		stakes := rapid.SliceOfN(rapid.Uint64Range(1, 1_000_000), n, n).Draw(t, "stakes")
		seed := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "seed")

		cfg := unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
			c.NumShards = rapid.Uint32Range(1, 8).Draw(t, "shards")
			c.SeatsPerShard = rapid.Uint32Range(1, 8).Draw(t, "seats")
			c.EpochLength = rapid.Uint64Range(3, 200).Draw(t, "length")
			c.MinValidators = 1
		})

		history := make(flow.PerformanceHistory)
		for i := 0; i < n; i++ {
			expected := rapid.Uint64Range(0, 100).Draw(t, "expected")
			produced := rapid.Uint64Range(0, expected).Draw(t, "produced")
			history[unittest.AccountFixture(i)] = flow.PerformanceCounters{ExpectedChunks: expected, ProducedChunks: produced}
		}

		list := stakesFixture(stakes...)
		first, err := epochmgr.Assign(cfg, seed, list, history)
		if err != nil {
			// everybody kicked out
			require.True(t, state.IsProtocolViolationError(err))
			return
		}

		reversed := make(flow.StakeList, 0, len(list))
		for i := len(list) - 1; i >= 0; i-- {
			reversed = append(reversed, list[i])
		}
		second, err := epochmgr.Assign(cfg, seed, reversed, history.Copy())
		require.NoError(t, err)
		require.Equal(t, first, second)

		// structural sanity
		require.Len(t, first.ShardSeats, int(cfg.NumShards))
		require.Len(t, first.BlockProducers, int(cfg.EpochLength))
		for shard, seats := range first.ShardSeats {
			require.NotEmpty(t, seats)
			require.LessOrEqual(t, len(seats), int(cfg.SeatsPerShard))
			require.Len(t, first.ChunkProducers[shard], int(cfg.EpochLength))
			for _, idx := range first.ChunkProducers[shard] {
				require.Less(t, int(idx), len(seats))
			}
		}
		for _, idx := range first.BlockProducers {
			require.Less(t, int(idx), len(first.Validators))
		}
	})
}

func TestAssignSeatsAreDistinct(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
		c.SeatsPerShard = 5
	})
	epoch, err := epochmgr.Assign(cfg, []byte("seed"), stakesFixture(10, 20, 30, 40, 50, 60, 70, 80), nil)
	require.NoError(t, err)

	for shard, seats := range epoch.ShardSeats {
		assert.Len(t, seats, 5)
		seen := make(map[flow.AccountID]bool)
		for _, seat := range seats {
			assert.False(t, seen[seat], "validator %s seated twice in shard %d", seat, shard)
			seen[seat] = true
			_, ok := epoch.Validator(seat)
			assert.True(t, ok)
		}
	}
}

func TestAssignSeedChangesAssignment(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture()
	stakes := stakesFixture(100, 100, 100, 100, 100, 100, 100, 100)

	a, err := epochmgr.Assign(cfg, []byte("block-a"), stakes, nil)
	require.NoError(t, err)
	b, err := epochmgr.Assign(cfg, []byte("block-b"), stakes, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.BlockProducers, b.BlockProducers)
	assert.Equal(t, a.Validators, b.Validators)
}

func TestAssignIsStakeWeighted(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
		c.MinValidators = 1
	})
	epoch, err := epochmgr.Assign(cfg, []byte("seed"), stakesFixture(1_000_000, 1, 1, 1), nil)
	require.NoError(t, err)

	heavy := 0
	for height := epoch.StartHeight; height <= epoch.FinalHeight(); height++ {
		producer, err := epoch.BlockProducer(height)
		require.NoError(t, err)
		if producer == unittest.AccountFixture(0) {
			heavy++
		}
	}
	assert.GreaterOrEqual(t, heavy, 95)
}

func TestAssignExcludesZeroStake(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture()
	epoch, err := epochmgr.Assign(cfg, []byte("seed"), stakesFixture(10, 0, 10, 10, 10), nil)
	require.NoError(t, err)

	_, ok := epoch.Validator(unittest.AccountFixture(1))
	assert.False(t, ok)
	assert.Len(t, epoch.Validators, 4)
	assert.Equal(t, uint64(40), epoch.TotalStake)
}

// TestKickoutThreshold verifies that exactly the validators whose missed
// fraction strictly exceeds the threshold lose their eligibility.
func TestKickoutThreshold(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
		c.KickoutThreshold = flow.NewFraction(1, 2)
		c.MinValidators = 2
		c.SeatsPerShard = 8
	})
	stakes := stakesFixture(100, 100, 100, 100, 100)

	history := flow.PerformanceHistory{
		// exactly at the threshold: stays
		unittest.AccountFixture(0): {ExpectedChunks: 10, ProducedChunks: 5},
		// one more miss: kicked out
		unittest.AccountFixture(1): {ExpectedChunks: 10, ProducedChunks: 4},
		// validations count as duties too
		unittest.AccountFixture(2): {ExpectedChunks: 2, ProducedChunks: 2, ExpectedValidations: 8, Validations: 1},
		// equivocations count as misses
		unittest.AccountFixture(3): {ExpectedChunks: 2, ProducedChunks: 2, ExpectedValidations: 2, Validations: 2, Equivocations: 3},
	}

	epoch, err := epochmgr.Assign(cfg, []byte("seed"), stakes, history)
	require.NoError(t, err)

	kicked := make(map[flow.AccountID]bool)
	for _, k := range epoch.Kickouts {
		kicked[k.AccountID] = true
		assert.Equal(t, flow.KickoutUnderperformed, k.Reason)
	}
	assert.Equal(t, map[flow.AccountID]bool{
		unittest.AccountFixture(1): true,
		unittest.AccountFixture(2): true,
		unittest.AccountFixture(3): true,
	}, kicked)

	for account := range kicked {
		assert.True(t, epoch.IsKickedOut(account))
		_, ok := epoch.Validator(account)
		assert.False(t, ok)
		for shard := range epoch.ShardSeats {
			assert.False(t, epoch.IsSeated(flow.ShardID(shard), account))
		}
	}
	assert.Len(t, epoch.Validators, 2)
}

func TestAssignProtocolViolation(t *testing.T) {
	cfg := unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
		c.MinValidators = 4
	})

	cases := map[string]struct {
		stakes  flow.StakeList
		history flow.PerformanceHistory
	}{
		"empty":         {stakes: nil},
		"below minimum": {stakes: stakesFixture(10, 10, 10)},
		"all zero":      {stakes: stakesFixture(0, 0, 0, 0)},
		"kickouts below minimum": {
			stakes: stakesFixture(10, 10, 10, 10),
			history: flow.PerformanceHistory{
				unittest.AccountFixture(3): {ExpectedChunks: 4},
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := epochmgr.Assign(cfg, []byte("seed"), tc.stakes, tc.history)
			require.Error(t, err)
			assert.True(t, state.IsProtocolViolationError(err), fmt.Sprintf("unexpected error type: %v", err))
		})
	}
}
