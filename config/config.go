package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nightshard/shardnode/model/flow"
)

// ProtocolConfig holds the consensus parameters every node of a network must
// agree on, plus node-local resource limits.
type ProtocolConfig struct {
	// NumShards is the number of shards; every block carries one chunk slot per shard.
	NumShards uint32
	// EpochLength is the number of block heights sharing one validator assignment.
	EpochLength uint64
	// SeatsPerShard is the number of validators seated in each shard per epoch.
	SeatsPerShard uint32
	// MinValidators is the minimum number of eligible validators for an epoch.
	MinValidators uint32
	// KickoutThreshold excludes a validator whose missed/expected duties strictly exceed it.
	KickoutThreshold flow.Fraction
	// Erasure is the M-of-N shape chunk bodies are encoded with.
	Erasure flow.ErasureShape
	// QuorumFraction is the approval stake a block must strictly exceed to count towards finality.
	QuorumFraction flow.Fraction

	// MaxOrphans bounds the orphan pool.
	MaxOrphans uint
	// OrphanHeightDistance evicts orphans and pending blocks further than this from the canonical head.
	OrphanHeightDistance uint64
	// MaxPendingBlocks bounds the pool of blocks waiting for their chunks.
	MaxPendingBlocks uint

	// BackpressureDistance is the number of heights a receipt may stay pending before
	// the router reports backpressure.
	BackpressureDistance uint64
	// MaxPendingPerShard bounds the receipts queued for one destination shard.
	MaxPendingPerShard uint
	// MaxReceiptsPerChunk bounds the incoming receipts one chunk consumes.
	MaxReceiptsPerChunk uint

	// PartRequestTimeout bounds a single chunk part request.
	PartRequestTimeout time.Duration
	// PartRequestRetries is the number of retries against alternate peers.
	PartRequestRetries uint64
	// PartRequestWorkers is the number of concurrent part requests.
	PartRequestWorkers uint

	// MaxFutureDrift is how far a block timestamp may run ahead of the local clock.
	MaxFutureDrift time.Duration
}

// DefaultProtocolConfig returns the default protocol parameters.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		NumShards:            4,
		EpochLength:          100,
		SeatsPerShard:        4,
		MinValidators:        4,
		KickoutThreshold:     flow.NewFraction(1, 2),
		Erasure:              flow.ErasureShape{DataParts: 4, TotalParts: 7},
		QuorumFraction:       flow.NewFraction(2, 3),
		MaxOrphans:           1024,
		OrphanHeightDistance: 64,
		MaxPendingBlocks:     1024,
		BackpressureDistance: 16,
		MaxPendingPerShard:   4096,
		MaxReceiptsPerChunk:  256,
		PartRequestTimeout:   2 * time.Second,
		PartRequestRetries:   3,
		PartRequestWorkers:   16,
		MaxFutureDrift:       10 * time.Second,
	}
}

// Validate checks the configuration for consistency. All violations are reported.
func (c ProtocolConfig) Validate() error {
	var errs *multierror.Error
	if c.NumShards == 0 {
		errs = multierror.Append(errs, fmt.Errorf("number of shards must be positive"))
	}
	if c.EpochLength < 3 {
		errs = multierror.Append(errs, fmt.Errorf("epoch length must be at least 3 (got %d)", c.EpochLength))
	}
	if c.SeatsPerShard == 0 {
		errs = multierror.Append(errs, fmt.Errorf("seats per shard must be positive"))
	}
	if c.MinValidators == 0 {
		errs = multierror.Append(errs, fmt.Errorf("minimum validator count must be positive"))
	}
	if err := c.KickoutThreshold.Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("invalid kickout threshold: %w", err))
	}
	if err := c.QuorumFraction.Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("invalid quorum fraction: %w", err))
	} else if c.QuorumFraction.Numerator*2 < c.QuorumFraction.Denominator {
		errs = multierror.Append(errs, fmt.Errorf("quorum fraction %s must be at least 1/2", c.QuorumFraction))
	}
	if err := c.Erasure.Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("invalid erasure shape: %w", err))
	}
	if c.MaxOrphans == 0 {
		errs = multierror.Append(errs, fmt.Errorf("orphan pool size must be positive"))
	}
	if c.MaxPendingBlocks == 0 {
		errs = multierror.Append(errs, fmt.Errorf("pending block pool size must be positive"))
	}
	if c.MaxReceiptsPerChunk == 0 {
		errs = multierror.Append(errs, fmt.Errorf("max receipts per chunk must be positive"))
	}
	if c.PartRequestTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("part request timeout must be positive"))
	}
	if c.PartRequestWorkers == 0 {
		errs = multierror.Append(errs, fmt.Errorf("part request workers must be positive"))
	}
	return errs.ErrorOrNil()
}

// EpochHeight returns the first height of the epoch with the given counter.
// Epoch counters start at 1; genesis sits at height 0 before the first epoch.
func (c ProtocolConfig) EpochHeight(counter uint64) uint64 {
	return 1 + (counter-1)*c.EpochLength
}

// GenesisConfig describes the network's initial state.
type GenesisConfig struct {
	Timestamp time.Time
	Stakes    flow.StakeList
	// Seed seeds the first epoch's assignment. There is no prior epoch block to
	// derive it from.
	Seed []byte
}
