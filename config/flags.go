package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nightshard/shardnode/model/flow"
)

const (
	// All constant strings are used for CLI flag names and corresponding keys for config values.
	numShards            = "num-shards"
	epochLength          = "epoch-length"
	seatsPerShard        = "seats-per-shard"
	minValidators        = "min-validators"
	kickoutThreshold     = "kickout-threshold"
	erasureDataParts     = "erasure-data-parts"
	erasureTotalParts    = "erasure-total-parts"
	quorumFraction       = "quorum-fraction"
	maxOrphans           = "max-orphans"
	orphanHeightDistance = "orphan-height-distance"
	maxPendingBlocks     = "max-pending-blocks"
	backpressureDistance = "backpressure-distance"
	maxPendingPerShard   = "max-pending-per-shard"
	maxReceiptsPerChunk  = "max-receipts-per-chunk"
	partRequestTimeout   = "part-request-timeout"
	partRequestRetries   = "part-request-retries"
	partRequestWorkers   = "part-request-workers"
	maxFutureDrift       = "max-future-drift"
)

// AllFlagNames returns the names of all protocol flags.
func AllFlagNames() []string {
	return []string{
		numShards, epochLength, seatsPerShard, minValidators, kickoutThreshold, erasureDataParts, erasureTotalParts,
		quorumFraction, maxOrphans, orphanHeightDistance, maxPendingBlocks, backpressureDistance, maxPendingPerShard, maxReceiptsPerChunk,
		partRequestTimeout, partRequestRetries, partRequestWorkers, maxFutureDrift,
	}
}

// InitializeFlags registers all protocol flags on the provided flag set, with
// defaults taken from config.
func InitializeFlags(flags *pflag.FlagSet, config ProtocolConfig) {
	flags.Uint32(numShards, config.NumShards, "number of shards")
	flags.Uint64(epochLength, config.EpochLength, "number of block heights per epoch")
	flags.Uint32(seatsPerShard, config.SeatsPerShard, "validators seated per shard and epoch")
	flags.Uint32(minValidators, config.MinValidators, "minimum number of eligible validators for an epoch")
	flags.String(kickoutThreshold, config.KickoutThreshold.String(), "fraction of missed duties above which a validator is kicked out (num/den)")
	flags.Uint32(erasureDataParts, config.Erasure.DataParts, "number of parts sufficient to reconstruct a chunk body")
	flags.Uint32(erasureTotalParts, config.Erasure.TotalParts, "total number of erasure-coded parts per chunk")
	flags.String(quorumFraction, config.QuorumFraction.String(), "approval stake fraction a block must exceed to count towards finality (num/den)")
	flags.Uint(maxOrphans, config.MaxOrphans, "maximum number of blocks in the orphan pool")
	flags.Uint64(orphanHeightDistance, config.OrphanHeightDistance, "orphans and pending blocks further than this many heights from the head are evicted")
	flags.Uint(maxPendingBlocks, config.MaxPendingBlocks, "maximum number of blocks waiting for their chunks")
	flags.Uint64(backpressureDistance, config.BackpressureDistance, "heights a receipt may stay pending before backpressure is reported")
	flags.Uint(maxPendingPerShard, config.MaxPendingPerShard, "maximum receipts pending for one destination shard before backpressure is reported")
	flags.Uint(maxReceiptsPerChunk, config.MaxReceiptsPerChunk, "maximum incoming receipts applied by one chunk")
	flags.Duration(partRequestTimeout, config.PartRequestTimeout, "timeout of a single chunk part request")
	flags.Uint64(partRequestRetries, config.PartRequestRetries, "retries of a chunk part request against alternate peers")
	flags.Uint(partRequestWorkers, config.PartRequestWorkers, "number of concurrent chunk part requests")
	flags.Duration(maxFutureDrift, config.MaxFutureDrift, "how far block timestamps may run ahead of the local clock")
}

// FromViper builds the protocol configuration from the given viper instance.
// Flags registered with InitializeFlags must be bound to it.
func FromViper(v *viper.Viper) (ProtocolConfig, error) {
	kickout, err := flow.ParseFraction(v.GetString(kickoutThreshold))
	if err != nil {
		return ProtocolConfig{}, fmt.Errorf("invalid %s: %w", kickoutThreshold, err)
	}
	quorum, err := flow.ParseFraction(v.GetString(quorumFraction))
	if err != nil {
		return ProtocolConfig{}, fmt.Errorf("invalid %s: %w", quorumFraction, err)
	}

	config := ProtocolConfig{
		NumShards:        v.GetUint32(numShards),
		EpochLength:      v.GetUint64(epochLength),
		SeatsPerShard:    v.GetUint32(seatsPerShard),
		MinValidators:    v.GetUint32(minValidators),
		KickoutThreshold: kickout,
		Erasure: flow.ErasureShape{
			DataParts:  v.GetUint32(erasureDataParts),
			TotalParts: v.GetUint32(erasureTotalParts),
		},
		QuorumFraction:       quorum,
		MaxOrphans:           v.GetUint(maxOrphans),
		OrphanHeightDistance: v.GetUint64(orphanHeightDistance),
		MaxPendingBlocks:     v.GetUint(maxPendingBlocks),
		BackpressureDistance: v.GetUint64(backpressureDistance),
		MaxPendingPerShard:   v.GetUint(maxPendingPerShard),
		MaxReceiptsPerChunk:  v.GetUint(maxReceiptsPerChunk),
		PartRequestTimeout:   v.GetDuration(partRequestTimeout),
		PartRequestRetries:   v.GetUint64(partRequestRetries),
		PartRequestWorkers:   v.GetUint(partRequestWorkers),
		MaxFutureDrift:       v.GetDuration(maxFutureDrift),
	}
	if err := config.Validate(); err != nil {
		return ProtocolConfig{}, fmt.Errorf("invalid protocol configuration: %w", err)
	}
	return config, nil
}
