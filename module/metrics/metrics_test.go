package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/metrics"
)

func TestCollector_RegistersAllComponents(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	collector.CacheHit(metrics.ResourceBlock)
	collector.CacheHit(metrics.ResourceBlock)
	collector.EpochComputed(3, 10, 2)
	collector.ChunkRejected("root_mismatch")
	collector.HeadChanged(42, flow.HeadReorg)
	collector.FinalizedHeight(40)
	collector.Backpressure(flow.ShardID(1))
	collector.MessageReceived(metrics.EngineSequencer, metrics.MessageBlock)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestEpochCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	ec := metrics.NewEpochCollector(registry)

	ec.EpochComputed(2, 8, 1)
	ec.EpochComputed(3, 7, 2)
	ec.EquivocationRecorded()

	count, err := testutil.GatherAndCount(registry, "shardnode_epochs_kickouts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChainCollector_HeadChanges(t *testing.T) {
	registry := prometheus.NewRegistry()
	cc := metrics.NewChainCollector(registry)

	cc.HeadChanged(1, flow.HeadNext)
	cc.HeadChanged(2, flow.HeadNext)
	cc.HeadChanged(2, flow.HeadReorg)

	count, err := testutil.GatherAndCount(registry, "shardnode_chain_head_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
