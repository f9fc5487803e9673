package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

type ChunkCollector struct {
	transitions    *prometheus.CounterVec
	parts          *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	reconstruction prometheus.Histogram
	produced       *prometheus.CounterVec
}

var _ module.ChunkMetrics = (*ChunkCollector)(nil)

func NewChunkCollector(registerer prometheus.Registerer) *ChunkCollector {
	factory := promauto.With(registerer)

	cc := &ChunkCollector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "state_transitions_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChunks,
			Help:      "the number of chunks entering each validation state",
		}, []string{LabelState}),
		parts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "parts_received_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChunks,
			Help:      "the number of chunk parts received, by proof verification result",
		}, []string{LabelResult}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "rejected_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChunks,
			Help:      "the number of rejected chunks by reason",
		}, []string{LabelReason}),
		reconstruction: factory.NewHistogram(prometheus.HistogramOpts{
			Name:      "reconstruction_seconds",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChunks,
			Help:      "the time spent reconstructing and checking a chunk body",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		produced: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "produced_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChunks,
			Help:      "the number of chunks produced by this node",
		}, []string{LabelShard}),
	}

	return cc
}

func (cc *ChunkCollector) ChunkStateChanged(state flow.ChunkState) {
	cc.transitions.With(prometheus.Labels{LabelState: state.String()}).Inc()
}

func (cc *ChunkCollector) ChunkPartReceived(valid bool) {
	cc.parts.With(prometheus.Labels{LabelResult: resultLabel(valid)}).Inc()
}

func (cc *ChunkCollector) ChunkRejected(reason string) {
	cc.rejected.With(prometheus.Labels{LabelReason: reason}).Inc()
}

func (cc *ChunkCollector) ChunkReconstructed(duration time.Duration) {
	cc.reconstruction.Observe(duration.Seconds())
}

func (cc *ChunkCollector) ChunkProduced(shard flow.ShardID, parts int) {
	cc.produced.With(prometheus.Labels{LabelShard: shardLabel(shard)}).Inc()
}

func shardLabel(shard flow.ShardID) string {
	return strconv.FormatUint(uint64(shard), 10)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
