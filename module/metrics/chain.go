package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

type ChainCollector struct {
	submitted       *prometheus.CounterVec
	headHeight      prometheus.Gauge
	headChanges     *prometheus.CounterVec
	finalizedHeight prometheus.Gauge
	orphans         prometheus.Gauge
	orphansEvicted  prometheus.Counter
	pending         prometheus.Gauge
	pendingEvicted  prometheus.Counter
	applyDuration   prometheus.Histogram
}

var _ module.ChainMetrics = (*ChainCollector)(nil)

func NewChainCollector(registerer prometheus.Registerer) *ChainCollector {
	factory := promauto.With(registerer)

	cc := &ChainCollector{
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "blocks_submitted_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of submitted blocks by resulting status",
		}, []string{LabelStatus}),
		headHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "head_height",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the height of the canonical head",
		}),
		headChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "head_changes_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of accepted blocks by their effect on the canonical head",
		}, []string{LabelHeadChange}),
		finalizedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "finalized_height",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the latest finalized height",
		}),
		orphans: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "orphans",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of blocks waiting for their parent",
		}),
		orphansEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name:      "orphans_evicted_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of orphans dropped from the pool",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "pending_blocks",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of blocks waiting for their chunks",
		}),
		pendingEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name:      "pending_blocks_evicted_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the number of pending blocks dropped from the pool",
		}),
		applyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:      "apply_seconds",
			Namespace: namespaceShardnode,
			Subsystem: subsystemChain,
			Help:      "the time spent applying the chunks of a block",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	return cc
}

func (cc *ChainCollector) BlockSubmitted(status flow.BlockStatus) {
	cc.submitted.With(prometheus.Labels{LabelStatus: status.String()}).Inc()
}

func (cc *ChainCollector) HeadChanged(height uint64, change flow.HeadChange) {
	cc.headHeight.Set(float64(height))
	cc.headChanges.With(prometheus.Labels{LabelHeadChange: change.String()}).Inc()
}

func (cc *ChainCollector) FinalizedHeight(height uint64) {
	cc.finalizedHeight.Set(float64(height))
}

func (cc *ChainCollector) OrphanPoolSize(size uint) {
	cc.orphans.Set(float64(size))
}

func (cc *ChainCollector) OrphanEvicted() {
	cc.orphansEvicted.Inc()
}

func (cc *ChainCollector) PendingPoolSize(size uint) {
	cc.pending.Set(float64(size))
}

func (cc *ChainCollector) PendingEvicted() {
	cc.pendingEvicted.Inc()
}

func (cc *ChainCollector) BlockApplied(duration time.Duration) {
	cc.applyDuration.Observe(duration.Seconds())
}
