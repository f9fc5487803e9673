package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

type ReceiptCollector struct {
	routed       prometheus.Counter
	delivered    *prometheus.CounterVec
	pending      *prometheus.GaugeVec
	backpressure *prometheus.CounterVec
}

var _ module.ReceiptMetrics = (*ReceiptCollector)(nil)

func NewReceiptCollector(registerer prometheus.Registerer) *ReceiptCollector {
	factory := promauto.With(registerer)

	rc := &ReceiptCollector{
		routed: factory.NewCounter(prometheus.CounterOpts{
			Name:      "routed_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemReceipts,
			Help:      "the number of cross-shard receipts routed",
		}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "delivered_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemReceipts,
			Help:      "the number of cross-shard receipts delivered per destination shard",
		}, []string{LabelShard}),
		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "pending",
			Namespace: namespaceShardnode,
			Subsystem: subsystemReceipts,
			Help:      "the number of receipts pending per destination shard after the latest routed block",
		}, []string{LabelShard}),
		backpressure: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "backpressure_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemReceipts,
			Help:      "the number of routed blocks after which a destination shard exceeded its receipt bounds",
		}, []string{LabelShard}),
	}

	return rc
}

func (rc *ReceiptCollector) ReceiptsRouted(count int) {
	rc.routed.Add(float64(count))
}

func (rc *ReceiptCollector) ReceiptsDelivered(destination flow.ShardID, count int) {
	rc.delivered.With(prometheus.Labels{LabelShard: shardLabel(destination)}).Add(float64(count))
}

func (rc *ReceiptCollector) PendingReceipts(destination flow.ShardID, count int) {
	rc.pending.With(prometheus.Labels{LabelShard: shardLabel(destination)}).Set(float64(count))
}

func (rc *ReceiptCollector) Backpressure(destination flow.ShardID) {
	rc.backpressure.With(prometheus.Labels{LabelShard: shardLabel(destination)}).Inc()
}
