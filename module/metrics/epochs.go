package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nightshard/shardnode/module"
)

type EpochCollector struct {
	currentCounter prometheus.Gauge
	validators     prometheus.Gauge
	computed       prometheus.Counter
	kickouts       prometheus.Counter
	equivocations  prometheus.Counter
	pruned         prometheus.Counter
}

var _ module.EpochMetrics = (*EpochCollector)(nil)

func NewEpochCollector(registerer prometheus.Registerer) *EpochCollector {
	factory := promauto.With(registerer)

	ec := &EpochCollector{
		currentCounter: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "latest_counter",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the counter of the latest computed epoch",
		}),
		validators: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "validators",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the number of eligible validators in the latest computed epoch",
		}),
		computed: factory.NewCounter(prometheus.CounterOpts{
			Name:      "computed_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the number of epoch assignments computed, across all forks",
		}),
		kickouts: factory.NewCounter(prometheus.CounterOpts{
			Name:      "kickouts_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the number of validators kicked out for underperformance",
		}),
		equivocations: factory.NewCounter(prometheus.CounterOpts{
			Name:      "equivocations_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the number of recorded chunk producer equivocations",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Name:      "pruned_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemEpochs,
			Help:      "the number of epoch assignments removed after finalization",
		}),
	}

	return ec
}

func (ec *EpochCollector) EpochComputed(counter uint64, validators int, kickouts int) {
	ec.currentCounter.Set(float64(counter))
	ec.validators.Set(float64(validators))
	ec.computed.Inc()
	ec.kickouts.Add(float64(kickouts))
}

func (ec *EpochCollector) EquivocationRecorded() {
	ec.equivocations.Inc()
}

func (ec *EpochCollector) EpochsPruned(count int) {
	ec.pruned.Add(float64(count))
}
