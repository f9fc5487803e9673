package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nightshard/shardnode/module"
)

type FetcherCollector struct {
	requests  *prometheus.HistogramVec
	cancelled prometheus.Counter
	inflight  prometheus.Gauge
}

var _ module.FetcherMetrics = (*FetcherCollector)(nil)

func NewFetcherCollector(registerer prometheus.Registerer) *FetcherCollector {
	factory := promauto.With(registerer)

	fc := &FetcherCollector{
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "part_request_seconds",
			Namespace: namespaceShardnode,
			Subsystem: subsystemFetcher,
			Help:      "the duration of chunk part request attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelResult}),
		cancelled: factory.NewCounter(prometheus.CounterOpts{
			Name:      "cancelled_total",
			Namespace: namespaceShardnode,
			Subsystem: subsystemFetcher,
			Help:      "the number of chunk fetches cancelled before completion",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "inflight",
			Namespace: namespaceShardnode,
			Subsystem: subsystemFetcher,
			Help:      "the number of chunks currently being fetched",
		}),
	}

	return fc
}

func (fc *FetcherCollector) PartRequestCompleted(success bool, duration time.Duration) {
	fc.requests.With(prometheus.Labels{LabelResult: resultLabel(success)}).Observe(duration.Seconds())
}

func (fc *FetcherCollector) FetchCancelled() {
	fc.cancelled.Inc()
}

func (fc *FetcherCollector) InflightFetches(count int) {
	fc.inflight.Set(float64(count))
}
