package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the collectors of all node components, registered
// against one registry.
type Collector struct {
	*CacheCollector
	*EpochCollector
	*ChunkCollector
	*FetcherCollector
	*ChainCollector
	*ReceiptCollector
	*EngineCollector
}

func NewCollector(registerer prometheus.Registerer) *Collector {
	return &Collector{
		CacheCollector:   NewCacheCollector(registerer),
		EpochCollector:   NewEpochCollector(registerer),
		ChunkCollector:   NewChunkCollector(registerer),
		FetcherCollector: NewFetcherCollector(registerer),
		ChainCollector:   NewChainCollector(registerer),
		ReceiptCollector: NewReceiptCollector(registerer),
		EngineCollector:  NewEngineCollector(registerer),
	}
}
