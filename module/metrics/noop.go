package metrics

import (
	"time"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

type NoopCollector struct{}

var (
	_ module.CacheMetrics   = (*NoopCollector)(nil)
	_ module.EpochMetrics   = (*NoopCollector)(nil)
	_ module.ChunkMetrics   = (*NoopCollector)(nil)
	_ module.FetcherMetrics = (*NoopCollector)(nil)
	_ module.ChainMetrics   = (*NoopCollector)(nil)
	_ module.ReceiptMetrics = (*NoopCollector)(nil)
	_ module.EngineMetrics  = (*NoopCollector)(nil)
)

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) CacheEntries(resource string, entries uint)                   {}
func (nc *NoopCollector) CacheHit(resource string)                                     {}
func (nc *NoopCollector) CacheNotFound(resource string)                                {}
func (nc *NoopCollector) CacheMiss(resource string)                                    {}
func (nc *NoopCollector) EpochComputed(counter uint64, validators int, kickouts int)   {}
func (nc *NoopCollector) EquivocationRecorded()                                        {}
func (nc *NoopCollector) EpochsPruned(count int)                                       {}
func (nc *NoopCollector) ChunkStateChanged(state flow.ChunkState)                      {}
func (nc *NoopCollector) ChunkPartReceived(valid bool)                                 {}
func (nc *NoopCollector) ChunkRejected(reason string)                                  {}
func (nc *NoopCollector) ChunkReconstructed(duration time.Duration)                    {}
func (nc *NoopCollector) ChunkProduced(shard flow.ShardID, parts int)                  {}
func (nc *NoopCollector) PartRequestCompleted(success bool, duration time.Duration)    {}
func (nc *NoopCollector) FetchCancelled()                                              {}
func (nc *NoopCollector) InflightFetches(count int)                                    {}
func (nc *NoopCollector) BlockSubmitted(status flow.BlockStatus)                       {}
func (nc *NoopCollector) HeadChanged(height uint64, change flow.HeadChange)            {}
func (nc *NoopCollector) FinalizedHeight(height uint64)                                {}
func (nc *NoopCollector) OrphanPoolSize(size uint)                                     {}
func (nc *NoopCollector) OrphanEvicted()                                               {}
func (nc *NoopCollector) PendingPoolSize(size uint)                                    {}
func (nc *NoopCollector) PendingEvicted()                                              {}
func (nc *NoopCollector) BlockApplied(duration time.Duration)                          {}
func (nc *NoopCollector) ReceiptsRouted(count int)                                     {}
func (nc *NoopCollector) ReceiptsDelivered(destination flow.ShardID, count int)        {}
func (nc *NoopCollector) PendingReceipts(destination flow.ShardID, count int)          {}
func (nc *NoopCollector) Backpressure(destination flow.ShardID)                        {}
func (nc *NoopCollector) MessageReceived(engine string, message string)                {}
func (nc *NoopCollector) MessageHandled(engine string, message string)                 {}
func (nc *NoopCollector) InboundMessageDropped(engine string, message string)          {}
func (nc *NoopCollector) InboundQueueLength(engine string, message string, length int) {}
