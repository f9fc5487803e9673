package metrics

// Prometheus metric namespaces
const (
	namespaceShardnode = "shardnode"
)

// Prometheus metric subsystems
const (
	subsystemCache    = "cache"
	subsystemEpochs   = "epochs"
	subsystemChunks   = "chunks"
	subsystemFetcher  = "fetcher"
	subsystemChain    = "chain"
	subsystemReceipts = "receipts"
	subsystemEngine   = "engine"
)
