package sequencer

import (
	"time"
)

// Config tunes the sequencer's inbound queues and block proposals.
type Config struct {
	// BlockQueueCapacity bounds the inbound block queue.
	BlockQueueCapacity int
	// ChunkQueueCapacity bounds the inbound chunk header queue of each shard.
	ChunkQueueCapacity int
	// PartQueueCapacity bounds the inbound chunk part queue of each shard.
	PartQueueCapacity int
	// ApprovalQueueCapacity bounds the inbound approval queue.
	ApprovalQueueCapacity int
	// ResolutionQueueCapacity bounds the queue of chunk resolutions waiting to
	// be applied to the chain.
	ResolutionQueueCapacity int
	// ProposalInterval is how often the proposer checks whether it is
	// scheduled to propose on the current head.
	ProposalInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BlockQueueCapacity:      1_000,
		ChunkQueueCapacity:      10_000,
		PartQueueCapacity:       100_000,
		ApprovalQueueCapacity:   10_000,
		ResolutionQueueCapacity: 10_000,
		ProposalInterval:        time.Second,
	}
}
