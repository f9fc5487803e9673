package chain

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Consumer is notified of block lifecycle events. Notifications are
// delivered synchronously while the chain state is locked; implementations
// must not call back into the chain state and should return quickly.
type Consumer interface {
	// OnBlockAccepted is called for every accepted block with its effect on
	// the canonical head. previous is the head before the block.
	OnBlockAccepted(header *flow.BlockHeader, change flow.HeadChange, previous *flow.Tip)

	// OnBlockFinalized is called for every finalized block, in height order.
	OnBlockFinalized(header *flow.BlockHeader)

	// OnBlockDiscarded is called for a block that was found invalid, or
	// dropped from the pending pool because it can no longer be accepted or
	// the pool overflowed.
	OnBlockDiscarded(block *flow.Block, status flow.BlockStatus)
}

// NoopConsumer ignores all events. Embed it to implement a subset.
type NoopConsumer struct{}

var _ Consumer = (*NoopConsumer)(nil)

func (NoopConsumer) OnBlockAccepted(*flow.BlockHeader, flow.HeadChange, *flow.Tip) {}
func (NoopConsumer) OnBlockFinalized(*flow.BlockHeader)                            {}
func (NoopConsumer) OnBlockDiscarded(*flow.Block, flow.BlockStatus)                {}
