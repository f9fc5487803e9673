package receipts

import (
	"errors"
	"fmt"

	"github.com/nightshard/shardnode/model/flow"
)

// ErrUnknownBlock is returned when the queue state of a block is not known.
var ErrUnknownBlock = errors.New("block not routed")

// BackpressureError indicates a destination shard whose pending receipts
// exceed the configured bounds, because its chunks were missing for too
// long. The receipts stay queued; the error is a liveness warning.
type BackpressureError struct {
	Shard        flow.ShardID
	Pending      int
	OldestHeight uint64
	Height       uint64
}

func (e BackpressureError) Error() string {
	return fmt.Sprintf("shard %d has %d pending receipts at height %d, oldest produced at height %d", e.Shard, e.Pending, e.Height, e.OldestHeight)
}

// IsBackpressureError returns whether err is or wraps a BackpressureError.
func IsBackpressureError(err error) bool {
	var target BackpressureError
	return errors.As(err, &target)
}
