package flow

import (
	"fmt"
)

// BlockStatus is the state of a block in the fork-choice state machine.
type BlockStatus int

const (
	BlockUnknown BlockStatus = iota
	// BlockOrphan: the parent is not known yet.
	BlockOrphan
	// BlockPending: the parent is accepted but some chunk headers are not validated.
	BlockPending
	// BlockAccepted: structurally valid with all present chunks validated.
	BlockAccepted
	// BlockInvalid is terminal.
	BlockInvalid
)

func (s BlockStatus) String() string {
	switch s {
	case BlockUnknown:
		return "unknown"
	case BlockOrphan:
		return "orphan"
	case BlockPending:
		return "pending"
	case BlockAccepted:
		return "accepted"
	case BlockInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("block_status(%d)", int(s))
	}
}

// HeadChange describes how an accepted block affected the canonical head.
type HeadChange int

const (
	// HeadUnchanged: the block was accepted on a side fork.
	HeadUnchanged HeadChange = iota
	// HeadNext: the block extends the previous head.
	HeadNext
	// HeadReorg: the block became head on a different fork.
	HeadReorg
)

func (c HeadChange) String() string {
	switch c {
	case HeadUnchanged:
		return "fork"
	case HeadNext:
		return "next"
	case HeadReorg:
		return "reorg"
	default:
		return fmt.Sprintf("head_change(%d)", int(c))
	}
}
