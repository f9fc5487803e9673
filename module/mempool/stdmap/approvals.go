package stdmap

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/mempool"
)

// Approvals implements the approvals memory pool.
type Approvals struct {
	*backend[*flow.Approval]
}

var _ mempool.Approvals = (*Approvals)(nil)

func NewApprovals() *Approvals {
	return &Approvals{backend: newBackend[*flow.Approval]()}
}

func (a *Approvals) Add(approval *flow.Approval) bool {
	return a.backend.Add(approval.ID(), approval)
}

func (a *Approvals) ByBlockID(blockID flow.Identifier) []*flow.Approval {
	approvals := a.backend.filter(func(approval *flow.Approval) bool {
		return approval.BlockID == blockID
	})
	slices.SortFunc(approvals, func(a, b *flow.Approval) int {
		return strings.Compare(string(a.ValidatorID), string(b.ValidatorID))
	})
	return approvals
}

func (a *Approvals) PruneUpToHeight(height uint64) int {
	return a.backend.removeIf(func(approval *flow.Approval) bool {
		return approval.Height <= height
	})
}
