package chain_test

import (
	"context"
	"errors"

	"pgregory.net/rapid"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/state/chain"
)

// ancestorAt walks parent links from the accepted block down to height.
func (s *ChainSuite) ancestorAt(blockID flow.Identifier, height uint64) flow.Identifier {
	for {
		meta, err := s.state.Meta(blockID)
		s.Require().NoError(err)
		if meta.Height <= height {
			return blockID
		}
		blockID = meta.ParentID
	}
}

// Random block trees never revert finality, and the head is always the best
// accepted block on top of the finalized one.
func (s *ChainSuite) TestFinalityIsIrreversible() {
	rapid.Check(s.T(), func(rt *rapid.T) {
		s.TearDownTest()
		s.SetupTest()

		validators := s.all(s.genesis.Header.EpochID)
		accepted := []*flow.Block{s.genesis}
		finalized := map[uint64]flow.Identifier{0: s.genesis.ID()}
		var lastFinal uint64

		steps := rapid.IntRange(1, 16).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			parent := accepted[rapid.IntRange(0, len(accepted)-1).Draw(rt, "parent")]
			approvals := rapid.IntRange(0, len(validators)).Draw(rt, "approvals")
			block := s.empty(parent, append([]flow.AccountID{}, validators[:approvals]...)...)

			status, err := s.state.SubmitBlock(context.Background(), block)
			switch {
			case err == nil:
				if status != flow.BlockAccepted {
					rt.Fatalf("block on accepted parent ended %s", status)
				}
				accepted = append(accepted, block)
			case chain.IsUnfitError(err), errors.Is(err, chain.ErrOldBlock), errors.Is(err, chain.ErrConflictsWithFinalized):
			default:
				rt.Fatalf("unexpected error: %v", err)
			}

			final := s.state.FinalizedHeight()
			if final < lastFinal {
				rt.Fatalf("finalized height went back from %d to %d", lastFinal, final)
			}
			lastFinal = final
			for height, blockID := range finalized {
				current, err := s.state.FinalizedAt(height)
				if err != nil || current != blockID {
					rt.Fatalf("finalized block at height %d changed", height)
				}
			}
			finalizedID, err := s.state.FinalizedAt(final)
			if err != nil {
				rt.Fatalf("no finalized block at %d: %v", final, err)
			}
			finalized[final] = finalizedID

			head := s.state.Head()
			if s.ancestorAt(head.BlockID, final) != finalizedID {
				rt.Fatalf("head %x does not descend from the finalized block", head.BlockID)
			}
			for _, block := range accepted {
				if block.Header.Height <= final || s.ancestorAt(block.ID(), final) != finalizedID {
					continue
				}
				meta, err := s.state.Meta(block.ID())
				if err != nil {
					rt.Fatalf("missing meta: %v", err)
				}
				if flow.TipFromHeader(block.Header, meta.Score).Better(head) {
					rt.Fatalf("block %x is better than head %x", block.ID(), head.BlockID)
				}
			}
		}
	})
}
