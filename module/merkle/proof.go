package merkle

import (
	"github.com/nightshard/shardnode/model/flow"
)

// Verify checks that leaf is the index-th of total leaves of the tree with
// the given root. Returns a MalformedProofError if the proof has the wrong
// number of hashes for the position and an InvalidProofError if the computed
// root differs from the expected one.
func Verify(root flow.Identifier, leaf flow.Identifier, index int, total int, proof []flow.Identifier) error {
	if total <= 0 || index < 0 || index >= total {
		return NewMalformedProofErrorf("leaf index %d out of range [0, %d)", index, total)
	}

	current := leaf
	used := 0
	for width := total; width > 1; width = (width + 1) / 2 {
		isLeft := index%2 == 0
		hasSibling := !isLeft || index+1 < width
		if hasSibling {
			if used >= len(proof) {
				return NewMalformedProofErrorf("proof too short, expected more than %d hashes", len(proof))
			}
			if isLeft {
				current = flow.ConcatSum(current, proof[used])
			} else {
				current = flow.ConcatSum(proof[used], current)
			}
			used++
		}
		index /= 2
	}
	if used != len(proof) {
		return NewMalformedProofErrorf("proof has %d hashes, expected %d", len(proof), used)
	}
	if current != root {
		return NewInvalidProofErrorf("computed root %x does not match expected root %x", current, root)
	}
	return nil
}
