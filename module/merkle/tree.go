package merkle

import (
	"fmt"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/nightshard/shardnode/model/flow"
)

// Tree is a binary SHA3-256 merkle tree over a fixed list of leaves. A node
// without a sibling is promoted to the next level unchanged, so the root
// equals flow.MerkleRoot over the same leaves.
type Tree struct {
	levels [][]flow.Identifier
}

// LeafHash hashes raw leaf data.
func LeafHash(data []byte) flow.Identifier {
	var id flow.Identifier
	hash.ComputeSHA3_256((*[hash.HashLenSHA3_256]byte)(&id), data)
	return id
}

// NewTree builds the tree over the given leaf hashes.
func NewTree(leaves []flow.Identifier) *Tree {
	level := make([]flow.Identifier, len(leaves))
	copy(level, leaves)
	levels := [][]flow.Identifier{level}
	for len(level) > 1 {
		next := make([]flow.Identifier, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, flow.ConcatSum(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}
}

// Size returns the number of leaves.
func (t *Tree) Size() int {
	return len(t.levels[0])
}

// Root returns the root hash, flow.ZeroID for an empty tree.
func (t *Tree) Root() flow.Identifier {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return flow.ZeroID
	}
	return top[0]
}

// Proof returns the sibling hashes on the path from the leaf at index to the
// root, bottom-up. Promoted nodes contribute no sibling.
func (t *Tree) Proof(index int) ([]flow.Identifier, error) {
	if index < 0 || index >= t.Size() {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.Size())
	}
	var proof []flow.Identifier
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}
