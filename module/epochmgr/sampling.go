package epochmgr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/onflow/flow-go/crypto/hash"
	"github.com/onflow/flow-go/crypto/random"
)

// Customizers separate the PRG streams drawn from one epoch seed. Each is at
// most 12 bytes long.
var (
	customizerSeats          = []byte("seats")
	customizerBlockProducers = []byte("blockprop")
	customizerChunkProducers = []byte("chunk")
)

// shardCustomizer appends the shard index to a customizer prefix.
func shardCustomizer(prefix []byte, shard uint32) []byte {
	out := make([]byte, len(prefix), len(prefix)+4)
	copy(out, prefix)
	return binary.BigEndian.AppendUint32(out, shard)
}

// prgFromSeed returns a ChaCha20 PRG seeded by the SHA3-256 hash of the epoch
// seed, specialised by the customizer.
func prgFromSeed(seed []byte, customizer []byte) (random.Rand, error) {
	// hash the seed to uniformize the entropy
	var prgSeed [hash.HashLenSHA3_256]byte
	hash.ComputeSHA3_256(&prgSeed, seed)

	rng, err := random.NewChacha20PRG(prgSeed[:], customizer)
	if err != nil {
		return nil, fmt.Errorf("could not create ChaCha20 PRG: %w", err)
	}
	return rng, nil
}

// cumulativeWeights returns the running sums of the weights. Returns an error
// if the total is zero or overflows.
func cumulativeWeights(weights []uint64) ([]uint64, error) {
	sums := make([]uint64, 0, len(weights))
	var cumsum uint64
	for _, weight := range weights {
		if cumsum+weight < cumsum {
			return nil, fmt.Errorf("total weight overflows")
		}
		cumsum += weight
		sums = append(sums, cumsum)
	}
	if cumsum == 0 {
		return nil, fmt.Errorf("total weight must be greater than 0")
	}
	return sums, nil
}

// weightedRandomSelection draws count indices into weights with replacement.
// The chance of an index being drawn is proportional to its weight; indices
// with zero weight are never drawn.
func weightedRandomSelection(rng random.Rand, count int, weights []uint64) ([]uint16, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("weights is empty")
	}
	if len(weights) >= math.MaxUint16 {
		return nil, fmt.Errorf("number of candidates (%d) exceeds maximum (2^16-1)", len(weights))
	}

	weightSums, err := cumulativeWeights(weights)
	if err != nil {
		return nil, err
	}
	total := weightSums[len(weightSums)-1]

	selected := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		// pick a random number in [0, total)
		randomness := rng.UintN(total)
		selected = append(selected, uint16(binarySearchStrictlyBigger(randomness, weightSums)))
	}
	return selected, nil
}

// weightedSampleWithoutReplacement draws count distinct indices into weights.
// Each round draws proportionally to the weights of the candidates not drawn
// yet, in candidate order. Zero-weight candidates are never drawn, so count
// must not exceed the number of candidates with positive weight.
func weightedSampleWithoutReplacement(rng random.Rand, count int, weights []uint64) ([]int, error) {
	positive := 0
	for _, weight := range weights {
		if weight > 0 {
			positive++
		}
	}
	if count > positive {
		return nil, fmt.Errorf("cannot sample %d of %d candidates with positive weight", count, positive)
	}

	remaining := make([]int, len(weights))
	for i := range remaining {
		remaining[i] = i
	}
	remainingWeights := make([]uint64, len(weights))
	copy(remainingWeights, weights)

	selected := make([]int, 0, count)
	for len(selected) < count {
		weightSums, err := cumulativeWeights(remainingWeights)
		if err != nil {
			return nil, err
		}
		randomness := rng.UintN(weightSums[len(weightSums)-1])
		pick := binarySearchStrictlyBigger(randomness, weightSums)

		selected = append(selected, remaining[pick])
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		remainingWeights = append(remainingWeights[:pick], remainingWeights[pick+1:]...)
	}
	return selected, nil
}

// binarySearchStrictlyBigger finds the index of the first item in the given array that is
// strictly bigger to the given value.
// There are a few assumptions on inputs:
// - `arr` must be non-empty
// - items in `arr` must be in non-decreasing order
// - `value` must be less than the last item in `arr`
func binarySearchStrictlyBigger(value uint64, arr []uint64) int {
	left := 0
	arrayLen := len(arr)
	right := arrayLen - 1
	mid := arrayLen >> 1
	for {
		if arr[mid] <= value {
			left = mid + 1
		} else {
			right = mid
		}

		if left >= right {
			return left
		}

		mid = int(left+right) >> 1
	}
}
