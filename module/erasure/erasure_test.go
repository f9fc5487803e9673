package erasure_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/erasure"
	"github.com/nightshard/shardnode/utils/unittest"
)

// drop removes all but the parts at the kept indices.
func drop(parts [][]byte, keep []int) [][]byte {
	out := make([][]byte, len(parts))
	for _, i := range keep {
		out[i] = parts[i]
	}
	return out
}

// TestRoundTrip verifies that any DataParts of the TotalParts parts
// reconstruct the original data exactly, and fewer are reported incomplete.
func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dataParts := rapid.Uint32Range(1, 8).Draw(t, "data_parts")
		totalParts := rapid.Uint32Range(dataParts+1, dataParts+8).Draw(t, "total_parts")
		shape := flow.ErasureShape{DataParts: dataParts, TotalParts: totalParts}
		data := rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(t, "data")

		coder, err := erasure.NewCoder(shape)
		require.NoError(t, err)
		parts, err := coder.Encode(data)
		require.NoError(t, err)
		require.Len(t, parts, int(totalParts))

		perm := rapid.Permutation(indices(int(totalParts))).Draw(t, "order")
		keep := perm[:dataParts]

		decoded, err := coder.Decode(drop(parts, keep), uint64(len(data)))
		require.NoError(t, err)
		require.Equal(t, data, decoded)

		_, err = coder.Decode(drop(parts, perm[:dataParts-1]), uint64(len(data)))
		require.True(t, errors.Is(err, erasure.ErrIncomplete))
	})
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestReconstructRestoresAllParts(t *testing.T) {
	coder, err := erasure.NewCoder(flow.ErasureShape{DataParts: 4, TotalParts: 7})
	require.NoError(t, err)
	parts, err := coder.Encode(unittest.RandomBytes(1000))
	require.NoError(t, err)

	restored, err := coder.Reconstruct(drop(parts, []int{0, 2, 5, 6}))
	require.NoError(t, err)
	assert.Equal(t, parts, restored)
}

func TestDecodeDoesNotModifyInput(t *testing.T) {
	coder, err := erasure.NewCoder(flow.ErasureShape{DataParts: 2, TotalParts: 4})
	require.NoError(t, err)
	data := unittest.RandomBytes(64)
	parts, err := coder.Encode(data)
	require.NoError(t, err)

	partial := drop(parts, []int{1, 3})
	_, err = coder.Decode(partial, uint64(len(data)))
	require.NoError(t, err)
	assert.Nil(t, partial[0])
	assert.Nil(t, partial[2])
}

func TestMismatchedParts(t *testing.T) {
	coder, err := erasure.NewCoder(flow.ErasureShape{DataParts: 2, TotalParts: 3})
	require.NoError(t, err)
	parts, err := coder.Encode(unittest.RandomBytes(64))
	require.NoError(t, err)

	parts[1] = parts[1][:len(parts[1])-1]
	_, err = coder.Decode(parts, 64)
	assert.True(t, erasure.IsMismatchedPartsError(err))
}

func TestInvalidShape(t *testing.T) {
	_, err := erasure.NewCoder(flow.ErasureShape{DataParts: 4, TotalParts: 4})
	assert.Error(t, err)
	_, err = erasure.NewCoder(flow.ErasureShape{DataParts: 0, TotalParts: 2})
	assert.Error(t, err)
}

func TestEncodeEmpty(t *testing.T) {
	coder, err := erasure.NewCoder(flow.ErasureShape{DataParts: 4, TotalParts: 7})
	require.NoError(t, err)
	_, err = coder.Encode(nil)
	assert.ErrorIs(t, err, erasure.ErrEmptyData)
}
