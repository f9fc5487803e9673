package signature_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/signature"
	"github.com/nightshard/shardnode/utils/unittest"
)

func TestSignVerify(t *testing.T) {
	signer := unittest.SignerFixture(t, "alice")
	other := unittest.SignerFixture(t, "bob")

	verifier, err := signature.NewVerifier(signature.DefaultKeyCacheSize)
	require.NoError(t, err)

	t.Run("block", func(t *testing.T) {
		header := &flow.BlockHeader{Height: 7, ProposerID: "alice"}
		require.NoError(t, signer.SignBlock(header))
		require.NoError(t, verifier.VerifyBlock(signer.PublicKey(), header))

		// wrong key
		err := verifier.VerifyBlock(other.PublicKey(), header)
		require.True(t, signature.IsInvalidSignatureError(err))

		// tampered header
		header.Height = 8
		err = verifier.VerifyBlock(signer.PublicKey(), header)
		require.True(t, signature.IsInvalidSignatureError(err))
	})

	t.Run("cannot sign for another account", func(t *testing.T) {
		header := &flow.BlockHeader{Height: 7, ProposerID: "bob"}
		require.Error(t, signer.SignBlock(header))
	})

	t.Run("chunk", func(t *testing.T) {
		header := &flow.ChunkHeader{ShardID: 2, Height: 50, ProducerID: "alice"}
		require.NoError(t, signer.SignChunk(header))
		require.NoError(t, verifier.VerifyChunk(signer.PublicKey(), header))
	})

	t.Run("tags separate domains", func(t *testing.T) {
		approval, err := signer.Approve(unittest.IdentifierFixture(), 3)
		require.NoError(t, err)
		require.NoError(t, verifier.VerifyApproval(signer.PublicKey(), &approval))

		// an approval signature never verifies as a chunk signature
		header := &flow.ChunkHeader{ProducerID: "alice", Signature: approval.Signature}
		err = verifier.VerifyChunk(signer.PublicKey(), header)
		require.Error(t, err)
	})

	t.Run("empty signature", func(t *testing.T) {
		header := &flow.BlockHeader{Height: 1, ProposerID: "alice"}
		err := verifier.VerifyBlock(signer.PublicKey(), header)
		require.ErrorIs(t, err, signature.ErrInvalidFormat)
	})

	t.Run("malformed key", func(t *testing.T) {
		header := &flow.BlockHeader{Height: 1, ProposerID: "alice"}
		require.NoError(t, signer.SignBlock(header))
		err := verifier.VerifyBlock([]byte{1, 2, 3}, header)
		require.ErrorIs(t, err, signature.ErrInvalidKey)
	})
}
