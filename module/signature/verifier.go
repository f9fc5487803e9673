package signature

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/onflow/flow-go/crypto"

	"github.com/nightshard/shardnode/model/flow"
)

// DefaultKeyCacheSize is the number of decoded public keys kept in memory.
const DefaultKeyCacheSize = 1024

// Verifier checks protocol signatures against encoded public keys. Decoding
// a key is expensive, so decoded keys are cached by their encoding.
// Verifier is safe for concurrent use.
type Verifier struct {
	keys *lru.Cache[string, crypto.PublicKey]
}

// NewVerifier creates a verifier caching up to cacheSize decoded keys.
func NewVerifier(cacheSize int) (*Verifier, error) {
	keys, err := lru.New[string, crypto.PublicKey](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create key cache: %w", err)
	}
	return &Verifier{keys: keys}, nil
}

func (v *Verifier) publicKey(encoded []byte) (crypto.PublicKey, error) {
	if key, ok := v.keys.Get(string(encoded)); ok {
		return key, nil
	}
	key, err := crypto.DecodePublicKey(SigningAlgorithm, encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	v.keys.Add(string(encoded), key)
	return key, nil
}

// verify returns an InvalidSignatureError if sig does not verify and a
// sentinel error if the key or signature is malformed.
func (v *Verifier) verify(signer flow.AccountID, encodedKey []byte, tag string, msg []byte, sig []byte) error {
	if len(sig) == 0 {
		return fmt.Errorf("empty signature by %s: %w", signer, ErrInvalidFormat)
	}
	key, err := v.publicKey(encodedKey)
	if err != nil {
		return fmt.Errorf("could not decode key of %s: %w", signer, err)
	}
	valid, err := key.Verify(sig, taggedMessage(tag, msg), NewHasher())
	if err != nil {
		return fmt.Errorf("could not verify signature by %s: %w", signer, ErrInvalidFormat)
	}
	if !valid {
		return NewInvalidSignatureError(signer, tag)
	}
	return nil
}

// VerifyBlock checks the proposer signature of the header.
func (v *Verifier) VerifyBlock(proposerKey []byte, header *flow.BlockHeader) error {
	return v.verify(header.ProposerID, proposerKey, BlockProposalTag, header.SigningMessage(), header.Signature)
}

// VerifyChunk checks the producer signature of the chunk header.
func (v *Verifier) VerifyChunk(producerKey []byte, header *flow.ChunkHeader) error {
	return v.verify(header.ProducerID, producerKey, ChunkHeaderTag, header.SigningMessage(), header.Signature)
}

// VerifyApproval checks the validator signature of the approval.
func (v *Verifier) VerifyApproval(validatorKey []byte, approval *flow.Approval) error {
	return v.verify(approval.ValidatorID, validatorKey, ApprovalTag, approval.SigningMessage(), approval.Signature)
}
