package signature

import (
	"fmt"

	"github.com/onflow/flow-go/crypto"

	"github.com/nightshard/shardnode/model/flow"
)

// SigningAlgorithm is the signature scheme for all protocol signatures.
const SigningAlgorithm = crypto.ECDSAP256

// Signer produces protocol signatures on behalf of one validator account.
type Signer struct {
	account flow.AccountID
	key     crypto.PrivateKey
}

// NewSigner creates a signer for the given account.
func NewSigner(account flow.AccountID, key crypto.PrivateKey) *Signer {
	return &Signer{account: account, key: key}
}

// GenerateKey derives a private key from the given seed. The seed must hold at
// least crypto.KeyGenSeedMinLen bytes.
func GenerateKey(seed []byte) (crypto.PrivateKey, error) {
	key, err := crypto.GeneratePrivateKey(SigningAlgorithm, seed)
	if err != nil {
		return nil, fmt.Errorf("could not generate private key: %w", err)
	}
	return key, nil
}

// Account returns the account the signer signs for.
func (s *Signer) Account() flow.AccountID {
	return s.account
}

// PublicKey returns the encoded public key of the signer.
func (s *Signer) PublicKey() []byte {
	return s.key.PublicKey().Encode()
}

func (s *Signer) sign(tag string, msg []byte) ([]byte, error) {
	sig, err := s.key.Sign(taggedMessage(tag, msg), NewHasher())
	if err != nil {
		return nil, fmt.Errorf("could not sign %s message: %w", tag, err)
	}
	return sig, nil
}

// SignBlock signs the header and sets its signature.
func (s *Signer) SignBlock(header *flow.BlockHeader) error {
	if header.ProposerID != s.account {
		return fmt.Errorf("signer %s cannot sign block proposed by %s", s.account, header.ProposerID)
	}
	sig, err := s.sign(BlockProposalTag, header.SigningMessage())
	if err != nil {
		return err
	}
	header.Signature = sig
	return nil
}

// SignChunk signs the chunk header and sets its signature.
func (s *Signer) SignChunk(header *flow.ChunkHeader) error {
	if header.ProducerID != s.account {
		return fmt.Errorf("signer %s cannot sign chunk produced by %s", s.account, header.ProducerID)
	}
	sig, err := s.sign(ChunkHeaderTag, header.SigningMessage())
	if err != nil {
		return err
	}
	header.Signature = sig
	return nil
}

// Approve creates a signed approval for the given block.
func (s *Signer) Approve(blockID flow.Identifier, height uint64) (flow.Approval, error) {
	approval := flow.Approval{
		BlockID:     blockID,
		Height:      height,
		ValidatorID: s.account,
	}
	sig, err := s.sign(ApprovalTag, approval.SigningMessage())
	if err != nil {
		return flow.Approval{}, err
	}
	approval.Signature = sig
	return approval, nil
}
