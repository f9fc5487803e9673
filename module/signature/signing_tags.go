package signature

import (
	"github.com/onflow/flow-go/crypto/hash"
)

// List of domain separation tags for protocol signatures.
//
// Every signed object is prefixed with a tag naming its type before hashing,
// so a signature over one kind of object can never be replayed as a signature
// over another.

// protocol prefix
const protocolPrefix = "SHARDNODE-"

// protocol version
const protocolVersion = "-V00"

func tag(domain string) string {
	return protocolPrefix + domain + protocolVersion
}

var (
	// BlockProposalTag is used for block headers signed by the block producer.
	BlockProposalTag = tag("Block_Proposal")
	// ChunkHeaderTag is used for chunk headers signed by the chunk producer.
	ChunkHeaderTag = tag("Chunk_Header")
	// ApprovalTag is used for endorsements of a (height, block) pair.
	ApprovalTag = tag("Approval")
)

// NewHasher returns the hasher used for signing and verifying protocol
// messages. Hashers are stateful and must not be shared between goroutines.
func NewHasher() hash.Hasher {
	return hash.NewSHA3_256()
}

// taggedMessage prefixes msg with the domain tag.
func taggedMessage(tag string, msg []byte) []byte {
	out := make([]byte, 0, len(tag)+len(msg))
	out = append(out, tag...)
	return append(out, msg...)
}
