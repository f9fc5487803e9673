package flow

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/nightshard/shardnode/model/fingerprint"
)

// IdentifierLen is the length of an Identifier in bytes.
const IdentifierLen = 32

// Identifier represents a 32-byte unique identifier for an entity.
type Identifier [IdentifierLen]byte

// ZeroID is the lowest value in the 32-byte ID space.
var ZeroID = Identifier{}

// Entity is anything that can be content-addressed by an Identifier.
type Entity interface {
	ID() Identifier
}

// HexStringToIdentifier converts a hex string to an identifier. The input
// must be 64 characters long and contain only valid hex characters.
func HexStringToIdentifier(hexString string) (Identifier, error) {
	var identifier Identifier
	i, err := hex.Decode(identifier[:], []byte(hexString))
	if err != nil {
		return identifier, err
	}
	if i != IdentifierLen {
		return identifier, fmt.Errorf("malformed input, expected %d bytes (%d characters), decoded %d", IdentifierLen, hex.EncodedLen(IdentifierLen), i)
	}
	return identifier, nil
}

// String returns the hex string representation of the identifier.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// TerminalString is a short form used in logs.
func (id Identifier) TerminalString() string {
	return hex.EncodeToString(id[:4])
}

// IsZero reports whether the identifier is the zero value.
func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// Less orders identifiers lexicographically by their bytes.
func (id Identifier) Less(other Identifier) bool {
	return id.Compare(other) < 0
}

// Compare is the three-way form of Less.
func (id Identifier) Compare(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

// HashToID converts a hash to an identifier, truncating or zero-padding it
// to IdentifierLen.
func HashToID(hash []byte) Identifier {
	var id Identifier
	copy(id[:], hash)
	return id
}

// MakeID creates an ID from the SHA3-256 hash of the entity's fingerprint.
func MakeID(entity interface{}) Identifier {
	data := fingerprint.Fingerprint(entity)
	hasher := hash.NewSHA3_256()
	return HashToID(hasher.ComputeHash(data))
}

// MerkleRoot computes the root of a binary SHA3-256 merkle tree over the
// given identifiers. An odd node at any level is promoted unchanged. The root
// of an empty list is ZeroID.
func MerkleRoot(ids ...Identifier) Identifier {
	if len(ids) == 0 {
		return ZeroID
	}
	level := make([]Identifier, len(ids))
	copy(level, ids)
	for len(level) > 1 {
		next := make([]Identifier, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, ConcatSum(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// ConcatSum hashes the concatenation of the given identifiers.
func ConcatSum(ids ...Identifier) Identifier {
	hasher := hash.NewSHA3_256()
	for _, id := range ids {
		_, _ = hasher.Write(id[:])
	}
	return HashToID(hasher.SumHash())
}

// IdentifierList is a list of identifiers that can be sorted canonically.
type IdentifierList []Identifier

func (il IdentifierList) Len() int           { return len(il) }
func (il IdentifierList) Less(i, j int) bool { return il[i].Less(il[j]) }
func (il IdentifierList) Swap(i, j int)      { il[i], il[j] = il[j], il[i] }

// Sorted returns a canonically ordered copy of the list.
func (il IdentifierList) Sorted() IdentifierList {
	dup := make(IdentifierList, len(il))
	copy(dup, il)
	sort.Sort(dup)
	return dup
}

// Contains reports whether the list holds the given identifier.
func (il IdentifierList) Contains(target Identifier) bool {
	for _, id := range il {
		if id == target {
			return true
		}
	}
	return false
}

// GetIDs returns the identifiers of the given entities.
func GetIDs[T Entity](entities []T) IdentifierList {
	ids := make(IdentifierList, 0, len(entities))
	for _, entity := range entities {
		ids = append(ids, entity.ID())
	}
	return ids
}
