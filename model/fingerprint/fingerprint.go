package fingerprint

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// Fingerprinter is implemented by entities that define their own canonical
// byte representation for hashing. Entities that don't implement it are
// fingerprinted from their RLP encoding.
type Fingerprinter interface {
	Fingerprint() []byte
}

// Fingerprint returns the canonical encoding of the given entity, used to
// derive content-addressed identifiers.
func Fingerprint(entity interface{}) []byte {
	if fp, ok := entity.(Fingerprinter); ok {
		return fp.Fingerprint()
	}
	data, err := rlp.EncodeToBytes(entity)
	if err != nil {
		panic("could not encode entity for fingerprint: " + err.Error())
	}
	return data
}
