package signature

import (
	"errors"
	"fmt"

	"github.com/nightshard/shardnode/model/flow"
)

var (
	ErrInvalidFormat = errors.New("invalid signature format")
	ErrInvalidKey    = errors.New("invalid public key")
)

// InvalidSignatureError indicates a well-formed signature that does not
// verify against the signer's key.
type InvalidSignatureError struct {
	Signer flow.AccountID
	Tag    string
}

func NewInvalidSignatureError(signer flow.AccountID, tag string) InvalidSignatureError {
	return InvalidSignatureError{Signer: signer, Tag: tag}
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid %s signature by %s", e.Tag, e.Signer)
}

// IsInvalidSignatureError returns whether err is an InvalidSignatureError.
func IsInvalidSignatureError(err error) bool {
	var target InvalidSignatureError
	return errors.As(err, &target)
}
