package chunks

import (
	"errors"
	"fmt"

	"github.com/nightshard/shardnode/model/flow"
)

var (
	// ErrUnknownChunk is returned for parts of a chunk whose header was not submitted.
	ErrUnknownChunk = errors.New("unknown chunk")

	// ErrUnknownPrevBlock is returned for a chunk built on a block that is not accepted yet.
	ErrUnknownPrevBlock = errors.New("chunk builds on unknown block")
)

// RejectReason names why a chunk was rejected.
type RejectReason string

const (
	RejectWrongShape      RejectReason = "wrong_shape"
	RejectInvalidHeader   RejectReason = "invalid_header"
	RejectWrongProducer   RejectReason = "wrong_producer"
	RejectBadSignature    RejectReason = "bad_signature"
	RejectEquivocation    RejectReason = "equivocation"
	RejectRootMismatch    RejectReason = "root_mismatch"
	RejectMalformedBody   RejectReason = "malformed_body"
	RejectReceiptMismatch RejectReason = "receipt_mismatch"
)

// ChunkRejectedError indicates a chunk that failed validation. Rejection is
// terminal for the chunk.
type ChunkRejectedError struct {
	ChunkID flow.Identifier
	Reason  RejectReason
	err     error
}

func NewChunkRejectedErrorf(chunkID flow.Identifier, reason RejectReason, msg string, args ...interface{}) ChunkRejectedError {
	return ChunkRejectedError{
		ChunkID: chunkID,
		Reason:  reason,
		err:     fmt.Errorf(msg, args...),
	}
}

func (e ChunkRejectedError) Error() string {
	return fmt.Sprintf("chunk %x rejected (%s): %s", e.ChunkID, e.Reason, e.err.Error())
}

func (e ChunkRejectedError) Unwrap() error {
	return e.err
}

// IsChunkRejectedError returns whether err is a ChunkRejectedError.
func IsChunkRejectedError(err error) bool {
	var target ChunkRejectedError
	return errors.As(err, &target)
}

// RejectionReason returns the reason carried by a ChunkRejectedError in the
// error chain, and false if there is none.
func RejectionReason(err error) (RejectReason, bool) {
	var target ChunkRejectedError
	if !errors.As(err, &target) {
		return "", false
	}
	return target.Reason, true
}
