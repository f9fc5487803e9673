// Package erasure splits chunk bodies into Reed-Solomon coded parts such that
// any DataParts of the TotalParts parts reconstruct the body.
package erasure

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/nightshard/shardnode/model/flow"
)

// ErrIncomplete is returned when fewer than DataParts parts are available.
var ErrIncomplete = errors.New("not enough parts to reconstruct")

// ErrEmptyData is returned when encoding an empty payload.
var ErrEmptyData = errors.New("cannot encode empty data")

// Coder encodes and reconstructs payloads for one erasure shape.
type Coder struct {
	shape flow.ErasureShape
	enc   reedsolomon.Encoder
}

// NewCoder returns a coder for the given shape.
func NewCoder(shape flow.ErasureShape) (*Coder, error) {
	err := shape.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid erasure shape: %w", err)
	}
	enc, err := reedsolomon.New(int(shape.DataParts), int(shape.ParityParts()))
	if err != nil {
		return nil, fmt.Errorf("could not create reed-solomon encoder: %w", err)
	}
	return &Coder{shape: shape, enc: enc}, nil
}

// Shape returns the coder's erasure shape.
func (c *Coder) Shape() flow.ErasureShape {
	return c.shape
}

// Encode splits the data into TotalParts equally sized parts, the first
// DataParts of which hold the (zero-padded) data.
func (c *Coder) Encode(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	// Split may use spare capacity of its input as shard storage
	parts, err := c.enc.Split(bytes.Clone(data))
	if err != nil {
		return nil, fmt.Errorf("could not split data: %w", err)
	}
	err = c.enc.Encode(parts)
	if err != nil {
		return nil, fmt.Errorf("could not compute parity: %w", err)
	}
	return parts, nil
}

// Decode reconstructs the original data of the given length. parts must have
// TotalParts entries, with nil for parts that are not available. The given
// slice is not modified.
// Expected errors during normal operations:
//   - ErrIncomplete if fewer than DataParts parts are present
//   - MismatchedPartsError if the present parts are inconsistent with each other
func (c *Coder) Decode(parts [][]byte, length uint64) ([]byte, error) {
	if len(parts) != int(c.shape.TotalParts) {
		return nil, fmt.Errorf("expected %d parts, got %d", c.shape.TotalParts, len(parts))
	}
	present := 0
	partSize := -1
	shards := make([][]byte, len(parts))
	for i, part := range parts {
		if part == nil {
			continue
		}
		if partSize >= 0 && len(part) != partSize {
			return nil, NewMismatchedPartsErrorf("part %d has size %d, expected %d", i, len(part), partSize)
		}
		partSize = len(part)
		shards[i] = bytes.Clone(part)
		present++
	}
	if present < int(c.shape.DataParts) {
		return nil, fmt.Errorf("%d of %d required parts available: %w", present, c.shape.DataParts, ErrIncomplete)
	}
	if uint64(partSize)*uint64(c.shape.DataParts) < length {
		return nil, NewMismatchedPartsErrorf("parts of size %d cannot hold %d bytes", partSize, length)
	}

	err := c.enc.Reconstruct(shards)
	if err != nil {
		return nil, NewMismatchedPartsErrorf("could not reconstruct: %v", err)
	}

	var buf bytes.Buffer
	err = c.enc.Join(&buf, shards, int(length))
	if err != nil {
		return nil, NewMismatchedPartsErrorf("could not join parts: %v", err)
	}
	return buf.Bytes(), nil
}

// Reconstruct returns all TotalParts parts from any DataParts of them.
func (c *Coder) Reconstruct(parts [][]byte) ([][]byte, error) {
	if len(parts) != int(c.shape.TotalParts) {
		return nil, fmt.Errorf("expected %d parts, got %d", c.shape.TotalParts, len(parts))
	}
	shards := make([][]byte, len(parts))
	present := 0
	for i, part := range parts {
		if part != nil {
			shards[i] = bytes.Clone(part)
			present++
		}
	}
	if present < int(c.shape.DataParts) {
		return nil, fmt.Errorf("%d of %d required parts available: %w", present, c.shape.DataParts, ErrIncomplete)
	}
	err := c.enc.Reconstruct(shards)
	if err != nil {
		return nil, NewMismatchedPartsErrorf("could not reconstruct: %v", err)
	}
	return shards, nil
}

// MismatchedPartsError indicates parts that cannot belong to the same encoding.
type MismatchedPartsError struct {
	err error
}

func NewMismatchedPartsErrorf(msg string, args ...interface{}) error {
	return MismatchedPartsError{err: fmt.Errorf(msg, args...)}
}

func (e MismatchedPartsError) Error() string {
	return e.err.Error()
}

func (e MismatchedPartsError) Unwrap() error {
	return e.err
}

// IsMismatchedPartsError returns whether err is a MismatchedPartsError
func IsMismatchedPartsError(err error) bool {
	var target MismatchedPartsError
	return errors.As(err, &target)
}
