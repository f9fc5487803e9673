package chunks

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack"

	"github.com/nightshard/shardnode/model/flow"
)

// EncodeBody serializes the chunk body to the bytes that are erasure-coded.
func EncodeBody(body *flow.ChunkBody) ([]byte, error) {
	val, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not encode chunk body: %w", err)
	}
	return snappy.Encode(nil, val), nil
}

// DecodeBody is the inverse of EncodeBody.
func DecodeBody(data []byte) (*flow.ChunkBody, error) {
	val, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("could not uncompress chunk body: %w", err)
	}
	var body flow.ChunkBody
	err = msgpack.Unmarshal(val, &body)
	if err != nil {
		return nil, fmt.Errorf("could not decode chunk body: %w", err)
	}
	return &body, nil
}
