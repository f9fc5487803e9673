package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/nightshard/shardnode/model/flow"
)

const (

	// codes for special database markers
	codeFinalizedHeight = 1
	codeHeadBlock       = 2

	// codes for blocks and chain bookkeeping
	codeBlock             = 10
	codeBlockMeta         = 11
	codeFinalizedAtHeight = 12
	codeBlockChild        = 13

	// codes for chunks
	codeChunkHeader = 20
	codeChunkBody   = 21
	codeChunkState  = 22

	// codes for epochs
	codeEpochInfo      = 30
	codeEpochSnapshot  = 31
	codeEpochByCounter = 32
	codeEpochBlock     = 33
	codeEquivocation   = 34

	// codes for the receipt router
	codeReceiptQueues    = 40
	codeOutgoingReceipts = 41
	codeIncomingReceipts = 42

	// codes for shard state
	codeStateParent = 50
	codeStateValue  = 51
)

func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, b(key)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case uint8:
		return []byte{i}
	case uint32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, i)
		return b
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, i)
		return b
	case flow.ShardID:
		return b(uint32(i))
	case flow.Identifier:
		return i[:]
	case flow.AccountID:
		// length-prefixed so that one account is never a prefix of another
		return append(b(uint32(len(i))), i...)
	case []byte:
		return i
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}
