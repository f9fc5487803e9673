package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
)

func InsertEpochInfo(epochID flow.Identifier, epoch *flow.EpochInfo) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochInfo, epochID), epoch)
}

func RetrieveEpochInfo(epochID flow.Identifier, epoch *flow.EpochInfo) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEpochInfo, epochID), epoch)
}

func RemoveEpochInfo(epochID flow.Identifier) func(*badger.Txn) error {
	return remove(makePrefix(codeEpochInfo, epochID))
}

func InsertEpochSnapshot(epochID flow.Identifier, snapshot flow.StakeList) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochSnapshot, epochID), snapshot)
}

func RetrieveEpochSnapshot(epochID flow.Identifier, snapshot *flow.StakeList) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEpochSnapshot, epochID), snapshot)
}

func RemoveEpochSnapshot(epochID flow.Identifier) func(*badger.Txn) error {
	return remove(makePrefix(codeEpochSnapshot, epochID))
}

// IndexEpochByCounter indexes the epoch under its counter. Competing forks can
// index several epochs under the same counter.
func IndexEpochByCounter(counter uint64, epochID flow.Identifier) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochByCounter, counter, epochID), epochID)
}

func LookupEpochsByCounter(counter uint64, epochIDs *[]flow.Identifier) func(*badger.Txn) error {
	return traverse(makePrefix(codeEpochByCounter, counter), lookup(epochIDs))
}

func RemoveEpochCounterIndex(counter uint64, epochID flow.Identifier) func(*badger.Txn) error {
	return remove(makePrefix(codeEpochByCounter, counter, epochID))
}

// LookupEpochCounters retrieves all indexed epoch counters in ascending order.
func LookupEpochCounters(counters *[]uint64) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		*counters = (*counters)[:0]
		return traverseKeys(makePrefix(codeEpochByCounter), func(key []byte) error {
			if len(key) < 9 {
				return fmt.Errorf("malformed epoch counter key %x", key)
			}
			counter := binary.BigEndian.Uint64(key[1:9])
			if n := len(*counters); n == 0 || (*counters)[n-1] != counter {
				*counters = append(*counters, counter)
			}
			return nil
		})(tx)
	}
}

func InsertEpochBlock(blockID flow.Identifier, record *flow.EpochBlock) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochBlock, blockID), record)
}

func RetrieveEpochBlock(blockID flow.Identifier, record *flow.EpochBlock) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEpochBlock, blockID), record)
}

// InsertEquivocation records an equivocation under its duty slot. Returns
// storage.ErrAlreadyExists if the slot was already recorded for the validator.
func InsertEquivocation(record flow.EquivocationRecord) func(*badger.Txn) error {
	key := makePrefix(codeEquivocation, record.EpochID, record.AccountID, record.ShardID, record.Height)
	return insert(key, record)
}

func LookupEquivocations(epochID flow.Identifier, records *[]flow.EquivocationRecord) func(*badger.Txn) error {
	*records = (*records)[:0]
	iteration := func() (checkFunc, createFunc, handleFunc) {
		check := func(key []byte) bool {
			return true
		}
		var record flow.EquivocationRecord
		create := func() interface{} {
			return &record
		}
		handle := func() error {
			*records = append(*records, record)
			return nil
		}
		return check, create, handle
	}
	return traverse(makePrefix(codeEquivocation, epochID), iteration)
}
