package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// StateStore implements copy-on-write shard states. Each committed state
// stores only the keys it wrote plus a link to the state it was derived from,
// so reading a key walks back along the links until a write is found. The
// empty state has root flow.ZeroID.
type StateStore struct {
	db      *badger.DB
	metrics module.CacheMetrics
	values  *lru.Cache[stateKey, stateEntry]
}

var _ storage.StateStore = (*StateStore)(nil)

type stateKey struct {
	shard flow.ShardID
	root  flow.Identifier
	key   string
}

type stateEntry struct {
	value []byte
	found bool
}

func NewStateStore(collector module.CacheMetrics, db *badger.DB) *StateStore {
	values, _ := lru.New[stateKey, stateEntry](16384)
	return &StateStore{
		db:      db,
		metrics: collector,
		values:  values,
	}
}

func (s *StateStore) Get(shard flow.ShardID, root flow.Identifier, key []byte) ([]byte, error) {
	cacheKey := stateKey{shard: shard, root: root, key: string(key)}
	if entry, ok := s.values.Get(cacheKey); ok {
		s.metrics.CacheHit(metrics.ResourceStateValue)
		if !entry.found {
			return nil, storage.ErrNotFound
		}
		return entry.value, nil
	}
	s.metrics.CacheMiss(metrics.ResourceStateValue)

	var entry stateEntry
	err := s.db.View(func(tx *badger.Txn) error {
		current := root
		for !current.IsZero() {
			var value []byte
			var deleted bool
			err := operation.RetrieveStateValue(shard, current, key, &value, &deleted)(tx)
			if err == nil {
				entry = stateEntry{value: value, found: !deleted}
				return nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("could not read state value: %w", err)
			}
			var parent flow.Identifier
			err = operation.RetrieveStateParent(shard, current, &parent)(tx)
			if err != nil {
				return fmt.Errorf("could not resolve state %x of shard %d: %w", current, shard, err)
			}
			current = parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.values.Add(cacheKey, entry)
	if !entry.found {
		return nil, storage.ErrNotFound
	}
	return entry.value, nil
}

func (s *StateStore) Commit(shard flow.ShardID, priorRoot flow.Identifier, writes map[string][]byte) (flow.Identifier, error) {
	if len(writes) == 0 {
		return priorRoot, nil
	}

	keys := maps.Keys(writes)
	slices.Sort(keys)

	root := StateRoot(priorRoot, keys, writes)
	ops := make([]func(*badger.Txn) error, 0, len(keys)+1)
	ops = append(ops, operation.SkipDuplicates(operation.InsertStateParent(shard, root, priorRoot)))
	for _, key := range keys {
		ops = append(ops, operation.SkipDuplicates(operation.InsertStateValue(shard, root, []byte(key), writes[key])))
	}
	err := operation.RetryOnConflict(s.db.Update, operation.Chain(ops...))
	if err != nil {
		return flow.ZeroID, fmt.Errorf("could not commit state for shard %d: %w", shard, err)
	}
	return root, nil
}

// StateRoot derives the root of the state obtained by applying the writes,
// given as sorted keys, on top of the prior root.
func StateRoot(priorRoot flow.Identifier, keys []string, writes map[string][]byte) flow.Identifier {
	type write struct {
		Key     []byte
		Value   []byte
		Deleted bool
	}
	body := struct {
		Prior  flow.Identifier
		Writes []write
	}{
		Prior:  priorRoot,
		Writes: make([]write, 0, len(keys)),
	}
	for _, key := range keys {
		value := writes[key]
		body.Writes = append(body.Writes, write{Key: []byte(key), Value: value, Deleted: value == nil})
	}
	return flow.MakeID(body)
}
