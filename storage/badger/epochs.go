package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/metrics"
	"github.com/nightshard/shardnode/storage"
	"github.com/nightshard/shardnode/storage/badger/operation"
)

// Epochs implements epoch assignment storage. Epoch infos and per-block
// records are immutable once written and cached by ID.
type Epochs struct {
	db     *badger.DB
	epochs *Cache[flow.Identifier, *flow.EpochInfo]
	blocks *Cache[flow.Identifier, *flow.EpochBlock]
}

var _ storage.Epochs = (*Epochs)(nil)

func NewEpochs(collector module.CacheMetrics, db *badger.DB) *Epochs {

	retrieveEpoch := func(epochID flow.Identifier) func(*badger.Txn) (*flow.EpochInfo, error) {
		return func(tx *badger.Txn) (*flow.EpochInfo, error) {
			var epoch flow.EpochInfo
			err := operation.RetrieveEpochInfo(epochID, &epoch)(tx)
			return &epoch, err
		}
	}

	storeBlock := func(blockID flow.Identifier, record *flow.EpochBlock) func(*badger.Txn) error {
		return operation.SkipDuplicates(operation.InsertEpochBlock(blockID, record))
	}
	retrieveBlock := func(blockID flow.Identifier) func(*badger.Txn) (*flow.EpochBlock, error) {
		return func(tx *badger.Txn) (*flow.EpochBlock, error) {
			var record flow.EpochBlock
			err := operation.RetrieveEpochBlock(blockID, &record)(tx)
			return &record, err
		}
	}

	e := &Epochs{
		db: db,
		epochs: newCache(collector, metrics.ResourceEpoch,
			withLimit[flow.Identifier, *flow.EpochInfo](64),
			withRetrieve(retrieveEpoch)),
		blocks: newCache(collector, metrics.ResourceEpochBlock,
			withLimit[flow.Identifier, *flow.EpochBlock](4096),
			withStore(storeBlock),
			withRetrieve(retrieveBlock)),
	}

	return e
}

func (e *Epochs) StoreEpoch(epoch *flow.EpochInfo, snapshot flow.StakeList) error {
	err := operation.RetryOnConflict(e.db.Update, operation.Chain(
		operation.SkipDuplicates(operation.InsertEpochInfo(epoch.ID, epoch)),
		operation.SkipDuplicates(operation.InsertEpochSnapshot(epoch.ID, snapshot)),
		operation.SkipDuplicates(operation.IndexEpochByCounter(epoch.Counter, epoch.ID)),
	))
	if err != nil {
		return fmt.Errorf("could not store epoch %d (%x): %w", epoch.Counter, epoch.ID, err)
	}
	e.epochs.Insert(epoch.ID, epoch)
	return nil
}

func (e *Epochs) ByID(epochID flow.Identifier) (*flow.EpochInfo, error) {
	tx := e.db.NewTransaction(false)
	defer tx.Discard()
	return e.epochs.Get(epochID)(tx)
}

func (e *Epochs) Snapshot(epochID flow.Identifier) (flow.StakeList, error) {
	var snapshot flow.StakeList
	err := e.db.View(operation.RetrieveEpochSnapshot(epochID, &snapshot))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve stake snapshot: %w", err)
	}
	return snapshot, nil
}

func (e *Epochs) IDsByCounter(counter uint64) (flow.IdentifierList, error) {
	var epochIDs []flow.Identifier
	err := e.db.View(operation.LookupEpochsByCounter(counter, &epochIDs))
	if err != nil {
		return nil, fmt.Errorf("could not look up epochs for counter %d: %w", counter, err)
	}
	return epochIDs, nil
}

func (e *Epochs) Counters() ([]uint64, error) {
	var counters []uint64
	err := e.db.View(operation.LookupEpochCounters(&counters))
	if err != nil {
		return nil, fmt.Errorf("could not look up epoch counters: %w", err)
	}
	return counters, nil
}

func (e *Epochs) RemoveEpoch(epoch *flow.EpochInfo) error {
	e.epochs.Remove(epoch.ID)
	err := operation.RetryOnConflict(e.db.Update, operation.Chain(
		operation.RemoveEpochInfo(epoch.ID),
		operation.RemoveEpochSnapshot(epoch.ID),
		operation.RemoveEpochCounterIndex(epoch.Counter, epoch.ID),
	))
	if err != nil {
		return fmt.Errorf("could not remove epoch %d (%x): %w", epoch.Counter, epoch.ID, err)
	}
	return nil
}

func (e *Epochs) StoreBlock(record *flow.EpochBlock) error {
	err := e.blocks.Put(e.db, record.BlockID, record)
	if err != nil {
		return fmt.Errorf("could not store epoch block record: %w", err)
	}
	return nil
}

func (e *Epochs) Block(blockID flow.Identifier) (*flow.EpochBlock, error) {
	tx := e.db.NewTransaction(false)
	defer tx.Discard()
	return e.blocks.Get(blockID)(tx)
}

func (e *Epochs) RecordEquivocation(record flow.EquivocationRecord) (bool, error) {
	err := operation.RetryOnConflict(e.db.Update, operation.InsertEquivocation(record))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not record equivocation: %w", err)
	}
	return true, nil
}

func (e *Epochs) Equivocations(epochID flow.Identifier) ([]flow.EquivocationRecord, error) {
	var records []flow.EquivocationRecord
	err := e.db.View(operation.LookupEquivocations(epochID, &records))
	if err != nil {
		return nil, fmt.Errorf("could not look up equivocations: %w", err)
	}
	return records, nil
}
