// Package execution provides the reference execution runtime. It treats
// transactions as transfers: a transaction credits its receiver with the
// amount encoded in its payload, either locally or, for a receiver on
// another shard, through a receipt.
package execution

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/storage"
)

const (
	TransactionGas = 100
	ReceiptGas     = 50
)

// Runtime is a deterministic module.Runtime writing shard state through a
// storage.StateStore. A transaction or receipt already applied in the prior
// state is skipped, so each is applied at most once along a fork.
type Runtime struct {
	log   zerolog.Logger
	store storage.StateStore
}

var _ module.Runtime = (*Runtime)(nil)

func NewRuntime(log zerolog.Logger, store storage.StateStore) *Runtime {
	return &Runtime{
		log:   log.With().Str("component", "runtime").Logger(),
		store: store,
	}
}

func (r *Runtime) Apply(shard flow.ShardID, priorRoot flow.Identifier, txs []*flow.Transaction, incoming []*flow.Receipt) (*module.ApplyResult, error) {
	v := newView(r.store, shard, priorRoot)
	result := &module.ApplyResult{}

	for _, receipt := range incoming {
		receiptID := receipt.ID()
		applied, err := v.has(receiptKey(receiptID))
		if err != nil {
			return nil, err
		}
		if applied {
			r.log.Debug().Hex("receipt_id", receiptID[:]).Msg("skipping receipt applied before")
			continue
		}
		receiver, amount := decodeTransfer(receipt.Payload)
		err = v.credit(receiver, amount)
		if err != nil {
			return nil, err
		}
		v.set(receiptKey(receiptID), receipt.OriginTxID[:])
		result.GasUsed += ReceiptGas
	}

	for _, tx := range txs {
		txID := tx.ID()
		applied, err := v.has(transactionKey(txID))
		if err != nil {
			return nil, err
		}
		if applied {
			r.log.Debug().Hex("tx_id", txID[:]).Msg("skipping transaction applied before")
			continue
		}
		amount := Amount(tx.Payload)
		if tx.ReceiverShard == shard {
			err = v.credit(tx.Receiver, amount)
			if err != nil {
				return nil, err
			}
		} else {
			result.Outgoing = append(result.Outgoing, &flow.Receipt{
				SourceShard:      shard,
				DestinationShard: tx.ReceiverShard,
				OriginTxID:       txID,
				Payload:          EncodeTransfer(tx.Receiver, amount),
			})
		}
		v.set(transactionKey(txID), []byte{1})
		result.GasUsed += TransactionGas
	}

	root, err := r.store.Commit(shard, priorRoot, v.writes)
	if err != nil {
		return nil, fmt.Errorf("could not commit shard %d state: %w", shard, err)
	}
	result.StateRoot = root
	return result, nil
}

// Balance returns the balance of the account in the shard state with the
// given root.
func (r *Runtime) Balance(shard flow.ShardID, root flow.Identifier, account flow.AccountID) (uint64, error) {
	return newView(r.store, shard, root).balance(account)
}

// Amount returns the amount a transaction payload transfers: its first
// eight bytes big-endian, or its length for shorter payloads.
func Amount(payload []byte) uint64 {
	if len(payload) < 8 {
		return uint64(len(payload))
	}
	return binary.BigEndian.Uint64(payload[:8])
}

// EncodeTransfer encodes the payload of a receipt crediting the receiver.
func EncodeTransfer(receiver flow.AccountID, amount uint64) []byte {
	payload := make([]byte, 8, 8+len(receiver))
	binary.BigEndian.PutUint64(payload, amount)
	return append(payload, receiver...)
}

func decodeTransfer(payload []byte) (flow.AccountID, uint64) {
	if len(payload) < 8 {
		return "", 0
	}
	return flow.AccountID(payload[8:]), binary.BigEndian.Uint64(payload[:8])
}

func balanceKey(account flow.AccountID) string { return "balance/" + string(account) }
func transactionKey(txID flow.Identifier) string {
	return "tx/" + string(txID[:])
}
func receiptKey(receiptID flow.Identifier) string {
	return "receipt/" + string(receiptID[:])
}

// view overlays the pending writes of one Apply over a committed state.
type view struct {
	store  storage.StateStore
	shard  flow.ShardID
	root   flow.Identifier
	writes map[string][]byte
}

func newView(store storage.StateStore, shard flow.ShardID, root flow.Identifier) *view {
	return &view{store: store, shard: shard, root: root, writes: make(map[string][]byte)}
}

func (v *view) get(key string) ([]byte, bool, error) {
	if value, ok := v.writes[key]; ok {
		return value, value != nil, nil
	}
	value, err := v.store.Get(v.shard, v.root, []byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not read %q from shard %d: %w", key, v.shard, err)
	}
	return value, true, nil
}

func (v *view) has(key string) (bool, error) {
	_, ok, err := v.get(key)
	return ok, err
}

func (v *view) set(key string, value []byte) {
	v.writes[key] = value
}

func (v *view) balance(account flow.AccountID) (uint64, error) {
	value, ok, err := v.get(balanceKey(account))
	if err != nil || !ok {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("malformed balance of %s: %d bytes", account, len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (v *view) credit(account flow.AccountID, amount uint64) error {
	if account == "" || amount == 0 {
		return nil
	}
	current, err := v.balance(account)
	if err != nil {
		return err
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, current+amount)
	v.set(balanceKey(account), value)
	return nil
}
