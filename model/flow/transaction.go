package flow

// Transaction is an opaque state transition submitted to one shard. The core
// only orders and routes it; its payload is interpreted by the runtime.
type Transaction struct {
	ShardID       ShardID
	Sender        AccountID
	Receiver      AccountID
	ReceiverShard ShardID
	Nonce         uint64
	Payload       []byte
}

// ID returns the transaction hash.
func (tx *Transaction) ID() Identifier {
	return MakeID(tx)
}
