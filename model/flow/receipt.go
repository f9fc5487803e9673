package flow

// Receipt is a cross-shard effect produced by executing a transaction in the
// source shard, to be applied in the destination shard.
//
// The runtime emits receipts with the production fields zeroed. The producing
// chunk stamps ProducedHeight and Index, and the receipt router stamps
// SourceBlockID and Nonce when the producing block is accepted. Nonce is the
// causal ordering key: it increases by one for every receipt routed along the
// same source→destination pair.
type Receipt struct {
	SourceShard      ShardID
	DestinationShard ShardID
	OriginTxID       Identifier
	Payload          []byte
	ProducedHeight   uint64
	Index            uint32 // position in the producing chunk's outgoing receipts
	SourceBlockID    Identifier
	Nonce            uint64
}

// ID returns the receipt hash.
func (r *Receipt) ID() Identifier {
	return MakeID(r)
}

// Before reports whether r was produced before other.
func (r *Receipt) Before(other *Receipt) bool {
	if r.ProducedHeight != other.ProducedHeight {
		return r.ProducedHeight < other.ProducedHeight
	}
	return r.Index < other.Index
}

// Copy returns a deep copy of the receipt.
func (r *Receipt) Copy() *Receipt {
	dup := *r
	dup.Payload = append([]byte(nil), r.Payload...)
	return &dup
}

// ReceiptList is an ordered list of receipts.
type ReceiptList []*Receipt

// IDs returns the receipt IDs in order.
func (rl ReceiptList) IDs() IdentifierList {
	return GetIDs(rl)
}

// Root is the merkle root over the receipt IDs in order.
func (rl ReceiptList) Root() Identifier {
	return MerkleRoot(rl.IDs()...)
}

// ByDestination groups the receipts by destination shard, preserving order.
func (rl ReceiptList) ByDestination() map[ShardID]ReceiptList {
	out := make(map[ShardID]ReceiptList)
	for _, r := range rl {
		out[r.DestinationShard] = append(out[r.DestinationShard], r)
	}
	return out
}

// ReceiptQueues is the receipt router state after a block: the receipts
// pending per destination shard in delivery order, plus per-pair nonces.
// Nonces start at 1; zero means nothing was routed or delivered yet.
type ReceiptQueues struct {
	Height uint64
	// Pending is indexed by destination shard.
	Pending []ReceiptList
	// Assigned holds the nonce of the last receipt routed per [source][destination].
	Assigned [][]uint64
	// Delivered holds the nonce of the last receipt delivered per [source][destination].
	Delivered [][]uint64
}

// NewReceiptQueues returns empty queues for the given number of shards.
func NewReceiptQueues(numShards uint32, height uint64) *ReceiptQueues {
	q := &ReceiptQueues{
		Height:    height,
		Pending:   make([]ReceiptList, numShards),
		Assigned:  make([][]uint64, numShards),
		Delivered: make([][]uint64, numShards),
	}
	for i := range q.Assigned {
		q.Assigned[i] = make([]uint64, numShards)
		q.Delivered[i] = make([]uint64, numShards)
	}
	return q
}

// Copy returns a copy of the queue state sharing the immutable receipts.
func (q *ReceiptQueues) Copy() *ReceiptQueues {
	dup := &ReceiptQueues{
		Height:    q.Height,
		Pending:   make([]ReceiptList, len(q.Pending)),
		Assigned:  make([][]uint64, len(q.Assigned)),
		Delivered: make([][]uint64, len(q.Delivered)),
	}
	for i, pending := range q.Pending {
		dup.Pending[i] = append(ReceiptList(nil), pending...)
	}
	for i := range q.Assigned {
		dup.Assigned[i] = append([]uint64(nil), q.Assigned[i]...)
		dup.Delivered[i] = append([]uint64(nil), q.Delivered[i]...)
	}
	return dup
}
