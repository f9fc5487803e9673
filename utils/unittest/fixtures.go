package unittest

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/onflow/flow-go/crypto/hash"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/signature"
)

func IdentifierFixture() flow.Identifier {
	var id flow.Identifier
	_, _ = rand.Read(id[:])
	return id
}

func IdentifierListFixture(n int) flow.IdentifierList {
	list := make(flow.IdentifierList, n)
	for i := 0; i < n; i++ {
		list[i] = IdentifierFixture()
	}
	return list
}

func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// SignerFixture returns a signer whose key is derived from the account name,
// so the same account always gets the same key.
func SignerFixture(t testing.TB, account flow.AccountID) *signature.Signer {
	seed := hash.NewSHA3_384().ComputeHash([]byte(account))
	key, err := signature.GenerateKey(seed)
	require.NoError(t, err)
	return signature.NewSigner(account, key)
}

// AccountFixture returns the i-th fixture account name.
func AccountFixture(i int) flow.AccountID {
	return flow.AccountID(fmt.Sprintf("validator-%02d", i))
}

// Validators is a validator set together with the signers of its members.
type Validators struct {
	Stakes  flow.StakeList
	Signers map[flow.AccountID]*signature.Signer
}

// ValidatorsFixture creates n validators with equal stake.
func ValidatorsFixture(t testing.TB, n int, stake uint64) *Validators {
	stakes := make([]uint64, n)
	for i := range stakes {
		stakes[i] = stake
	}
	return WeightedValidatorsFixture(t, stakes...)
}

// WeightedValidatorsFixture creates one validator per given stake.
func WeightedValidatorsFixture(t testing.TB, stakes ...uint64) *Validators {
	v := &Validators{
		Signers: make(map[flow.AccountID]*signature.Signer, len(stakes)),
	}
	for i, stake := range stakes {
		account := AccountFixture(i)
		signer := SignerFixture(t, account)
		v.Signers[account] = signer
		v.Stakes = append(v.Stakes, &flow.ValidatorStake{
			AccountID: account,
			PublicKey: signer.PublicKey(),
			Stake:     stake,
		})
	}
	v.Stakes = v.Stakes.Canonical()
	return v
}

// Signer returns the signer of the given account.
func (v *Validators) Signer(t testing.TB, account flow.AccountID) *signature.Signer {
	signer, ok := v.Signers[account]
	require.True(t, ok, "unknown validator %s", account)
	return signer
}

// ProtocolConfigFixture returns the default protocol configuration, with
// optional modifications applied.
func ProtocolConfigFixture(opts ...func(*config.ProtocolConfig)) config.ProtocolConfig {
	c := config.DefaultProtocolConfig()
	for _, apply := range opts {
		apply(&c)
	}
	return c
}

// GenesisFixture returns a genesis configuration for the given validators.
func GenesisFixture(validators *Validators) config.GenesisConfig {
	return config.GenesisConfig{
		Timestamp: time.UnixMilli(1_600_000_000_000).UTC(),
		Stakes:    validators.Stakes,
		Seed:      []byte("genesis-seed"),
	}
}

func TransactionFixture(shard flow.ShardID, receiverShard flow.ShardID) *flow.Transaction {
	return &flow.Transaction{
		ShardID:       shard,
		Sender:        flow.AccountID(fmt.Sprintf("sender-%d", shard)),
		Receiver:      flow.AccountID(fmt.Sprintf("receiver-%d", receiverShard)),
		ReceiverShard: receiverShard,
		Nonce:         uint64(time.Now().UnixNano()),
		Payload:       RandomBytes(16),
	}
}

func ReceiptFixture(source, destination flow.ShardID, producedHeight uint64, index uint32) *flow.Receipt {
	return &flow.Receipt{
		SourceShard:      source,
		DestinationShard: destination,
		OriginTxID:       IdentifierFixture(),
		Payload:          RandomBytes(8),
		ProducedHeight:   producedHeight,
		Index:            index,
	}
}

func ChunkBodyFixture(shard flow.ShardID, txCount int) *flow.ChunkBody {
	body := &flow.ChunkBody{}
	for i := 0; i < txCount; i++ {
		body.Transactions = append(body.Transactions, TransactionFixture(shard, shard))
	}
	return body
}

// BlockWithParentFixture returns a structurally complete block at the given
// height. Its slots are all missing and it carries no approvals.
func BlockWithParentFixture(parentID flow.Identifier, height uint64, numShards uint32) *flow.Block {
	slots := make([]flow.ChunkSlot, numShards)
	for i := range slots {
		slots[i] = flow.MissingSlot()
	}
	return &flow.Block{
		Header: &flow.BlockHeader{
			Height:     height,
			ParentID:   parentID,
			Timestamp:  uint64(time.UnixMilli(1_600_000_000_000).Add(time.Duration(height) * time.Second).UnixMilli()),
			EpochID:    IdentifierFixture(),
			ProposerID: AccountFixture(0),
			Chunks:     slots,
		},
	}
}

// BlockChainFixture returns n blocks, each the child of the previous one,
// starting at the given height on the given parent.
func BlockChainFixture(parentID flow.Identifier, height uint64, n int) []*flow.Block {
	blocks := make([]*flow.Block, 0, n)
	for i := 0; i < n; i++ {
		block := BlockWithParentFixture(parentID, height+uint64(i), 4)
		blocks = append(blocks, block)
		parentID = block.ID()
	}
	return blocks
}
