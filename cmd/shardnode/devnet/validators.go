// Package devnet runs a single-process network: one node holding the keys
// of every validator, producing chunks, approvals and blocks on their behalf.
package devnet

import (
	"fmt"
	"time"

	"github.com/onflow/flow-go/crypto/hash"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/signature"
)

// Validators holds the devnet validator set and the signer of each member.
type Validators struct {
	Stakes  flow.StakeList
	Signers map[flow.AccountID]*signature.Signer
}

// AccountName returns the account name of the i-th devnet validator.
func AccountName(i int) flow.AccountID {
	return flow.AccountID(fmt.Sprintf("validator-%02d", i))
}

// NewValidators derives n validators with equal stake. Keys are derived from
// the account names, so every devnet run uses the same keys.
func NewValidators(n int, stake uint64) (*Validators, error) {
	v := &Validators{
		Signers: make(map[flow.AccountID]*signature.Signer, n),
	}
	for i := 0; i < n; i++ {
		account := AccountName(i)
		seed := hash.NewSHA3_384().ComputeHash([]byte(account))
		key, err := signature.GenerateKey(seed)
		if err != nil {
			return nil, fmt.Errorf("could not derive key of %s: %w", account, err)
		}
		signer := signature.NewSigner(account, key)
		v.Signers[account] = signer
		v.Stakes = append(v.Stakes, &flow.ValidatorStake{
			AccountID: account,
			PublicKey: signer.PublicKey(),
			Stake:     stake,
		})
	}
	v.Stakes = v.Stakes.Canonical()
	return v, nil
}

// Genesis returns the genesis configuration seating the validators.
func (v *Validators) Genesis(timestamp time.Time, seed []byte) config.GenesisConfig {
	return config.GenesisConfig{
		Timestamp: timestamp,
		Stakes:    v.Stakes,
		Seed:      seed,
	}
}
