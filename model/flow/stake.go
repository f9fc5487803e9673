package flow

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ShardID identifies a shard. Shards are numbered 0..NumShards-1.
type ShardID uint32

// AccountID identifies a validator account.
type AccountID string

// ValidatorStake is a validator's staking record: the account, the public key
// it signs with, and the amount staked.
type ValidatorStake struct {
	AccountID AccountID
	PublicKey []byte
	Stake     uint64
}

// StakeList is a list of validator stakes. Canonical order is ascending by
// AccountID, with each account appearing at most once.
type StakeList []*ValidatorStake

// Canonical returns a deduplicated copy of the list in canonical order.
// When an account appears more than once the last entry wins.
func (sl StakeList) Canonical() StakeList {
	latest := make(map[AccountID]*ValidatorStake, len(sl))
	for _, vs := range sl {
		dup := *vs
		latest[vs.AccountID] = &dup
	}
	out := StakeList(maps.Values(latest))
	slices.SortFunc(out, func(a, b *ValidatorStake) int {
		return strings.Compare(string(a.AccountID), string(b.AccountID))
	})
	return out
}

// TotalStake sums the stake of all validators in the list.
func (sl StakeList) TotalStake() uint64 {
	var total uint64
	for _, vs := range sl {
		total += vs.Stake
	}
	return total
}

// ByAccount returns the stake record for the given account.
func (sl StakeList) ByAccount(account AccountID) (*ValidatorStake, bool) {
	for _, vs := range sl {
		if vs.AccountID == account {
			return vs, true
		}
	}
	return nil, false
}

// Accounts returns the account identifiers in list order.
func (sl StakeList) Accounts() []AccountID {
	accounts := make([]AccountID, 0, len(sl))
	for _, vs := range sl {
		accounts = append(accounts, vs.AccountID)
	}
	return accounts
}

// Filter returns the entries for which keep returns true, preserving order.
func (sl StakeList) Filter(keep func(*ValidatorStake) bool) StakeList {
	out := make(StakeList, 0, len(sl))
	for _, vs := range sl {
		if keep(vs) {
			out = append(out, vs)
		}
	}
	return out
}

// ApplyProposals returns the stake list with the given proposals applied.
// A proposal with zero stake removes the account. The result is canonical.
func (sl StakeList) ApplyProposals(proposals []ValidatorStake) StakeList {
	merged := make(StakeList, 0, len(sl)+len(proposals))
	merged = append(merged, sl...)
	for i := range proposals {
		p := proposals[i]
		merged = append(merged, &p)
	}
	return merged.Canonical().Filter(func(vs *ValidatorStake) bool {
		return vs.Stake > 0
	})
}
