package flow

import (
	"strings"

	"golang.org/x/exp/slices"
)

// PerformanceCounters accumulate a validator's duty record within one epoch.
type PerformanceCounters struct {
	ExpectedChunks      uint64 // chunk slots the validator was scheduled to produce
	ProducedChunks      uint64 // of which a chunk was included in an accepted block
	ExpectedValidations uint64 // blocks the validator was expected to endorse
	Validations         uint64 // of which its approval was included
	Equivocations       uint64 // conflicting chunks signed for one slot
}

// Expected is the total number of duties assigned.
func (p PerformanceCounters) Expected() uint64 {
	return p.ExpectedChunks + p.ExpectedValidations
}

// Missed is the number of duties not fulfilled. Each equivocation counts as
// a missed duty.
func (p PerformanceCounters) Missed() uint64 {
	var missed uint64
	if p.ExpectedChunks > p.ProducedChunks {
		missed += p.ExpectedChunks - p.ProducedChunks
	}
	if p.ExpectedValidations > p.Validations {
		missed += p.ExpectedValidations - p.Validations
	}
	return missed + p.Equivocations
}

// Add accumulates other into p.
func (p *PerformanceCounters) Add(other PerformanceCounters) {
	p.ExpectedChunks += other.ExpectedChunks
	p.ProducedChunks += other.ProducedChunks
	p.ExpectedValidations += other.ExpectedValidations
	p.Validations += other.Validations
	p.Equivocations += other.Equivocations
}

// PerformanceHistory maps validators to their counters for one epoch.
type PerformanceHistory map[AccountID]PerformanceCounters

// Merge accumulates other into h.
func (h PerformanceHistory) Merge(other PerformanceHistory) {
	for account, counters := range other {
		c := h[account]
		c.Add(counters)
		h[account] = c
	}
}

// Copy returns a deep copy of the history.
func (h PerformanceHistory) Copy() PerformanceHistory {
	dup := make(PerformanceHistory, len(h))
	for account, counters := range h {
		dup[account] = counters
	}
	return dup
}

// PerformanceEntry is one validator's counters, used where a deterministic
// (ordered) representation of the history is required.
type PerformanceEntry struct {
	AccountID AccountID
	Counters  PerformanceCounters
}

// Entries returns the history ordered by account.
func (h PerformanceHistory) Entries() []PerformanceEntry {
	entries := make([]PerformanceEntry, 0, len(h))
	for account, counters := range h {
		entries = append(entries, PerformanceEntry{AccountID: account, Counters: counters})
	}
	slices.SortFunc(entries, func(a, b PerformanceEntry) int {
		return strings.Compare(string(a.AccountID), string(b.AccountID))
	})
	return entries
}

// HistoryFromEntries rebuilds a history from its ordered representation.
func HistoryFromEntries(entries []PerformanceEntry) PerformanceHistory {
	h := make(PerformanceHistory, len(entries))
	for _, e := range entries {
		h[e.AccountID] = e.Counters
	}
	return h
}
