// Package staking implements the staking ledger manager: independent of
// the witness tree, it indexes per-epoch delegation snapshots through one
// synchronous parse, persist, aggregate pass per epoch file.
package staking

import (
	"github.com/chainlabs/indexer/common"
)

// Entry is one delegator's balance and delegate at the epoch boundary.
type Entry struct {
	PK       common.PublicKey
	Balance  uint64
	Delegate common.PublicKey
	Timing   []byte
}

// Snapshot is one epoch's staking ledger, fixed once per epoch.
type Snapshot struct {
	Epoch            uint32
	LedgerHash       common.LedgerHash
	GenesisStateHash common.StateHash
	Entries          []Entry
}

// DelegationTotals is one bucket of the aggregated
// delegate -> (total_stake, delegators) view.
type DelegationTotals struct {
	Delegate   common.PublicKey
	TotalStake uint64
	Delegators []common.PublicKey
}

// Aggregate computes per-delegate totals over a snapshot's entries. An
// entry with a zero Delegate is self-delegating (delegate == pk).
func Aggregate(entries []Entry) map[common.PublicKey]*DelegationTotals {
	totals := make(map[common.PublicKey]*DelegationTotals)
	for _, e := range entries {
		delegate := e.Delegate
		if delegate.IsZero() {
			delegate = e.PK
		}
		t, ok := totals[delegate]
		if !ok {
			t = &DelegationTotals{Delegate: delegate}
			totals[delegate] = t
		}
		t.TotalStake += e.Balance
		t.Delegators = append(t.Delegators, e.PK)
	}
	return totals
}
