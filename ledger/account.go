// Package ledger implements the account diff engine: a pure, value-typed
// fold over AccountDiffs. Ledgers are never mutated in place; the account
// model has no use for trie proofs, so a plain map stands in for a Merkle
// trie.
package ledger

import (
	"encoding/json"

	"github.com/chainlabs/indexer/common"
)

// maxZkappAppStateSlots caps the per-account app-state history; the oldest
// entry is evicted once a new one would exceed it.
const maxZkappAppStateSlots = 8

// ZkappState holds the zkapp-specific fields of an account, appended to on
// each zkapp diff.
type ZkappState struct {
	AppState        [][]byte
	Permissions     []byte
	VerificationKey []byte
	TokenSymbol     string
	URI             string
	Timing          []byte
}

// appendAppState appends state to z.AppState, evicting the oldest entry if
// the cap is exceeded. Returns the updated ZkappState; z itself is never
// mutated, consistent with Ledger's value semantics.
func (z ZkappState) appendAppState(state []byte) ZkappState {
	next := append(append([][]byte(nil), z.AppState...), append([]byte(nil), state...))
	if len(next) > maxZkappAppStateSlots {
		next = next[len(next)-maxZkappAppStateSlots:]
	}
	z.AppState = next
	return z
}

// Account is one (token, public_key) entry in a Ledger.
type Account struct {
	Balance  uint64
	Nonce    uint64
	Delegate common.PublicKey

	// GenesisCreated marks an account present since genesis, as opposed to
	// one created by a later payment credit (which pays ACCOUNT_CREATION_FEE).
	GenesisCreated bool

	Zkapp ZkappState
}

// MarshalAccount serializes a single account for the best_account column
// family; the full-ledger encoding lives on Ledger.Marshal.
func MarshalAccount(a Account) ([]byte, error) { return json.Marshal(a) }

// UnmarshalAccount parses an account encoded by MarshalAccount.
func UnmarshalAccount(data []byte) (Account, error) {
	var a Account
	err := json.Unmarshal(data, &a)
	return a, err
}
