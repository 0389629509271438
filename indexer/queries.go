package indexer

import (
	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/canonicity"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/ledger"
	"github.com/chainlabs/indexer/staking"
)

// GetBlock returns the block stored under stateHash, or nil when unknown.
func (i *Indexer) GetBlock(stateHash common.StateHash) (*block.Block, error) {
	raw, err := i.blocksCF.Get(stateHash[:])
	if err != nil {
		return nil, chainerr.Wrap(chainerr.StoreCorruption, err, "reading block")
	}
	if raw == nil {
		return nil, nil
	}
	b, err := block.Unmarshal(raw)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.StoreCorruption, err, "decoding block")
	}
	return b, nil
}

// BestChain returns the canonical-root-to-best-tip path, truncated to the
// newest limit blocks (0 means no limit), ascending by height.
func (i *Indexer) BestChain(limit int) []*block.Block {
	if i.tree == nil {
		return nil
	}
	chain := i.tree.BestChain()
	if limit > 0 && len(chain) > limit {
		chain = chain[len(chain)-limit:]
	}
	return chain
}

// CanonicalAt returns the canonical state hash at length, if promotion has
// reached it.
func (i *Indexer) CanonicalAt(length uint32) (common.StateHash, bool, error) {
	return i.canon.CanonicalAt(length)
}

// CanonicityOf reports the recorded classification of a block.
func (i *Indexer) CanonicityOf(stateHash common.StateHash) (canonicity.Status, bool, error) {
	return i.canon.StatusOf(stateHash)
}

// LedgerAtState reconstructs the ledger as of stateHash.
func (i *Indexer) LedgerAtState(stateHash common.StateHash) (ledger.Ledger, error) {
	return i.ledgers.Get(i.tree, stateHash)
}

// LedgerAtHeight reconstructs the ledger at a blockchain length, resolving
// it first through the canonicity index and then through the pending best
// chain.
func (i *Indexer) LedgerAtHeight(length uint32) (ledger.Ledger, bool, error) {
	return i.ledgers.GetAtHeight(i.tree, i.canon, length)
}

// Account returns the account at (token, pk) in the best tip's ledger.
func (i *Indexer) Account(pk common.PublicKey, token common.TokenAddress) (ledger.Account, bool, error) {
	if i.tree == nil {
		return ledger.Account{}, false, nil
	}
	l, err := i.ledgers.Get(i.tree, i.tree.BestTip().StateHash)
	if err != nil {
		return ledger.Account{}, false, err
	}
	acc, ok := l.Get(token, pk)
	return acc, ok, nil
}

// GenesisStateHash returns the genesis identifier the indexed chain
// descends from, or the zero hash before any block has been ingested.
func (i *Indexer) GenesisStateHash() common.StateHash {
	if i.tree == nil {
		return common.StateHash{}
	}
	return i.tree.Root().GenesisStateHash
}

// StakingLedgerByEpoch returns the staking snapshot ingested for epoch.
func (i *Indexer) StakingLedgerByEpoch(epoch uint32) (staking.Snapshot, bool, error) {
	return i.staking.ByEpoch(epoch)
}

// StakingLedgerByHash returns the staking snapshot whose ledger hash is h.
func (i *Indexer) StakingLedgerByHash(h common.LedgerHash) (staking.Snapshot, bool, error) {
	return i.staking.ByLedgerHash(h)
}

// Delegations returns the per-delegate stake totals for epoch.
func (i *Indexer) Delegations(epoch uint32) (map[common.PublicKey]*staking.DelegationTotals, bool, error) {
	return i.staking.Delegations(epoch)
}
