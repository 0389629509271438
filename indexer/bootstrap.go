package indexer

import (
	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/ledgerstore"
	"github.com/chainlabs/indexer/witnesstree"
)

// BootstrapCanonical fast-paths a pre-discovered deep canonical chain into
// the store, bypassing the witness tree: each block is persisted, recorded
// canonical, and folded into the running ledger, with cadence snapshots
// frozen along the way. The witness tree is then initialized rooted at the
// chain's last block, ready for the recent (within-threshold) blocks to
// arrive through AddBlock. Only valid on a fresh store; blocks must be
// contiguous ascending, the output of bootstrap.Discover's DeepCanonical
// split.
func (i *Indexer) BootstrapCanonical(blocks []*block.Block) error {
	if i.tree != nil || i.evLog.Tail() != 0 {
		return chainerr.New(chainerr.StoreWriteFailed, "bootstrap requires an empty store")
	}
	if len(blocks) == 0 {
		return nil
	}

	l := i.genesisLedger
	zkappCounts := make(map[string]uint32)
	for n, b := range blocks {
		if n > 0 && b.ParentHash != blocks[n-1].StateHash {
			return chainerr.New(chainerr.InvalidBlock, "bootstrap chain is not contiguous")
		}
		prevTail := i.evLog.Tail()
		batch := i.store.NewBatch()
		if err := i.persistBlock(batch, b); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}
		ev := eventlog.Event{Kind: eventlog.NewCanonicalBlock, StateHash: b.StateHash, Length: b.BlockchainLength}
		if _, err := i.evLog.Append(batch, ev); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}
		if err := i.canon.MarkCanonical(batch, b.BlockchainLength, b.StateHash); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}
		if err := i.indexZkappEvents(batch, b, zkappCounts); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}

		var err error
		l, err = i.engine.ApplyAll(l, b.AccountDiffs)
		if err != nil {
			return err
		}
		if ledgerstore.ShouldPersist(b.BlockchainLength, i.cfg.LedgerCadence) {
			lev, err := i.ledgers.Persist(batch, b.StateHash, b.BlockchainLength, l)
			if err != nil {
				i.evLog.Rewind(prevTail)
				return err
			}
			if _, err := i.evLog.Append(batch, lev); err != nil {
				i.evLog.Rewind(prevTail)
				return err
			}
			if err := i.updateBestAccounts(batch, l); err != nil {
				i.evLog.Rewind(prevTail)
				return err
			}
		}
		if err := i.commit(batch); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}
		blocksIngestedCounter.Inc(1)
		promotedCounter.Inc(1)
	}

	tip := blocks[len(blocks)-1]
	i.tree = witnesstree.New(tip, tip.AccountDiffs, i.cfg.MaxDanglingOrDefault())
	i.ledgers.SeedRoot(tip.StateHash, l)
	eventTailGauge.Update(int64(i.evLog.Tail()))
	logger.Info("bootstrapped deep canonical chain",
		"blocks", len(blocks), "root_length", tip.BlockchainLength)
	return nil
}
