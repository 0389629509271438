// Package indexer ties the fork-aware state engine together: one writer
// that digests blocks, records events, maintains the witness tree, drives
// canonical promotion, and freezes ledgers at the configured cadence. It
// also carries the read-side query façade the external collaborators
// consume; queries never mutate state.
package indexer

import (
	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/canonicity"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/config"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/ledger"
	"github.com/chainlabs/indexer/ledgerstore"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/reconstruct"
	"github.com/chainlabs/indexer/staking"
	"github.com/chainlabs/indexer/storage/database"
	"github.com/chainlabs/indexer/witnesstree"
)

var logger = log.NewModuleLogger(log.Indexer)

// Indexer is the single logical writer of the concurrency model: exactly
// one goroutine calls AddBlock / IngestStakingLedger; readers go through
// the query façade, which only touches the KV store and immutable tree
// snapshots.
type Indexer struct {
	cfg      config.Config
	store    database.Store
	resolver canonicity.Resolver
	engine   ledger.Engine

	blocksCF   database.Database
	byHeightCF database.Database
	bySlotCF   database.Database
	parentCF   database.Database
	metaCF     database.Database

	evLog   *eventlog.Log
	canon   *canonicity.Index
	ledgers *ledgerstore.Store
	staking *staking.Manager

	tree *witnesstree.Tree

	// genesisLedger seeds the first tree root's ledger; kept until the
	// first block arrives (or forever, it is small relative to the store).
	genesisLedger ledger.Ledger
}

// Open builds an Indexer over store, replaying the event log if one exists
// so that a restarted process resumes from exactly the state it shut down
// with. A fresh store gets the version sentinel written; a store written
// by a different schema version is refused.
func Open(store database.Store, cfg config.Config, genesisLedger ledger.Ledger) (*Indexer, error) {
	metaCF := store.CF(database.CFMeta)
	if err := checkStoreVersion(metaCF); err != nil {
		return nil, err
	}

	engine := ledger.NewEngine(cfg.AccountCreationFee)
	ls, err := ledgerstore.New(store, engine, ledgerCacheSize)
	if err != nil {
		return nil, err
	}
	canonIdx := canonicity.Open(store)
	resolver := canonicity.NewResolver(cfg.MainnetCanonicalThreshold, cfg.CanonicalUpdateThreshold)

	i := &Indexer{
		cfg:           cfg,
		store:         store,
		resolver:      resolver,
		engine:        engine,
		blocksCF:      store.CF(database.CFBlocks),
		byHeightCF:    store.CF(database.CFBlocksByHeight),
		bySlotCF:      store.CF(database.CFBlocksBySlot),
		parentCF:      store.CF(database.CFBlockParent),
		metaCF:        metaCF,
		canon:         canonIdx,
		ledgers:       ls,
		staking:       staking.Open(store),
		genesisLedger: genesisLedger,
	}

	res, err := reconstruct.Reconstruct(store, cfg, resolver, ls, canonIdx, genesisLedger)
	if err != nil {
		return nil, err
	}
	if res != nil {
		i.tree = res.Tree
		i.evLog = res.EventLog
		logger.Info("resumed from event log", "events", res.ReplayedLen,
			"best_tip_length", i.tree.BestTip().BlockchainLength)
	} else {
		evLog, err := eventlog.Open(store)
		if err != nil {
			return nil, err
		}
		i.evLog = evLog
	}
	eventTailGauge.Update(int64(i.evLog.Tail()))
	return i, nil
}

const ledgerCacheSize = 64

func checkStoreVersion(metaCF database.Database) error {
	raw, err := metaCF.Get([]byte(database.StoreVersionKey))
	if err != nil {
		return chainerr.Wrap(chainerr.StoreCorruption, err, "reading store version sentinel")
	}
	if raw == nil {
		return metaCF.Put([]byte(database.StoreVersionKey), database.EncodeU32(database.CurrentStoreVersion))
	}
	if len(raw) != 4 || database.DecodeU32(raw) != database.CurrentStoreVersion {
		return chainerr.New(chainerr.StoreCorruption, "indexer store version mismatch")
	}
	return nil
}

// Tree exposes the live witness tree to the reconstruct-identity tests and
// the query façade; callers must not mutate it.
func (i *Indexer) Tree() *witnesstree.Tree { return i.tree }

// EventTail is the last appended event seq_num.
func (i *Indexer) EventTail() uint32 { return i.evLog.Tail() }

// AddBlock runs the full ingestion control flow for one digested block:
// persist payload + NewBlock event, insert into the witness tree, emit
// NewBestTip when the tip moves, then drive canonical promotion with its
// NewCanonicalBlock events, canonicity index updates, cadence ledger
// freezes, and pruning. All writes for the call land in one atomic batch;
// the in-memory tree is edited as a draft and swapped in only after the
// batch commits, so a failed commit leaves the indexer exactly as before.
func (i *Indexer) AddBlock(b *block.Block) (witnesstree.Extension, error) {
	if i.tree == nil {
		return i.initRoot(b)
	}

	prevTail := i.evLog.Tail()
	draft := i.tree.Clone()
	prevBest := draft.BestTip().StateHash

	ext := draft.AddBlock(b, b.AccountDiffs)
	switch ext {
	case witnesstree.Ignored:
		blocksIgnoredCounter.Inc(1)
		return ext, nil
	case witnesstree.DanglingNew, witnesstree.DanglingSimpleReverse:
		// Side-buffer only: no durable state changes, so no batch. The
		// side-buffer deliberately has no persistent representation; on
		// restart orphans are re-discovered from the filesystem.
		i.tree = draft
		danglingGauge.Update(int64(i.tree.DanglingCount()))
		return ext, chainerr.New(chainerr.OrphanBlock, "parent unknown; block held in side-buffer")
	}

	batch := i.store.NewBatch()
	for _, ab := range draft.Attached() {
		if err := i.persistBlock(batch, ab); err != nil {
			i.evLog.Rewind(prevTail)
			return ext, err
		}
	}
	if tip := draft.BestTip(); tip.StateHash != prevBest {
		ev := eventlog.Event{Kind: eventlog.NewBestTip, StateHash: tip.StateHash, Length: tip.BlockchainLength}
		if _, err := i.evLog.Append(batch, ev); err != nil {
			i.evLog.Rewind(prevTail)
			return ext, err
		}
	}

	if i.resolver.Ready(draft) {
		if err := i.promote(batch, draft); err != nil {
			i.evLog.Rewind(prevTail)
			return ext, err
		}
	}

	if err := i.commit(batch); err != nil {
		i.evLog.Rewind(prevTail)
		return ext, err
	}

	i.tree = draft
	blocksIngestedCounter.Inc(1)
	treeDepthGauge.Update(int64(i.tree.Depth()))
	danglingGauge.Update(int64(i.tree.DanglingCount()))
	bestTipGauge.Update(int64(i.tree.BestTip().BlockchainLength))
	eventTailGauge.Update(int64(i.evLog.Tail()))
	return ext, nil
}

// initRoot handles the very first block of a fresh store: it becomes the
// witness tree's root and the base ledger snapshot everything else folds
// over.
func (i *Indexer) initRoot(b *block.Block) (witnesstree.Extension, error) {
	prevTail := i.evLog.Tail()
	batch := i.store.NewBatch()
	if err := i.persistBlock(batch, b); err != nil {
		i.evLog.Rewind(prevTail)
		return witnesstree.RootSimple, err
	}
	ev := eventlog.Event{Kind: eventlog.NewBestTip, StateHash: b.StateHash, Length: b.BlockchainLength}
	if _, err := i.evLog.Append(batch, ev); err != nil {
		i.evLog.Rewind(prevTail)
		return witnesstree.RootSimple, err
	}
	// The first block is the canonical root by construction.
	cev := eventlog.Event{Kind: eventlog.NewCanonicalBlock, StateHash: b.StateHash, Length: b.BlockchainLength}
	if _, err := i.evLog.Append(batch, cev); err != nil {
		i.evLog.Rewind(prevTail)
		return witnesstree.RootSimple, err
	}
	if err := i.canon.MarkCanonical(batch, b.BlockchainLength, b.StateHash); err != nil {
		i.evLog.Rewind(prevTail)
		return witnesstree.RootSimple, err
	}
	if err := i.commit(batch); err != nil {
		i.evLog.Rewind(prevTail)
		return witnesstree.RootSimple, err
	}

	i.tree = witnesstree.New(b, b.AccountDiffs, i.cfg.MaxDanglingOrDefault())
	rootLedger, err := i.engine.ApplyAll(i.genesisLedger, b.AccountDiffs)
	if err != nil {
		return witnesstree.RootSimple, err
	}
	i.ledgers.SeedRoot(b.StateHash, rootLedger)
	blocksIngestedCounter.Inc(1)
	logger.Info("initialized witness tree", "root", b.StateHash.String(), "length", b.BlockchainLength)
	return witnesstree.RootSimple, nil
}

// persistBlock stages the payload and secondary-index writes for one block
// plus its NewBlock event.
func (i *Indexer) persistBlock(batch database.Batch, b *block.Block) error {
	raw, err := b.Marshal()
	if err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "marshaling block")
	}
	if err := batch.Put(database.CFBlocks, b.StateHash[:], raw); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing block payload")
	}
	if err := batch.Put(database.CFBlocksByHeight, database.HeightHashKey(b.BlockchainLength, b.StateHash[:]), nil); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing blocks_by_height")
	}
	if err := batch.Put(database.CFBlocksBySlot, database.HeightHashKey(b.GlobalSlot, b.StateHash[:]), nil); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing blocks_by_slot")
	}
	if err := batch.Put(database.CFBlockParent, b.StateHash[:], b.ParentHash[:]); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing block_parent")
	}
	ev := eventlog.Event{Kind: eventlog.NewBlock, StateHash: b.StateHash, Length: b.BlockchainLength}
	_, err = i.evLog.Append(batch, ev)
	return err
}

// promote walks newly canonical blocks in ascending length, staging their
// NewCanonicalBlock events, canonicity index entries, zkapp event index
// rows, and cadence ledger freezes, then prunes the draft tree.
func (i *Indexer) promote(batch database.Batch, draft *witnesstree.Tree) error {
	promoted, orphaned := draft.Promote(i.cfg.MainnetCanonicalThreshold)
	if len(promoted) == 0 {
		return nil
	}

	zkappCounts := make(map[string]uint32)
	for _, p := range promoted {
		ev := eventlog.Event{Kind: eventlog.NewCanonicalBlock, StateHash: p.StateHash, Length: p.BlockchainLength}
		if _, err := i.evLog.Append(batch, ev); err != nil {
			return err
		}
		if err := i.canon.MarkCanonical(batch, p.BlockchainLength, p.StateHash); err != nil {
			return err
		}
		if err := i.indexZkappEvents(batch, p, zkappCounts); err != nil {
			return err
		}
		if ledgerstore.ShouldPersist(p.BlockchainLength, i.cfg.LedgerCadence) {
			if err := i.freezeLedger(batch, draft, p); err != nil {
				return err
			}
		}
	}
	for _, o := range orphaned {
		if err := i.canon.MarkOrphan(batch, o.StateHash); err != nil {
			return err
		}
	}

	// Re-seed the ledger at the new canonical root before pruning drops
	// the diffs needed to recompute it.
	rootLedger, err := i.ledgers.Get(draft, draft.CanonicalRoot().StateHash)
	if err != nil {
		return err
	}
	i.ledgers.SeedRoot(draft.CanonicalRoot().StateHash, rootLedger)
	draft.Prune()

	promotedCounter.Inc(int64(len(promoted)))
	orphanedCounter.Inc(int64(len(orphaned)))
	logger.Info("promoted canonical blocks",
		"count", len(promoted), "orphaned", len(orphaned),
		"canonical_root_length", draft.CanonicalRoot().BlockchainLength)
	return nil
}

// freezeLedger materializes the ledger at a cadence-boundary canonical
// block, stages the snapshot plus its NewLedger event, and refreshes the
// best_account indices from the frozen state.
func (i *Indexer) freezeLedger(batch database.Batch, draft *witnesstree.Tree, b *block.Block) error {
	l, err := i.ledgers.Get(draft, b.StateHash)
	if err != nil {
		return err
	}
	ev, err := i.ledgers.Persist(batch, b.StateHash, b.BlockchainLength, l)
	if err != nil {
		return err
	}
	if _, err := i.evLog.Append(batch, ev); err != nil {
		return err
	}
	if err := i.updateBestAccounts(batch, l); err != nil {
		return err
	}
	ledgersFrozenGauge.Update(int64(b.BlockchainLength))
	return nil
}

// updateBestAccounts rewrites the best_account and best_account_by_balance
// indices from l, deleting any stale by-balance key left from the
// account's previous balance.
func (i *Indexer) updateBestAccounts(batch database.Batch, l ledger.Ledger) error {
	bestCF := i.store.CF(database.CFBestAccount)
	for _, e := range l.Accounts() {
		key := accountKey(e.Token, e.PK)
		if prev, err := bestCF.Get(key); err != nil {
			return chainerr.Wrap(chainerr.StoreCorruption, err, "reading best_account")
		} else if prev != nil {
			prevAcc, err := ledger.UnmarshalAccount(prev)
			if err != nil {
				return chainerr.Wrap(chainerr.StoreCorruption, err, "decoding best_account")
			}
			if prevAcc.Balance != e.Acc.Balance {
				if err := batch.Delete(database.CFBestAccountByBalance, balanceKey(e.Token, prevAcc.Balance, e.PK)); err != nil {
					return chainerr.Wrap(chainerr.StoreWriteFailed, err, "deleting stale balance key")
				}
			}
		}
		raw, err := ledger.MarshalAccount(e.Acc)
		if err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "marshaling account")
		}
		if err := batch.Put(database.CFBestAccount, key, raw); err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing best_account")
		}
		if err := batch.Put(database.CFBestAccountByBalance, balanceKey(e.Token, e.Acc.Balance, e.PK), nil); err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing best_account_by_balance")
		}
	}
	return nil
}

func accountKey(token common.TokenAddress, pk common.PublicKey) []byte {
	k := make([]byte, 0, len(token)+len(pk))
	k = append(k, token[:]...)
	k = append(k, pk[:]...)
	return k
}

func balanceKey(token common.TokenAddress, balance uint64, pk common.PublicKey) []byte {
	k := make([]byte, 0, len(token)+8+len(pk))
	k = append(k, token[:]...)
	k = append(k, database.EncodeU64(balance)...)
	k = append(k, pk[:]...)
	return k
}

// indexZkappEvents appends b's zkapp app-state updates to the per-account
// zkapp_events index, numbering them with the persisted per-account count.
// counts carries increments staged earlier in the same batch, since the CF
// read below cannot see uncommitted writes.
func (i *Indexer) indexZkappEvents(batch database.Batch, b *block.Block, counts map[string]uint32) error {
	zkCountCF := i.store.CF(database.CFZkappEventsNum)
	for _, d := range b.AccountDiffs {
		if d.Kind != block.DiffZkappState || d.Zkapp == nil || d.Zkapp.AppState == nil {
			continue
		}
		key := accountKey(d.Token, d.PublicKey)
		n, seen := counts[string(key)]
		if !seen {
			raw, err := zkCountCF.Get(key)
			if err != nil {
				return chainerr.Wrap(chainerr.StoreCorruption, err, "reading zkapp event count")
			}
			if len(raw) == 4 {
				n = database.DecodeU32(raw)
			}
		}
		eventKey := make([]byte, 0, len(key)+4)
		eventKey = append(eventKey, key...)
		eventKey = append(eventKey, database.EncodeU32(n)...)
		if err := batch.Put(database.CFZkappEvents, eventKey, d.Zkapp.AppState); err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing zkapp event")
		}
		n++
		counts[string(key)] = n
		if err := batch.Put(database.CFZkappEventsNum, key, database.EncodeU32(n)); err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing zkapp event count")
		}
	}
	return nil
}

// commit writes batch, retrying once on failure per the recovery policy
// for StoreWriteFailed.
func (i *Indexer) commit(batch database.Batch) error {
	if err := batch.Write(); err != nil {
		commitRetryCounter.Inc(1)
		logger.Warn("batch commit failed, retrying once", "err", err)
		if err := batch.Write(); err != nil {
			return chainerr.Wrap(chainerr.StoreWriteFailed, err, "committing batch")
		}
	}
	return nil
}

// IngestStakingLedger persists a staking snapshot and its events in one
// batch; a matching re-ingest is a no-op.
func (i *Indexer) IngestStakingLedger(snap staking.Snapshot) error {
	prevTail := i.evLog.Tail()
	batch := i.store.NewBatch()
	events, err := i.staking.Ingest(batch, snap)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if _, err := i.evLog.Append(batch, ev); err != nil {
			i.evLog.Rewind(prevTail)
			return err
		}
	}
	if err := i.commit(batch); err != nil {
		i.evLog.Rewind(prevTail)
		return err
	}
	eventTailGauge.Update(int64(i.evLog.Tail()))
	return nil
}
