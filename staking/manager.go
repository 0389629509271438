package staking

import (
	"encoding/json"

	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/storage/database"
)

var logger = log.NewModuleLogger(log.Staking)

// Manager owns the staking_ledger_by_epoch and staking_ledger_by_hash
// column families, independent of the witness tree.
type Manager struct {
	byEpoch database.Database
	byHash  database.Database
}

// Open attaches a Manager to the staking ledger column families of store.
func Open(store database.Store) *Manager {
	return &Manager{
		byEpoch: store.CF(database.CFStakingLedgerByEpoch),
		byHash:  store.CF(database.CFStakingLedgerByHash),
	}
}

// Ingest persists snap and returns the NewStakingLedger and
// AggregateDelegations events to append, in that order. Re-ingesting an
// epoch whose ledger_hash already matches what's stored is a no-op
// returning no events.
func (m *Manager) Ingest(batch database.Batch, snap Snapshot) ([]eventlog.Event, error) {
	if existing, ok, err := m.ByEpoch(snap.Epoch); err != nil {
		return nil, err
	} else if ok {
		if existing.LedgerHash == snap.LedgerHash {
			logger.Debug("staking ledger already ingested", "epoch", snap.Epoch)
			return nil, nil
		}
		logger.Warn("re-ingesting epoch with a different ledger hash", "epoch", snap.Epoch)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.StoreWriteFailed, err, "marshaling staking snapshot")
	}
	if err := batch.Put(database.CFStakingLedgerByEpoch, database.EncodeU32(snap.Epoch), raw); err != nil {
		return nil, chainerr.Wrap(chainerr.StoreWriteFailed, err, "persisting staking snapshot by epoch")
	}
	if err := batch.Put(database.CFStakingLedgerByHash, snap.LedgerHash[:], database.EncodeU32(snap.Epoch)); err != nil {
		return nil, chainerr.Wrap(chainerr.StoreWriteFailed, err, "persisting staking snapshot by hash")
	}

	// AggregateDelegations is recorded once the totals are known to be
	// computable; Aggregate is pure and cannot itself fail, so the event
	// simply marks that this epoch's totals are ready to be queried.
	_ = Aggregate(snap.Entries)

	return []eventlog.Event{
		{Kind: eventlog.NewStakingLedger, Epoch: snap.Epoch, LedgerHash: snap.LedgerHash, GenesisStateHash: snap.GenesisStateHash},
		{Kind: eventlog.AggregateDelegations, Epoch: snap.Epoch, GenesisStateHash: snap.GenesisStateHash},
	}, nil
}

// ByEpoch returns the snapshot stored for epoch, if any.
func (m *Manager) ByEpoch(epoch uint32) (Snapshot, bool, error) {
	raw, err := m.byEpoch.Get(database.EncodeU32(epoch))
	if err != nil {
		return Snapshot{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "reading staking snapshot by epoch")
	}
	if raw == nil {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "decoding staking snapshot")
	}
	return snap, true, nil
}

// ByLedgerHash resolves a ledger hash to its epoch, then to the snapshot.
func (m *Manager) ByLedgerHash(hash common.LedgerHash) (Snapshot, bool, error) {
	raw, err := m.byHash.Get(hash[:])
	if err != nil {
		return Snapshot{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "reading staking epoch by hash")
	}
	if raw == nil {
		return Snapshot{}, false, nil
	}
	if len(raw) != 4 {
		return Snapshot{}, false, chainerr.New(chainerr.StoreCorruption, "staking_ledger_by_hash value has wrong length")
	}
	return m.ByEpoch(database.DecodeU32(raw))
}

// Delegations returns the aggregated delegate totals for epoch.
func (m *Manager) Delegations(epoch uint32) (map[common.PublicKey]*DelegationTotals, bool, error) {
	snap, ok, err := m.ByEpoch(epoch)
	if err != nil || !ok {
		return nil, ok, err
	}
	return Aggregate(snap.Entries), true, nil
}
