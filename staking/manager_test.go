package staking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/storage/database"
)

func pk(b byte) common.PublicKey {
	var p common.PublicKey
	p[len(p)-1] = b
	return p
}

func TestParseSnapshotFile(t *testing.T) {
	raw := []byte(`[
		{"pk": "` + hex(1) + `", "balance": 100, "delegate": "` + hex(2) + `"},
		{"pk": "` + hex(2) + `", "balance": 50}
	]`)
	var genesis [32]byte
	snap, err := ParseSnapshotFile("mainnet-42-"+hex(7)+".json", raw, genesis)
	require.NoError(t, err)
	require.EqualValues(t, 42, snap.Epoch)
	require.Len(t, snap.Entries, 2)
}

func hex(b byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = '0'
	}
	const hexDigits = "0123456789abcdef"
	out[62] = hexDigits[b>>4]
	out[63] = hexDigits[b&0xF]
	return string(out)
}

func TestIngestIdempotent(t *testing.T) {
	store := database.NewMemoryStore()
	m := Open(store)

	snap := Snapshot{Epoch: 1, Entries: []Entry{{Balance: 10}}}
	snap.LedgerHash[0] = 9

	batch := store.NewBatch()
	events, err := m.Ingest(batch, snap)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, eventlog.NewStakingLedger, events[0].Kind)
	require.Equal(t, eventlog.AggregateDelegations, events[1].Kind)
	require.NoError(t, batch.Write())

	batch = store.NewBatch()
	events, err = m.Ingest(batch, snap)
	require.NoError(t, err)
	require.Empty(t, events)

	got, ok, err := m.ByEpoch(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Entries, 1)

	byHash, ok, err := m.ByLedgerHash(snap.LedgerHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), byHash.Epoch)
}

func TestAggregateDelegations(t *testing.T) {
	entries := []Entry{
		{PK: pk(1), Balance: 100, Delegate: pk(3)},
		{PK: pk(2), Balance: 50, Delegate: pk(3)},
		{PK: pk(3), Balance: 10},
	}
	totals := Aggregate(entries)
	require.Len(t, totals, 1)
	require.EqualValues(t, 160, totals[pk(3)].TotalStake)
	require.Len(t, totals[pk(3)].Delegators, 3)
}
