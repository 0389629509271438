package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/canonicity"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/config"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/ledger"
	"github.com/chainlabs/indexer/staking"
	"github.com/chainlabs/indexer/storage/database"
	"github.com/chainlabs/indexer/witnesstree"
)

func hash(b byte) common.StateHash {
	var h common.StateHash
	h[len(h)-1] = b
	return h
}

func pk(b byte) common.PublicKey {
	var p common.PublicKey
	p[len(p)-1] = b
	return p
}

func blk(length uint32, self, parent byte) *block.Block {
	return &block.Block{
		StateHash:        hash(self),
		ParentHash:       hash(parent),
		BlockchainLength: length,
		GlobalSlot:       length,
		VrfOutput:        []byte{self},
	}
}

func testConfig(threshold, update, cadence uint32) config.Config {
	cfg := config.Default()
	cfg.MainnetCanonicalThreshold = threshold
	cfg.CanonicalUpdateThreshold = update
	cfg.LedgerCadence = cadence
	cfg.AccountCreationFee = 1000
	cfg.MaxDangling = 20
	return cfg
}

func open(t *testing.T, kv database.Store, cfg config.Config, genesis ledger.Ledger) *Indexer {
	t.Helper()
	idx, err := Open(kv, cfg, genesis)
	require.NoError(t, err)
	return idx
}

// S1: a contiguous chain of 20 blocks promotes everything deeper than the
// canonical threshold, leaving one leaf and a full canonical index below
// the boundary.
func TestContiguousChainPromotes(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), ledger.New())

	for i := byte(1); i <= 20; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}

	tr := idx.Tree()
	require.EqualValues(t, 10, tr.CanonicalRoot().BlockchainLength)
	require.Equal(t, hash(20), tr.BestTip().StateHash)
	require.Len(t, tr.BestChain(), 11)

	for l := uint32(1); l <= 10; l++ {
		got, ok, err := idx.CanonicalAt(l)
		require.NoError(t, err)
		require.True(t, ok, "missing canonical entry at %d", l)
		require.Equal(t, hash(byte(l)), got)
	}
	_, ok, err := idx.CanonicalAt(11)
	require.NoError(t, err)
	require.False(t, ok)
}

// S2: of two competing blocks at the same height, the extended branch wins
// and the loser is recorded as an orphan once promotion passes its height.
func TestForkPromotionRecordsOrphan(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(5, 0, 100), ledger.New())

	for i := byte(1); i <= 10; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}
	// competing blocks at height 11; vrf output 12 > 11, so 12 wins
	_, err := idx.AddBlock(blk(11, 11, 10))
	require.NoError(t, err)
	_, err = idx.AddBlock(blk(11, 12, 10))
	require.NoError(t, err)
	// extend the winner to height 20
	parent := byte(12)
	for i := byte(13); i <= 21; i++ {
		_, err := idx.AddBlock(blk(uint32(i-1), i, parent))
		require.NoError(t, err)
		parent = i
	}

	got, ok, err := idx.CanonicalAt(11)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash(12), got)

	status, ok, err := idx.CanonicityOf(hash(11))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, canonicity.Orphan, status)

	status, _, err = idx.CanonicityOf(hash(12))
	require.NoError(t, err)
	require.Equal(t, canonicity.Canonical, status)
}

// S3: blocks arriving ahead of their ancestor sit in the side-buffer and
// reattach in one RootComplex extension once the gap block arrives.
func TestOrphanResolution(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), ledger.New())

	_, err := idx.AddBlock(blk(1, 1, 0))
	require.NoError(t, err)

	for i := byte(3); i <= 5; i++ {
		ext, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.True(t, chainerr.Is(err, chainerr.OrphanBlock))
		require.Contains(t, []witnesstree.Extension{witnesstree.DanglingNew, witnesstree.DanglingSimpleReverse}, ext)
	}
	require.Equal(t, 3, idx.Tree().DanglingCount())

	ext, err := idx.AddBlock(blk(2, 2, 1))
	require.NoError(t, err)
	require.Equal(t, witnesstree.RootComplex, ext)
	require.Equal(t, hash(5), idx.Tree().BestTip().StateHash)
	require.Equal(t, 0, idx.Tree().DanglingCount())
	require.Len(t, idx.BestChain(0), 5)
}

// S4: a gap leaves the tail in the side-buffer; the best chain stops at
// the gap until the missing blocks arrive, then drains in order.
func TestGapInHistory(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), ledger.New())

	_, err := idx.AddBlock(blk(1, 1, 0))
	require.NoError(t, err)
	_, err = idx.AddBlock(blk(2, 2, 1))
	require.NoError(t, err)
	_, err = idx.AddBlock(blk(5, 5, 4))
	require.True(t, chainerr.Is(err, chainerr.OrphanBlock))
	_, err = idx.AddBlock(blk(6, 6, 5))
	require.True(t, chainerr.Is(err, chainerr.OrphanBlock))

	chain := idx.BestChain(0)
	require.Len(t, chain, 2)
	require.Equal(t, hash(2), chain[1].StateHash)

	_, err = idx.AddBlock(blk(3, 3, 2))
	require.NoError(t, err)
	_, err = idx.AddBlock(blk(4, 4, 3))
	require.NoError(t, err)
	require.Equal(t, hash(6), idx.Tree().BestTip().StateHash)
	require.Len(t, idx.BestChain(0), 6)
}

// S5: one payment's observable effects on sender, receiver, and coinbase
// receiver, with nonce movement and no other account touched.
func TestLedgerRoundTrip(t *testing.T) {
	var (
		a        = pk(0xA1)
		b        = pk(0xB2)
		receiver = pk(0xC3)
		token    common.TokenAddress
	)
	genesis := ledger.New().
		With(token, a, ledger.Account{Balance: 10_000}).
		With(token, b, ledger.Account{Balance: 500})

	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), genesis)

	_, err := idx.AddBlock(blk(1, 1, 0))
	require.NoError(t, err)

	const (
		payment  = 100
		fee      = 10
		coinbase = 720
	)
	b2 := blk(2, 2, 1)
	b2.AccountDiffs = []block.AccountDiff{
		{Kind: block.DiffCoinbase, PublicKey: receiver, Amount: coinbase},
		{Kind: block.DiffFeeTransfer, PublicKey: receiver, Amount: fee},
		{Kind: block.DiffPaymentDebit, PublicKey: a, Amount: payment + fee},
		{Kind: block.DiffPaymentCredit, PublicKey: b, Amount: payment},
	}
	_, err = idx.AddBlock(b2)
	require.NoError(t, err)

	l, err := idx.LedgerAtState(hash(2))
	require.NoError(t, err)

	accA, ok := l.Get(token, a)
	require.True(t, ok)
	require.EqualValues(t, 10_000-payment-fee, accA.Balance)
	require.EqualValues(t, 1, accA.Nonce)

	accB, ok := l.Get(token, b)
	require.True(t, ok)
	require.EqualValues(t, 500+payment, accB.Balance)
	require.EqualValues(t, 0, accB.Nonce)

	accR, ok := l.Get(token, receiver)
	require.True(t, ok)
	require.EqualValues(t, coinbase+fee, accR.Balance)
}

// S6: a restarted process replays the event log into an identical witness
// tree without appending anything new.
func TestRestartIdentity(t *testing.T) {
	cfg := testConfig(5, 0, 4)
	kv := database.NewMemoryStore()
	idx1 := open(t, kv, cfg, ledger.New())

	for i := byte(1); i <= 30; i++ {
		_, err := idx1.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}
	tailBefore := idx1.EventTail()
	chainBefore := idx1.BestChain(0)

	idx2 := open(t, kv, cfg, ledger.New())
	require.Equal(t, tailBefore, idx2.EventTail())

	tr1, tr2 := idx1.Tree(), idx2.Tree()
	require.Equal(t, tr1.BestTip().StateHash, tr2.BestTip().StateHash)
	require.Equal(t, tr1.CanonicalRoot().StateHash, tr2.CanonicalRoot().StateHash)

	chainAfter := idx2.BestChain(0)
	require.Equal(t, len(chainBefore), len(chainAfter))
	for i := range chainBefore {
		require.Equal(t, chainBefore[i].StateHash, chainAfter[i].StateHash)
		d1, ok1 := tr1.Diffs(chainBefore[i].StateHash)
		d2, ok2 := tr2.Diffs(chainAfter[i].StateHash)
		require.Equal(t, ok1, ok2)
		require.Equal(t, d1, d2)
	}
}

// Invariant 5/6: re-inserting a block is a no-op and the event log stays
// strictly increasing and contiguous.
func TestDuplicateInsertAppendsNothing(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), ledger.New())

	for i := byte(1); i <= 5; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}
	tail := idx.EventTail()
	ext, err := idx.AddBlock(blk(3, 3, 2))
	require.NoError(t, err)
	require.Equal(t, witnesstree.Ignored, ext)
	require.Equal(t, tail, idx.EventTail())

	log, err := eventlog.Open(kv)
	require.NoError(t, err)
	entries, err := log.IterFrom(1)
	require.NoError(t, err)
	require.Len(t, entries, int(tail))
	for i, e := range entries {
		require.EqualValues(t, i+1, e.SeqNum)
	}
}

// Cadence boundaries freeze ledgers and emit NewLedger after the block's
// NewCanonicalBlock.
func TestCadenceFreezesLedgers(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(5, 0, 4), ledger.New())

	for i := byte(1); i <= 20; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}

	log, err := eventlog.Open(kv)
	require.NoError(t, err)
	entries, err := log.IterFrom(1)
	require.NoError(t, err)

	canonicalSeen := make(map[uint32]bool)
	var sawLedger bool
	for _, e := range entries {
		switch e.Event.Kind {
		case eventlog.NewCanonicalBlock:
			canonicalSeen[e.Event.Length] = true
		case eventlog.NewLedger:
			sawLedger = true
			require.Zero(t, e.Event.Length%4)
			require.True(t, canonicalSeen[e.Event.Length],
				"NewLedger at %d not preceded by its NewCanonicalBlock", e.Event.Length)
		}
	}
	require.True(t, sawLedger)
}

// BootstrapCanonical fast-paths a deep chain, then normal ingestion takes
// over at the threshold boundary.
func TestBootstrapThenIngest(t *testing.T) {
	cfg := testConfig(5, 0, 4)
	kv := database.NewMemoryStore()
	idx := open(t, kv, cfg, ledger.New())

	var deep []*block.Block
	for i := byte(1); i <= 15; i++ {
		deep = append(deep, blk(uint32(i), i, i-1))
	}
	require.NoError(t, idx.BootstrapCanonical(deep))
	require.EqualValues(t, 15, idx.Tree().CanonicalRoot().BlockchainLength)

	for i := byte(16); i <= 22; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}
	require.Equal(t, hash(22), idx.Tree().BestTip().StateHash)

	got, ok, err := idx.CanonicalAt(15)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash(15), got)
	got, ok, err = idx.CanonicalAt(17)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash(17), got)
}

// A logged best tip the replay cannot reproduce is fatal.
func TestReplayDivergenceIsFatal(t *testing.T) {
	cfg := testConfig(10, 0, 100)
	kv := database.NewMemoryStore()
	idx := open(t, kv, cfg, ledger.New())
	for i := byte(1); i <= 5; i++ {
		_, err := idx.AddBlock(blk(uint32(i), i, i-1))
		require.NoError(t, err)
	}

	log, err := eventlog.Open(kv)
	require.NoError(t, err)
	batch := kv.NewBatch()
	_, err = log.Append(batch, eventlog.Event{Kind: eventlog.NewBestTip, StateHash: hash(0x7F), Length: 99})
	require.NoError(t, err)
	require.NoError(t, batch.Write())

	_, err = Open(kv, cfg, ledger.New())
	require.True(t, chainerr.Is(err, chainerr.ReconstructDivergence))
}

// An event variant newer than this binary refuses to start.
func TestUnknownEventRefusesStart(t *testing.T) {
	cfg := testConfig(10, 0, 100)
	kv := database.NewMemoryStore()
	idx := open(t, kv, cfg, ledger.New())
	_, err := idx.AddBlock(blk(1, 1, 0))
	require.NoError(t, err)

	log, err := eventlog.Open(kv)
	require.NoError(t, err)
	batch := kv.NewBatch()
	_, err = log.Append(batch, eventlog.Event{Kind: eventlog.Kind(99)})
	require.NoError(t, err)
	require.NoError(t, batch.Write())

	_, err = Open(kv, cfg, ledger.New())
	require.True(t, chainerr.Is(err, chainerr.UnknownEvent))
}

// Staking ingestion is independent of the tree and idempotent per epoch.
func TestStakingIngestIdempotent(t *testing.T) {
	kv := database.NewMemoryStore()
	idx := open(t, kv, testConfig(10, 0, 100), ledger.New())

	snap := staking.Snapshot{
		Epoch:      4,
		LedgerHash: common.LedgerHash(hash(0x44)),
		Entries: []staking.Entry{
			{PK: pk(1), Balance: 100, Delegate: pk(9)},
			{PK: pk(2), Balance: 200, Delegate: pk(9)},
		},
	}
	require.NoError(t, idx.IngestStakingLedger(snap))
	tail := idx.EventTail()
	require.NoError(t, idx.IngestStakingLedger(snap))
	require.Equal(t, tail, idx.EventTail())

	got, ok, err := idx.StakingLedgerByEpoch(4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.LedgerHash, got.LedgerHash)

	totals, ok, err := idx.Delegations(4)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 300, totals[pk(9)].TotalStake)
	require.Len(t, totals[pk(9)].Delegators, 2)
}
