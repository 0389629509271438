package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
)

func testHash(b byte) common.StateHash {
	var h common.StateHash
	h[len(h)-1] = b
	return h
}

func testPK(b byte) common.PublicKey {
	var p common.PublicKey
	p[len(p)-1] = b
	return p
}

func validPrecomputed() *PrecomputedBlock {
	return &PrecomputedBlock{
		Version:          1,
		StateHash:        testHash(2),
		ParentHash:       testHash(1),
		BlockchainLength: 2,
		GlobalSlot:       4,
		GenesisStateHash: testHash(1),
		CoinbaseReceiver: testPK(0xCC),
	}
}

func TestDigestRejectsMissingFields(t *testing.T) {
	_, err := Digest(nil, 720)
	require.True(t, chainerr.Is(err, chainerr.InvalidBlock))

	pb := validPrecomputed()
	pb.StateHash = common.StateHash{}
	_, err = Digest(pb, 720)
	require.True(t, chainerr.Is(err, chainerr.InvalidBlock))

	pb = validPrecomputed()
	pb.BlockchainLength = 0
	_, err = Digest(pb, 720)
	require.True(t, chainerr.Is(err, chainerr.InvalidBlock))

	pb = validPrecomputed()
	pb.ParentHash = common.StateHash{}
	_, err = Digest(pb, 720)
	require.True(t, chainerr.Is(err, chainerr.InvalidBlock))
}

func TestDigestPrependsCoinbaseThenFees(t *testing.T) {
	pb := validPrecomputed()
	pb.Commands = []Command{
		{FeePayer: testPK(1), Fee: 10},
		{FeePayer: testPK(2), Fee: 0},
		{FeePayer: testPK(3), Fee: 7},
	}

	b, err := Digest(pb, 720)
	require.NoError(t, err)
	require.Len(t, b.AccountDiffs, 3)
	require.Equal(t, DiffCoinbase, b.AccountDiffs[0].Kind)
	require.EqualValues(t, 720, b.AccountDiffs[0].Amount)
	require.Equal(t, DiffFeeTransfer, b.AccountDiffs[1].Kind)
	require.EqualValues(t, 10, b.AccountDiffs[1].Amount)
	require.Equal(t, testPK(0xCC), b.AccountDiffs[1].PublicKey) // fees collect at the coinbase receiver
	require.Equal(t, DiffFeeTransfer, b.AccountDiffs[2].Kind)
	require.EqualValues(t, 7, b.AccountDiffs[2].Amount)
}

func TestDigestOrdersDerivedDiffsBeforeCommandDiffs(t *testing.T) {
	pb := validPrecomputed()
	pb.Commands = []Command{{FeePayer: testPK(1), Fee: 10}}
	pb.AccountDiffs = []AccountDiff{
		{Kind: DiffPaymentDebit, PublicKey: testPK(1), Amount: 110},
		{Kind: DiffPaymentCredit, PublicKey: testPK(2), Amount: 100},
	}

	b, err := Digest(pb, 720)
	require.NoError(t, err)
	require.Len(t, b.AccountDiffs, 4)
	require.Equal(t, DiffCoinbase, b.AccountDiffs[0].Kind)
	require.Equal(t, DiffFeeTransfer, b.AccountDiffs[1].Kind)
	require.Equal(t, DiffPaymentDebit, b.AccountDiffs[2].Kind)
	require.Equal(t, DiffPaymentCredit, b.AccountDiffs[3].Kind)
}

func TestDigestSuperchargedDoublesCoinbase(t *testing.T) {
	pb := validPrecomputed()
	pb.Supercharged = true
	b, err := Digest(pb, 720)
	require.NoError(t, err)
	require.EqualValues(t, 1440, b.AccountDiffs[0].Amount)
}

