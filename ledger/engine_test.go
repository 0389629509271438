package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
)

func pk(b byte) common.PublicKey {
	var p common.PublicKey
	p[0] = b
	return p
}

func TestApplyPaymentCreditDeductsCreationFeeOnNewAccount(t *testing.T) {
	e := NewEngine(1_000_000_000)
	l := New()

	l, err := e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 5_000_000_000})
	require.NoError(t, err)

	acc, ok := l.Get(common.TokenAddress{}, pk(1))
	require.True(t, ok)
	assert.Equal(t, uint64(4_000_000_000), acc.Balance)
	assert.False(t, acc.GenesisCreated)
}

func TestApplyPaymentCreditOnExistingAccountDoesNotChargeFee(t *testing.T) {
	e := NewEngine(1_000_000_000)
	l := New()
	l, err := e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 5_000_000_000})
	require.NoError(t, err)

	l, err = e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 1_000_000_000})
	require.NoError(t, err)

	acc, _ := l.Get(common.TokenAddress{}, pk(1))
	assert.Equal(t, uint64(5_000_000_000), acc.Balance)
}

func TestApplyPaymentDebitSaturatesWithoutFailureFlag(t *testing.T) {
	e := NewEngine(0)
	l := New()
	l, _ = e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 100})

	l, err := e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentDebit, PublicKey: pk(1), Amount: 500})
	require.NoError(t, err)

	acc, _ := l.Get(common.TokenAddress{}, pk(1))
	assert.Equal(t, uint64(0), acc.Balance)
	assert.Equal(t, uint64(1), acc.Nonce)
}

func TestApplyPaymentDebitFailsOnUnderflowWhenFlagged(t *testing.T) {
	e := NewEngine(0)
	l := New()
	l, _ = e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 100})

	_, err := e.Apply(l, block.AccountDiff{
		Kind: block.DiffPaymentDebit, PublicKey: pk(1), Amount: 500, FailureExpected: true,
	})
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.UnderflowNotPermitted))
}

func TestApplyDelegationUpdatesDelegateAndNonce(t *testing.T) {
	e := NewEngine(0)
	l := New()

	l, err := e.Apply(l, block.AccountDiff{Kind: block.DiffDelegation, PublicKey: pk(1), Delegate: pk(2)})
	require.NoError(t, err)

	acc, _ := l.Get(common.TokenAddress{}, pk(1))
	assert.Equal(t, pk(2), acc.Delegate)
	assert.Equal(t, uint64(1), acc.Nonce)
}

func TestApplyCoinbaseDoesNotChargeCreationFee(t *testing.T) {
	e := NewEngine(1_000_000_000)
	l := New()

	l, err := e.Apply(l, block.AccountDiff{Kind: block.DiffCoinbase, PublicKey: pk(1), Amount: 720_000_000_000})
	require.NoError(t, err)

	acc, _ := l.Get(common.TokenAddress{}, pk(1))
	assert.Equal(t, uint64(720_000_000_000), acc.Balance)
}

func TestApplyFeeTransferViaCoinbaseDebitsCoinbaseAccount(t *testing.T) {
	e := NewEngine(0)
	l := New()
	l, _ = e.Apply(l, block.AccountDiff{Kind: block.DiffCoinbase, PublicKey: pk(9), Amount: 1000})

	l, err := e.Apply(l, block.AccountDiff{
		Kind: block.DiffFeeTransfer, PublicKey: pk(1), Amount: 50,
		FeeTransferViaCoinbase: true, CoinbaseDebitAccount: pk(9), CoinbaseDebitAmount: 50,
	})
	require.NoError(t, err)

	prover, _ := l.Get(common.TokenAddress{}, pk(1))
	coinbase, _ := l.Get(common.TokenAddress{}, pk(9))
	assert.Equal(t, uint64(50), prover.Balance)
	assert.Equal(t, uint64(950), coinbase.Balance)
}

func TestApplyZkappDiffAppendsAndCapsAppState(t *testing.T) {
	e := NewEngine(0)
	l := New()

	for i := 0; i < 10; i++ {
		var err error
		l, err = e.Apply(l, block.AccountDiff{
			Kind: block.DiffZkappState, PublicKey: pk(1),
			Zkapp: &block.ZkappDiff{AppState: []byte{byte(i)}},
		})
		require.NoError(t, err)
	}

	acc, _ := l.Get(common.TokenAddress{}, pk(1))
	require.Len(t, acc.Zkapp.AppState, maxZkappAppStateSlots)
	assert.Equal(t, byte(2), acc.Zkapp.AppState[0][0])
	assert.Equal(t, byte(9), acc.Zkapp.AppState[len(acc.Zkapp.AppState)-1][0])
}

func TestApplyAllOrdersCoinbaseThenFeeTransferThenCommands(t *testing.T) {
	e := NewEngine(0)
	l := New()

	diffs := []block.AccountDiff{
		{Kind: block.DiffCoinbase, PublicKey: pk(9), Amount: 1000},
		{Kind: block.DiffFeeTransfer, PublicKey: pk(1), Amount: 10},
		{Kind: block.DiffPaymentDebit, PublicKey: pk(2), Amount: 5},
	}
	l, _ = e.Apply(l, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(2), Amount: 100})

	l, err := e.ApplyAll(l, diffs)
	require.NoError(t, err)

	prover, _ := l.Get(common.TokenAddress{}, pk(1))
	payer, _ := l.Get(common.TokenAddress{}, pk(2))
	coinbase, _ := l.Get(common.TokenAddress{}, pk(9))
	assert.Equal(t, uint64(10), prover.Balance)
	assert.Equal(t, uint64(95), payer.Balance)
	assert.Equal(t, uint64(1000), coinbase.Balance)
}

func TestLedgerSetDoesNotMutateOriginal(t *testing.T) {
	l1 := New()
	l2, err := NewEngine(0).Apply(l1, block.AccountDiff{Kind: block.DiffPaymentCredit, PublicKey: pk(1), Amount: 10})
	require.NoError(t, err)

	_, ok := l1.Get(common.TokenAddress{}, pk(1))
	assert.False(t, ok, "original ledger must be unchanged after Apply")

	acc, ok := l2.Get(common.TokenAddress{}, pk(1))
	require.True(t, ok)
	assert.Equal(t, uint64(10), acc.Balance)
}
