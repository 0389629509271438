package ledger

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/common"
)

func wireHash(b byte) string {
	var h common.StateHash
	h[len(h)-1] = b
	return hex.EncodeToString(h[:])
}

func wirePK(b byte) common.PublicKey {
	var p common.PublicKey
	p[len(p)-1] = b
	return p
}

func wirePKHex(b byte) string {
	p := wirePK(b)
	return hex.EncodeToString(p[:])
}

// A payment command parsed from a real block file flows through the
// digest into the engine with the observable effects on source, receiver,
// and fee collector.
func TestWirePaymentRoundTrip(t *testing.T) {
	const (
		payment  = 100
		fee      = 10
		coinbase = 720
	)
	a, b, collector := wirePK(0xA1), wirePK(0xB2), wirePK(0xCC)

	body := fmt.Sprintf(`{"scheduled_time":"0","protocol_state":{"previous_state_hash":%q,"genesis_state_hash":%q,"blockchain_length":"2","global_slot_since_genesis":"2","coinbase_receiver":%q,"block_creator":%q},"staged_ledger_diff":{"commands":[{"kind":"payment","fee_payer":%q,"fee":%d,"nonce":0,"source_pk":%q,"receiver_pk":%q,"amount":%d}]}}`,
		wireHash(1), wireHash(1), wirePKHex(0xCC), wirePKHex(0xCC),
		wirePKHex(0xA1), fee, wirePKHex(0xA1), wirePKHex(0xB2), payment)
	name := fmt.Sprintf("mainnet-2-%s.json", wireHash(2))

	pb, err := block.ParsePrecomputedBlock(name, []byte(body))
	require.NoError(t, err)
	blk, err := block.Digest(pb, coinbase)
	require.NoError(t, err)

	var token common.TokenAddress
	genesis := New().
		With(token, a, Account{Balance: 10_000}).
		With(token, b, Account{Balance: 500})

	e := NewEngine(1000)
	l, err := e.ApplyAll(genesis, blk.AccountDiffs)
	require.NoError(t, err)

	accA, ok := l.Get(token, a)
	require.True(t, ok)
	require.EqualValues(t, 10_000-payment-fee, accA.Balance)
	require.EqualValues(t, 1, accA.Nonce)

	accB, ok := l.Get(token, b)
	require.True(t, ok)
	require.EqualValues(t, 500+payment, accB.Balance)
	require.EqualValues(t, 0, accB.Nonce)

	accC, ok := l.Get(token, collector)
	require.True(t, ok)
	require.EqualValues(t, coinbase+fee, accC.Balance)
}
