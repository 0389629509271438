package ledger

import (
	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/chainerr"
)

// Engine carries the protocol constants Apply needs but that no AccountDiff
// itself encodes, mirroring how config.Config is threaded into the other
// components at construction time rather than read from globals.
type Engine struct {
	AccountCreationFee uint64
}

// NewEngine builds an Engine from the configured account creation fee.
func NewEngine(accountCreationFee uint64) Engine {
	return Engine{AccountCreationFee: accountCreationFee}
}

// Apply folds a single AccountDiff over ledger, returning the resulting
// Ledger. It is total on well-formed diffs: the only failure is
// UnderflowNotPermitted, raised only when diff.FailureExpected is set and
// the subtraction would go negative. Unmarked diffs saturate at zero
// instead.
func (e Engine) Apply(l Ledger, diff block.AccountDiff) (Ledger, error) {
	switch diff.Kind {
	case block.DiffPaymentDebit:
		return applyDebit(l, diff)
	case block.DiffPaymentCredit:
		return e.applyCredit(l, diff), nil
	case block.DiffDelegation:
		return applyDelegation(l, diff), nil
	case block.DiffCoinbase:
		return applyCoinbase(l, diff), nil
	case block.DiffFeeTransfer:
		return applyFeeTransfer(l, diff)
	case block.DiffZkappState:
		return applyZkapp(l, diff), nil
	case block.DiffTokenChange:
		// Token supply/owner/symbol changes are not account-keyed; the
		// ledger is returned unchanged. A future token-registry component
		// would own TokenChangeDiff.
		return l, nil
	default:
		return l, chainerr.New(chainerr.InvalidBlock, "unknown account diff kind")
	}
}

// ApplyAll folds diffs over ledger in order, stopping at the first error.
// Callers (block ingestion) are expected to have already ordered diffs:
// coinbase first, then fee transfers, then user commands in sequence.
func (e Engine) ApplyAll(l Ledger, diffs []block.AccountDiff) (Ledger, error) {
	for _, d := range diffs {
		var err error
		l, err = e.Apply(l, d)
		if err != nil {
			return l, err
		}
	}
	return l, nil
}

func applyDebit(l Ledger, diff block.AccountDiff) (Ledger, error) {
	acc, _ := l.Get(diff.Token, diff.PublicKey)
	if diff.FailureExpected && diff.Amount > acc.Balance {
		return l, chainerr.New(chainerr.UnderflowNotPermitted, "payment debit would underflow")
	}
	acc.Balance = saturatingSub(acc.Balance, diff.Amount)
	acc.Nonce++
	return l.set(diff.Token, diff.PublicKey, acc), nil
}

func (e Engine) applyCredit(l Ledger, diff block.AccountDiff) Ledger {
	acc, existed := l.Get(diff.Token, diff.PublicKey)
	amount := diff.Amount
	if !existed {
		amount = saturatingSub(amount, e.AccountCreationFee)
		acc.GenesisCreated = false
	}
	acc.Balance += amount
	return l.set(diff.Token, diff.PublicKey, acc)
}

// applyCoinbase credits the receiver with the block's resolved coinbase
// amount; unlike a payment credit, no account-creation fee is deducted.
func applyCoinbase(l Ledger, diff block.AccountDiff) Ledger {
	acc, _ := l.Get(diff.Token, diff.PublicKey)
	acc.Balance += diff.Amount
	return l.set(diff.Token, diff.PublicKey, acc)
}

func applyDelegation(l Ledger, diff block.AccountDiff) Ledger {
	acc, _ := l.Get(diff.Token, diff.PublicKey)
	acc.Delegate = diff.Delegate
	acc.Nonce++
	return l.set(diff.Token, diff.PublicKey, acc)
}

func applyFeeTransfer(l Ledger, diff block.AccountDiff) (Ledger, error) {
	acc, _ := l.Get(diff.Token, diff.PublicKey)
	acc.Balance += diff.Amount
	l = l.set(diff.Token, diff.PublicKey, acc)

	if !diff.FeeTransferViaCoinbase {
		return l, nil
	}
	debitAcc, _ := l.Get(diff.Token, diff.CoinbaseDebitAccount)
	if diff.FailureExpected && diff.CoinbaseDebitAmount > debitAcc.Balance {
		return l, chainerr.New(chainerr.UnderflowNotPermitted, "fee transfer coinbase debit would underflow")
	}
	debitAcc.Balance = saturatingSub(debitAcc.Balance, diff.CoinbaseDebitAmount)
	return l.set(diff.Token, diff.CoinbaseDebitAccount, debitAcc), nil
}

func applyZkapp(l Ledger, diff block.AccountDiff) Ledger {
	acc, _ := l.Get(diff.Token, diff.PublicKey)
	if diff.Zkapp == nil {
		return l
	}
	z := acc.Zkapp
	if diff.Zkapp.AppState != nil {
		z = z.appendAppState(diff.Zkapp.AppState)
	}
	if diff.Zkapp.Permissions != nil {
		z.Permissions = diff.Zkapp.Permissions
	}
	if diff.Zkapp.VerificationKey != nil {
		z.VerificationKey = diff.Zkapp.VerificationKey
	}
	if diff.Zkapp.TokenSymbol != "" {
		z.TokenSymbol = diff.Zkapp.TokenSymbol
	}
	if diff.Zkapp.URI != "" {
		z.URI = diff.Zkapp.URI
	}
	if diff.Zkapp.Timing != nil {
		z.Timing = diff.Zkapp.Timing
	}
	acc.Zkapp = z
	return l.set(diff.Token, diff.PublicKey, acc)
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
