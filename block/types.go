// Package block defines the canonical, wire-version-independent Block
// record and the account diffs it carries.
package block

import (
	"encoding/json"

	"github.com/chainlabs/indexer/common"
)

// Identity is a BlockIdentity: a content-addressed state hash paired with
// its height and global slot.
type Identity struct {
	StateHash        common.StateHash
	BlockchainLength uint32
	GlobalSlot       uint32
}

// Block is the canonical, version-independent view of a precomputed block.
// Once accepted, a Block is immutable. Invariant: BlockchainLength >=
// parent.BlockchainLength + 1 whenever the parent is known.
type Block struct {
	StateHash         common.StateHash
	ParentHash        common.StateHash
	BlockchainLength  uint32
	GlobalSlot        uint32
	GenesisStateHash  common.StateHash
	VrfOutput         []byte
	CoinbaseReceiver  common.PublicKey
	Producer          common.PublicKey
	Supercharged      bool
	ScheduledTimeMs   uint64

	AccountDiffs []AccountDiff
	Commands     []Command
}

// Identity extracts the BlockIdentity of b.
func (b *Block) Identity() Identity {
	return Identity{StateHash: b.StateHash, BlockchainLength: b.BlockchainLength, GlobalSlot: b.GlobalSlot}
}

// Marshal serializes b for the `blocks` column family. The
// wire format is plain JSON, not bin_prot: the core's own persistence
// format is its own concern, independent of whatever a block file's wire
// version used.
func (b *Block) Marshal() ([]byte, error) { return json.Marshal(b) }

// Unmarshal parses a Block encoded by Marshal.
func Unmarshal(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Command is a user-submitted transaction recorded in the block, carried
// only far enough to derive its account diffs and fee; full command
// semantics (signatures, memos) are out of the core's scope.
type Command struct {
	FeePayer common.PublicKey
	Fee      uint64
	Nonce    uint64
	Failed   bool
}

// DiffKind tags the AccountDiff variant.
type DiffKind uint8

const (
	DiffPaymentDebit DiffKind = iota
	DiffPaymentCredit
	DiffDelegation
	DiffCoinbase
	DiffFeeTransfer
	DiffZkappState
	DiffTokenChange
)

// AccountDiff is a tagged variant covering every account mutation a block
// can carry. Each diff is self-contained: it carries enough information
// (token, public key, amounts) to be applied without reference to sibling
// diffs, aside from the coinbase-first ordering rule.
type AccountDiff struct {
	Kind  DiffKind
	Token common.TokenAddress

	// PaymentDebit / PaymentCredit / Coinbase / FeeTransfer
	PublicKey common.PublicKey
	Amount    uint64
	// FailureExpected marks a diff the protocol tagged as
	// failure-producing; only then does an underflow surface as
	// UnderflowNotPermitted instead of saturating.
	FailureExpected bool

	// Delegation
	Delegate common.PublicKey

	// FeeTransfer: if the fee exceeds accumulated SNARK fees, the
	// remainder comes from the coinbase account as a paired debit.
	FeeTransferViaCoinbase bool
	CoinbaseDebitAccount   common.PublicKey
	CoinbaseDebitAmount    uint64

	// Zkapp diff payload, populated only when Kind == DiffZkappState.
	Zkapp *ZkappDiff

	// TokenChange payload, populated only when Kind == DiffTokenChange.
	TokenChange *TokenChangeDiff
}

// ZkappDiff carries a single zkapp account-state update: an appended
// app-state vector entry, and optional permission/verification
// key/timing/token-symbol/URI replacements.
type ZkappDiff struct {
	AppState        []byte
	Permissions     []byte
	VerificationKey []byte
	TokenSymbol     string
	URI             string
	Timing          []byte
}

// TokenChangeDiff carries a token supply/owner/symbol change.
type TokenChangeDiff struct {
	SupplyDelta int64
	NewOwner    *common.PublicKey
	NewSymbol   *string
}
