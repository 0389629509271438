// Package eventlog implements the append-only, monotonically numbered
// sequence of domain events that is the sole durable record of state
// transitions. It is the bridge that makes the
// witness tree and ledger store crash-consistent: on restart,
// reconstruct.Reconstruct replays exactly what this package recorded.
package eventlog

import (
	"encoding/binary"
	"encoding/json"

	"github.com/chainlabs/indexer/common"
)

// Kind tags the Event variant.
type Kind uint8

const (
	NewBlock Kind = iota
	NewBestTip
	NewLedger
	NewCanonicalBlock
	NewStakingLedger
	AggregateDelegations
)

func (k Kind) String() string {
	switch k {
	case NewBlock:
		return "NewBlock"
	case NewBestTip:
		return "NewBestTip"
	case NewLedger:
		return "NewLedger"
	case NewCanonicalBlock:
		return "NewCanonicalBlock"
	case NewStakingLedger:
		return "NewStakingLedger"
	case AggregateDelegations:
		return "AggregateDelegations"
	default:
		return "Unknown"
	}
}

// Event is one domain event recorded in the log. Only the fields relevant
// to Kind are populated: a tagged union behind one struct rather than a Go
// interface, so the value round-trips through JSON without a custom
// marshaler registry.
type Event struct {
	Kind Kind `json:"kind"`

	StateHash common.StateHash `json:"state_hash,omitempty"`
	Length    uint32           `json:"length,omitempty"`

	// NewLedger
	LedgerHash common.LedgerHash `json:"ledger_hash,omitempty"`

	// NewStakingLedger / AggregateDelegations
	Epoch            uint32           `json:"epoch,omitempty"`
	GenesisStateHash common.StateHash `json:"genesis_state_hash,omitempty"`
}

// Entry pairs an Event with its persistent seq_num key.
type Entry struct {
	SeqNum uint32 `json:"seq_num"`
	Event  Event  `json:"event"`
}

// Marshal/Unmarshal keep the wire encoding in one place so both the badger
// and memory stores (and reconstruct's replay path) agree on it.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

func encodeSeqNum(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}
