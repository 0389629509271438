package staking

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/chainlabs/indexer/common"
)

// filenamePattern matches "<network>-<epoch>-<ledger_hash>.json", the same
// "<network>-<n>-<hash>.json" shape block filenames use, applied here to
// epoch snapshot files.
var filenamePattern = regexp.MustCompile(`^[^-]+-(\d+)-([0-9a-fA-F]+)\.json$`)

type entryJSON struct {
	PK       string `json:"pk"`
	Balance  uint64 `json:"balance"`
	Delegate string `json:"delegate"`
	Timing   *struct {
		InitialMinimumBalance uint64 `json:"initial_minimum_balance"`
		CliffTime             uint64 `json:"cliff_time"`
		CliffAmount           uint64 `json:"cliff_amount"`
		VestingPeriod         uint64 `json:"vesting_period"`
		VestingIncrement      uint64 `json:"vesting_increment"`
	} `json:"timing"`
}

// ParseSnapshotFile parses an epoch staking ledger file: a JSON array of
// {pk, balance, delegate, timing} records.
func ParseSnapshotFile(filename string, raw []byte, genesisStateHash common.StateHash) (Snapshot, error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return Snapshot{}, fmt.Errorf("filename %q does not match <network>-<epoch>-<ledger_hash>.json", filename)
	}
	epoch, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return Snapshot{}, fmt.Errorf("filename %q has unparseable epoch: %w", filename, err)
	}
	ledgerHashBytes, err := common.StateHashFromHex(m[2])
	if err != nil {
		// LedgerHash and StateHash share a byte length; reuse the hex
		// decode/length check rather than duplicating it.
		return Snapshot{}, errors.Wrap(err, "parsing ledger hash from filename")
	}

	var records []entryJSON
	if err := json.Unmarshal(raw, &records); err != nil {
		return Snapshot{}, errors.Wrap(err, "parsing staking ledger file")
	}

	snap := Snapshot{
		Epoch:            uint32(epoch),
		LedgerHash:       common.LedgerHash(ledgerHashBytes),
		GenesisStateHash: genesisStateHash,
	}
	for _, r := range records {
		pk, err := common.PublicKeyFromHex(r.PK)
		if err != nil {
			return Snapshot{}, errors.Wrap(err, "parsing pk")
		}
		entry := Entry{PK: pk, Balance: r.Balance}
		if r.Delegate != "" {
			delegate, err := common.PublicKeyFromHex(r.Delegate)
			if err != nil {
				return Snapshot{}, errors.Wrap(err, "parsing delegate")
			}
			entry.Delegate = delegate
		}
		if r.Timing != nil {
			entry.Timing = encodeTiming(*r.Timing)
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return snap, nil
}

func encodeTiming(t struct {
	InitialMinimumBalance uint64 `json:"initial_minimum_balance"`
	CliffTime             uint64 `json:"cliff_time"`
	CliffAmount           uint64 `json:"cliff_amount"`
	VestingPeriod         uint64 `json:"vesting_period"`
	VestingIncrement      uint64 `json:"vesting_increment"`
}) []byte {
	raw, _ := json.Marshal(t)
	return raw
}
