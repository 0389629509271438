package block

import (
	"github.com/chainlabs/indexer/chainerr"
)

// Digest converts a parsed PrecomputedBlock into the canonical Block record
// the rest of the engine operates on. It is a
// pure function: no store access, no side effects beyond the supplied
// coinbaseReward constant (config.Config.CoinbaseReward). The only failure
// mode is chainerr.InvalidBlock, raised when a required field is missing or
// self-contradictory in a way ParsePrecomputedBlock could not already catch
// as a JSON-shape error.
func Digest(pb *PrecomputedBlock, coinbaseReward uint64) (*Block, error) {
	if pb == nil {
		return nil, chainerr.New(chainerr.InvalidBlock, "nil precomputed block")
	}
	if pb.StateHash.IsZero() {
		return nil, chainerr.New(chainerr.InvalidBlock, "missing state hash")
	}
	if pb.BlockchainLength == 0 {
		return nil, chainerr.New(chainerr.InvalidBlock, "blockchain length must be >= 1")
	}
	if pb.GenesisStateHash.IsZero() {
		return nil, chainerr.New(chainerr.InvalidBlock, "missing genesis state hash")
	}
	// Only a length-1 block may omit its parent; every later block must
	// name a non-zero parent.
	if pb.BlockchainLength > 1 && pb.ParentHash.IsZero() {
		return nil, chainerr.New(chainerr.InvalidBlock, "missing parent hash for non-genesis block")
	}

	diffs, err := diffsFromCommands(pb, coinbaseReward)
	if err != nil {
		return nil, err
	}

	b := &Block{
		StateHash:        pb.StateHash,
		ParentHash:       pb.ParentHash,
		BlockchainLength: pb.BlockchainLength,
		GlobalSlot:       pb.GlobalSlot,
		GenesisStateHash: pb.GenesisStateHash,
		VrfOutput:        pb.VrfOutput,
		CoinbaseReceiver: pb.CoinbaseReceiver,
		Producer:         pb.Producer,
		Supercharged:     pb.Supercharged,
		ScheduledTimeMs:  pb.ScheduledTimeMs,
		AccountDiffs:     append(diffs, pb.AccountDiffs...),
		Commands:         pb.Commands,
	}
	return b, nil
}

// diffsFromCommands derives the coinbase and fee-transfer AccountDiffs
// implied by the block's commands: the coinbase credit first, then one fee
// transfer per fee-bearing command, crediting the block's fee collector.
// Digest prepends these ahead of the user-command diffs the wire format
// carries, so application order is coinbase, fee transfers, then user
// commands in sequence.
func diffsFromCommands(pb *PrecomputedBlock, coinbaseReward uint64) ([]AccountDiff, error) {
	var diffs []AccountDiff

	if !pb.CoinbaseReceiver.IsZero() {
		diffs = append(diffs, AccountDiff{
			Kind:      DiffCoinbase,
			PublicKey: pb.CoinbaseReceiver,
			Amount:    coinbaseAmount(coinbaseReward, pb.Supercharged),
		})
	}

	// Fees collect at the coinbase receiver (the producer when no
	// coinbase receiver is named); the paying side is already part of the
	// command's own source debit.
	collector := pb.CoinbaseReceiver
	if collector.IsZero() {
		collector = pb.Producer
	}
	for _, c := range pb.Commands {
		if c.Fee == 0 {
			continue
		}
		diffs = append(diffs, AccountDiff{
			Kind:      DiffFeeTransfer,
			PublicKey: collector,
			Amount:    c.Fee,
		})
	}

	return diffs, nil
}

// coinbaseAmount applies the supercharge doubling rule: a block won with an
// unlocked/untimed winning account mints double the configured base
// reward.
func coinbaseAmount(base uint64, supercharged bool) uint64 {
	if supercharged {
		return base * 2
	}
	return base
}
