// Package config loads the thresholds, cadence, and storage paths the
// fork-aware state engine is constructed with, from a TOML file via
// naoina/toml struct tags.
package config

import (
	"os"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// Config holds every knob the core needs at construction time. None of it
// is read from global/mutable state at runtime; it is passed explicitly to
// indexer.Open and reconstruct.Reconstruct, which hand its values to the
// components they build (ledger.NewEngine, canonicity.NewResolver,
// witnesstree.New).
type Config struct {
	// NetworkID distinguishes genesis parameters across networks (mainnet,
	// devnet, ...). Opaque to the core beyond being carried in events.
	NetworkID string `toml:"network_id"`

	// MainnetCanonicalThreshold is the depth below best-tip at which a
	// block is safe to declare canonical.
	MainnetCanonicalThreshold uint32 `toml:"canonical_threshold"`
	// CanonicalUpdateThreshold is added to MainnetCanonicalThreshold to
	// form the promotion trigger depth.
	CanonicalUpdateThreshold uint32 `toml:"canonical_update_threshold"`
	// LedgerCadence is the spacing, in canonical blocks, at which
	// materialized ledgers are persisted.
	LedgerCadence uint32 `toml:"ledger_cadence"`
	// AccountCreationFee is deducted from a payment credit that creates a
	// new account.
	AccountCreationFee uint64 `toml:"account_creation_fee"`
	// CoinbaseReward is the base (non-supercharged) coinbase amount; the
	// supercharged flag on a block doubles it.
	CoinbaseReward uint64 `toml:"coinbase_reward"`

	// MaxDangling bounds the side-buffer of orphaned blocks; when
	// exceeded, the oldest entries are dropped and reported. Defaults to
	// 2x MainnetCanonicalThreshold when zero.
	MaxDangling int `toml:"max_dangling"`

	// StoreDir is the KV store's base directory.
	StoreDir string `toml:"store_dir"`
	// StakingLedgerDir holds per-epoch staking ledger snapshot files.
	StakingLedgerDir string `toml:"staking_ledger_dir"`

	// LogLevel configures the root logger (debug|info|warn|error).
	LogLevel string `toml:"log_level"`
}

// Default returns the mainnet-shaped configuration: threshold 10, cadence
// 100, matching the reference constants carried in the design notes.
func Default() Config {
	return Config{
		NetworkID:                 "mainnet",
		MainnetCanonicalThreshold: 10,
		CanonicalUpdateThreshold:  2,
		LedgerCadence:             100,
		AccountCreationFee:        1_000_000_000,
		CoinbaseReward:            720_000_000_000,
		MaxDangling:               20,
		StoreDir:                  "./indexer-db",
		StakingLedgerDir:          "./staking-ledgers",
		LogLevel:                  "info",
	}
}

// PromotionDepth is depth(best_tip) - depth(canonical_root) at which
// promotion triggers.
func (c Config) PromotionDepth() uint32 {
	return c.MainnetCanonicalThreshold + c.CanonicalUpdateThreshold
}

// MaxDanglingOrDefault returns MaxDangling, defaulting to twice the
// canonical threshold when unset.
func (c Config) MaxDanglingOrDefault() int {
	if c.MaxDangling > 0 {
		return c.MaxDangling
	}
	return int(2 * c.MainnetCanonicalThreshold)
}

// Load reads a TOML configuration file, starting from Default() so that
// unset fields keep their mainnet defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config file")
	}
	return cfg, nil
}
