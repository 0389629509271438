// indexerd is the command line interface for the chain indexer: it ingests
// a directory of precomputed block files (and staking ledger snapshots)
// into the fork-aware state engine and can verify a store by replaying its
// event log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/urfave/cli"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/bootstrap"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/config"
	"github.com/chainlabs/indexer/indexer"
	"github.com/chainlabs/indexer/ledger"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/staking"
	"github.com/chainlabs/indexer/storage/database"
)

var logger = log.NewModuleLogger(log.CLI)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file (thresholds, cadence, store paths)",
	}
	storeDirFlag = cli.StringFlag{
		Name:  "store.dir",
		Usage: "KV store directory (overrides config)",
	}
	blocksDirFlag = cli.StringFlag{
		Name:  "blocks.dir",
		Usage: "directory of precomputed block files",
		Value: "./blocks",
	}
	ledgersDirFlag = cli.StringFlag{
		Name:  "ledgers.dir",
		Usage: "directory of staking ledger snapshot files (overrides config)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "indexerd"
	app.Usage = "fork-aware chain indexer"
	app.Commands = []cli.Command{
		{
			Name:   "ingest",
			Usage:  "ingest a directory of precomputed block files",
			Flags:  []cli.Flag{configFlag, storeDirFlag, blocksDirFlag},
			Action: ingest,
		},
		{
			Name:   "stake",
			Usage:  "ingest staking ledger snapshot files",
			Flags:  []cli.Flag{configFlag, storeDirFlag, ledgersDirFlag},
			Action: stake,
		},
		{
			Name:   "replay",
			Usage:  "replay the event log and report the reconstructed state",
			Flags:  []cli.Flag{configFlag, storeDirFlag},
			Action: replay,
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if dir := ctx.String(storeDirFlag.Name); dir != "" {
		cfg.StoreDir = dir
	}
	log.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func openIndexer(cfg config.Config) (*indexer.Indexer, database.Store, error) {
	store, err := database.OpenBadgerStore(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}
	idx, err := indexer.Open(store, cfg, ledger.New())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return idx, store, nil
}

func ingest(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	idx, store, err := openIndexer(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	blocksDir := ctx.String(blocksDirFlag.Name)

	// Cold start over a deep directory: discover the canonical chain and
	// fast-path everything below the threshold boundary.
	var recent []bootstrap.FileRef
	if idx.EventTail() == 0 {
		disc, err := bootstrap.Discover(blocksDir, cfg.MainnetCanonicalThreshold)
		if err != nil {
			return err
		}
		deep, err := parseRefs(disc.DeepCanonical, cfg)
		if err != nil {
			return err
		}
		if err := idx.BootstrapCanonical(deep); err != nil {
			return err
		}
		recent = append(recent, disc.Recent...)
		recent = append(recent, disc.Orphans...)
	} else {
		disc, err := bootstrap.Discover(blocksDir, cfg.MainnetCanonicalThreshold)
		if err != nil {
			return err
		}
		recent = append(recent, disc.DeepCanonical...)
		recent = append(recent, disc.Recent...)
		recent = append(recent, disc.Orphans...)
	}

	blocks := make(chan *block.Block, 64)
	runCtx, cancel := signalContext()
	defer cancel()

	go func() {
		defer close(blocks)
		for _, ref := range recent {
			b, err := parseRef(ref, cfg)
			if err != nil {
				logger.Warn("skipping unparseable block file", "path", ref.Path, "err", err)
				continue
			}
			select {
			case blocks <- b:
			case <-runCtx.Done():
				return
			}
		}
	}()

	if err := idx.Run(runCtx, blocks); err != nil && err != context.Canceled {
		if chainerr.IsFatal(err) {
			logger.Crit("fatal indexer error", "err", err)
		}
		return err
	}
	logger.Info("ingest complete", "event_tail", idx.EventTail())
	return nil
}

func parseRefs(refs []bootstrap.FileRef, cfg config.Config) ([]*block.Block, error) {
	out := make([]*block.Block, 0, len(refs))
	for _, ref := range refs {
		b, err := parseRef(ref, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func parseRef(ref bootstrap.FileRef, cfg config.Config) (*block.Block, error) {
	raw, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, err
	}
	pb, err := block.ParsePrecomputedBlock(filepath.Base(ref.Path), raw)
	if err != nil {
		return nil, err
	}
	return block.Digest(pb, cfg.CoinbaseReward)
}

func stake(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if dir := ctx.String(ledgersDirFlag.Name); dir != "" {
		cfg.StakingLedgerDir = dir
	}
	idx, store, err := openIndexer(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := os.ReadDir(cfg.StakingLedgerDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(cfg.StakingLedgerDir, e.Name()))
		if err != nil {
			return err
		}
		snap, err := staking.ParseSnapshotFile(e.Name(), raw, idx.GenesisStateHash())
		if err != nil {
			logger.Warn("skipping unparseable staking ledger", "name", e.Name(), "err", err)
			continue
		}
		if err := idx.IngestStakingLedger(snap); err != nil {
			return err
		}
		logger.Info("ingested staking ledger", "epoch", snap.Epoch)
	}
	return nil
}

func replay(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	idx, store, err := openIndexer(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if tr := idx.Tree(); tr != nil {
		fmt.Printf("events: %d\nbest tip: %s (length %d)\ncanonical root: %s (length %d)\n",
			idx.EventTail(),
			tr.BestTip().StateHash, tr.BestTip().BlockchainLength,
			tr.CanonicalRoot().StateHash, tr.CanonicalRoot().BlockchainLength)
	} else {
		fmt.Println("event log is empty; nothing to replay")
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
