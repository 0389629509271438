package indexer

import (
	"context"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/chainerr"
)

// Run drains blocks until the channel closes or ctx is cancelled, calling
// AddBlock inline. This is the single-writer loop of the concurrency
// model: parallelism belongs upstream (file parsers feeding the channel)
// and downstream (query handlers over the store), never inside it.
// Cancellation between blocks is immediate; a block already being applied
// finishes its batch first.
func (i *Indexer) Run(ctx context.Context, blocks <-chan *block.Block) error {
	for {
		queueDepthGauge.Update(int64(len(blocks)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			if _, err := i.AddBlock(b); err != nil {
				if chainerr.IsFatal(err) {
					return err
				}
				// InvalidBlock / OrphanBlock / UnderflowNotPermitted are
				// per-block conditions: log and continue.
				logger.Warn("block not ingested", "state_hash", b.StateHash.String(),
					"length", b.BlockchainLength, "err", err)
			}
		}
	}
}
