package indexer

import "github.com/rcrowley/go-metrics"

var (
	blocksIngestedCounter = metrics.NewRegisteredCounter("indexer/ingest/blocks", nil)
	blocksIgnoredCounter  = metrics.NewRegisteredCounter("indexer/ingest/ignored", nil)
	promotedCounter       = metrics.NewRegisteredCounter("indexer/canonical/promoted", nil)
	orphanedCounter       = metrics.NewRegisteredCounter("indexer/canonical/orphaned", nil)
	commitRetryCounter    = metrics.NewRegisteredCounter("indexer/store/commit_retries", nil)

	treeDepthGauge     = metrics.NewRegisteredGauge("indexer/tree/depth", nil)
	danglingGauge      = metrics.NewRegisteredGauge("indexer/tree/dangling", nil)
	eventTailGauge     = metrics.NewRegisteredGauge("indexer/eventlog/tail", nil)
	bestTipGauge       = metrics.NewRegisteredGauge("indexer/tree/best_tip_length", nil)
	queueDepthGauge    = metrics.NewRegisteredGauge("indexer/ingest/queue_depth", nil)
	ledgersFrozenGauge = metrics.NewRegisteredGauge("indexer/ledgers/frozen", nil)
)
