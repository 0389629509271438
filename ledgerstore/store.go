// Package ledgerstore implements the incremental ledger engine's storage
// side: persisting full ledger snapshots keyed by state hash, and
// answering point lookups with on-demand reconstruction by folding a
// block's ancestor diffs over the nearest materialized snapshot.
package ledgerstore

import (
	"crypto/sha256"

	"github.com/chainlabs/indexer/canonicity"
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/eventlog"
	"github.com/chainlabs/indexer/ledger"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/storage/database"
	"github.com/chainlabs/indexer/witnesstree"
)

var logger = log.NewModuleLogger(log.LedgerStore)

// Store persists and reconstructs full ledger snapshots.
type Store struct {
	cf     database.Database
	engine ledger.Engine
	cache  common.Cache // state hash -> ledger.Ledger
}

// New builds a Store over the ledgers column family, an account-diff
// engine, and an in-process LRU of recently (re)computed full ledgers.
func New(store database.Store, engine ledger.Engine, cacheSize int) (*Store, error) {
	cache, err := common.NewCache(common.LRUConfig{CacheSize: cacheSize})
	if err != nil {
		return nil, err
	}
	return &Store{cf: store.CF(database.CFLedgers), engine: engine, cache: cache}, nil
}

// SeedRoot primes the cache with the ledger at the witness tree's current
// root, the base case every incremental reconstruction eventually bottoms
// out at. Called when the witness tree is first rooted and again each time
// promotion advances the canonical root.
func (s *Store) SeedRoot(hash common.StateHash, l ledger.Ledger) {
	s.cache.Add(hash, l)
}

// Get reconstructs the ledger at hash: a cache hit or a persisted snapshot
// short-circuits; otherwise the store walks parent pointers in tr
// collecting diffs back to the nearest snapshot, then folds them
// forward.
func (s *Store) Get(tr *witnesstree.Tree, hash common.StateHash) (ledger.Ledger, error) {
	if v, ok := s.cache.Get(hash); ok {
		return v.(ledger.Ledger), nil
	}
	if l, ok, err := s.loadPersisted(hash); err != nil {
		return ledger.Ledger{}, err
	} else if ok {
		s.cache.Add(hash, l)
		return l, nil
	}

	var chain []common.StateHash
	cur := hash
	var base ledger.Ledger
	for {
		if v, ok := s.cache.Get(cur); ok {
			base = v.(ledger.Ledger)
			break
		}
		if l, ok, err := s.loadPersisted(cur); err != nil {
			return ledger.Ledger{}, err
		} else if ok {
			base = l
			break
		}
		chain = append(chain, cur)
		b, ok := tr.Get(cur)
		if !ok {
			return ledger.Ledger{}, chainerr.New(chainerr.StoreCorruption, "cannot reconstruct ledger: ancestor missing from witness tree")
		}
		cur = b.ParentHash
	}

	l := base
	for i := len(chain) - 1; i >= 0; i-- {
		diffs, _ := tr.Diffs(chain[i])
		var err error
		l, err = s.engine.ApplyAll(l, diffs)
		if err != nil {
			return ledger.Ledger{}, err
		}
	}
	s.cache.Add(hash, l)
	return l, nil
}

// GetAtHeight resolves length to a state hash (first via the canonicity
// index, then by scanning the tree's best chain for a still-pending block
// at that height) and reconstructs its ledger.
func (s *Store) GetAtHeight(tr *witnesstree.Tree, idx *canonicity.Index, length uint32) (ledger.Ledger, bool, error) {
	if hash, ok, err := idx.CanonicalAt(length); err != nil {
		return ledger.Ledger{}, false, err
	} else if ok {
		l, err := s.Get(tr, hash)
		return l, err == nil, err
	}
	for _, b := range tr.BestChain() {
		if b.BlockchainLength == length {
			l, err := s.Get(tr, b.StateHash)
			return l, err == nil, err
		}
	}
	return ledger.Ledger{}, false, nil
}

// ShouldPersist reports whether height falls on the ledger cadence
// boundary.
func ShouldPersist(height, cadence uint32) bool {
	return cadence > 0 && height%cadence == 0
}

// Persist materializes l under hash in batch and returns the NewLedger
// event the caller (indexer) should append to the event log in the same
// batch. Also callable outside the cadence for queries that want to avoid
// recomputation.
func (s *Store) Persist(batch database.Batch, hash common.StateHash, length uint32, l ledger.Ledger) (eventlog.Event, error) {
	raw, err := l.Marshal()
	if err != nil {
		return eventlog.Event{}, chainerr.Wrap(chainerr.StoreWriteFailed, err, "marshaling ledger")
	}
	if err := batch.Put(database.CFLedgers, hash[:], raw); err != nil {
		return eventlog.Event{}, chainerr.Wrap(chainerr.StoreWriteFailed, err, "persisting ledger")
	}
	s.cache.Add(hash, l)
	logger.Debug("persisted ledger", "state_hash", hash.String(), "length", length)
	return eventlog.Event{Kind: eventlog.NewLedger, StateHash: hash, Length: length, LedgerHash: contentHash(raw)}, nil
}

func (s *Store) loadPersisted(hash common.StateHash) (ledger.Ledger, bool, error) {
	raw, err := s.cf.Get(hash[:])
	if err != nil {
		return ledger.Ledger{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "reading persisted ledger")
	}
	if raw == nil {
		return ledger.Ledger{}, false, nil
	}
	l, err := ledger.Unmarshal(raw)
	if err != nil {
		return ledger.Ledger{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "decoding persisted ledger")
	}
	return l, true, nil
}

// contentHash derives the opaque LedgerHash carried on NewLedger events
// from the ledger's canonical (sorted) encoding.
func contentHash(encoded []byte) common.LedgerHash {
	return common.LedgerHash(sha256.Sum256(encoded))
}
