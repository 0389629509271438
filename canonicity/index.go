// Package canonicity implements the persistent canonicity index and the
// promotion decision: given the witness tree after an add_block, decide
// whether promotion is warranted, and keep the durable length->state_hash
// and state_hash->Canonicity maps in sync with it.
package canonicity

import (
	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/storage/database"
)

var logger = log.NewModuleLogger(log.Canonicity)

// Status is a block's canonicity classification.
type Status byte

const (
	Pending Status = iota
	Canonical
	Orphan
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Canonical:
		return "Canonical"
	case Orphan:
		return "Orphan"
	default:
		return "Unknown"
	}
}

// Index is the persistent canonicity index: once a blockchain_length is
// mapped, it is never remapped.
type Index struct {
	byHeight database.Database // CFCanonicalByHeight
	byHash   database.Database // CFCanonicity
}

// Open attaches an Index to the canonicity column families of store.
func Open(store database.Store) *Index {
	return &Index{
		byHeight: store.CF(database.CFCanonicalByHeight),
		byHash:   store.CF(database.CFCanonicity),
	}
}

// CanonicalAt returns the state hash mapped to length, if any.
func (idx *Index) CanonicalAt(length uint32) (common.StateHash, bool, error) {
	raw, err := idx.byHeight.Get(database.EncodeU32(length))
	if err != nil {
		return common.StateHash{}, false, chainerr.Wrap(chainerr.StoreCorruption, err, "reading canonical_by_height")
	}
	if raw == nil {
		return common.StateHash{}, false, nil
	}
	if len(raw) != common.StateHashLength {
		return common.StateHash{}, false, chainerr.New(chainerr.StoreCorruption, "canonical_by_height value has wrong length")
	}
	var h common.StateHash
	copy(h[:], raw)
	return h, true, nil
}

// StatusOf returns the recorded Canonicity of hash, if known.
func (idx *Index) StatusOf(hash common.StateHash) (Status, bool, error) {
	raw, err := idx.byHash.Get(hash[:])
	if err != nil {
		return 0, false, chainerr.Wrap(chainerr.StoreCorruption, err, "reading canonicity status")
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 1 {
		return 0, false, chainerr.New(chainerr.StoreCorruption, "canonicity status has wrong length")
	}
	return Status(raw[0]), true, nil
}

// MarkCanonical records hash as the canonical block at length, in batch.
// A length that already has a different recorded state hash is a fatal
// CanonicityDivergence; replaying the same hash for the same length is a
// no-op, keeping replay idempotent.
func (idx *Index) MarkCanonical(batch database.Batch, length uint32, hash common.StateHash) error {
	existing, ok, err := idx.CanonicalAt(length)
	if err != nil {
		return err
	}
	if ok {
		if existing != hash {
			return chainerr.New(chainerr.CanonicityDivergence, "length already mapped to a different state hash")
		}
		return nil
	}
	if err := batch.Put(database.CFCanonicalByHeight, database.EncodeU32(length), hash[:]); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing canonical_by_height")
	}
	if err := batch.Put(database.CFCanonicity, hash[:], []byte{byte(Canonical)}); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing canonicity status")
	}
	return nil
}

// MarkOrphan records hash as an orphaned (never-canonical) block. Unlike
// MarkCanonical, this is purely informational and never conflicts with a
// later canonical mark of a different length.
func (idx *Index) MarkOrphan(batch database.Batch, hash common.StateHash) error {
	status, ok, err := idx.StatusOf(hash)
	if err != nil {
		return err
	}
	if ok && status == Canonical {
		// Already recorded canonical by an earlier (possibly replayed)
		// pass; never downgrade.
		return nil
	}
	if err := batch.Put(database.CFCanonicity, hash[:], []byte{byte(Orphan)}); err != nil {
		return chainerr.Wrap(chainerr.StoreWriteFailed, err, "writing orphan status")
	}
	return nil
}
