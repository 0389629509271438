package canonicity

import (
	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/witnesstree"
)

// Resolver decides, given a witness tree state, whether promotion is
// warranted: depth(best_tip) - depth(canonical_root) >=
// MainnetCanonicalThreshold + CanonicalUpdateThreshold.
type Resolver struct {
	MainnetCanonicalThreshold uint32
	CanonicalUpdateThreshold  uint32
}

func NewResolver(mainnetThreshold, updateThreshold uint32) Resolver {
	return Resolver{MainnetCanonicalThreshold: mainnetThreshold, CanonicalUpdateThreshold: updateThreshold}
}

// Ready reports whether tr has grown deep enough to promote.
func (r Resolver) Ready(tr *witnesstree.Tree) bool {
	return tr.Depth() >= r.MainnetCanonicalThreshold+r.CanonicalUpdateThreshold
}

// Resolve drives the tree's Promote operation when Ready, returning the
// blocks that transitioned Pending -> Canonical (ascending blockchain
// length, so dependent ledger updates happen in order) and the blocks that
// were orphaned as losing siblings along the way. Returns nil, nil when
// promotion is not yet warranted.
func (r Resolver) Resolve(tr *witnesstree.Tree) (promoted, orphaned []*block.Block) {
	if !r.Ready(tr) {
		return nil, nil
	}
	return tr.Promote(r.MainnetCanonicalThreshold)
}
