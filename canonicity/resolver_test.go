package canonicity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/witnesstree"
)

func hash(b byte) common.StateHash {
	var h common.StateHash
	h[len(h)-1] = b
	return h
}

func blk(length uint32, self, parent byte) *block.Block {
	return &block.Block{StateHash: hash(self), ParentHash: hash(parent), BlockchainLength: length}
}

func TestResolverNotReadyBelowThreshold(t *testing.T) {
	tr := witnesstree.New(blk(1, 1, 0), nil, 20)
	for i := byte(2); i <= 8; i++ {
		tr.AddBlock(blk(uint32(i), i, i-1), nil)
	}
	r := NewResolver(10, 2)
	require.False(t, r.Ready(tr))
	promoted, orphaned := r.Resolve(tr)
	require.Nil(t, promoted)
	require.Nil(t, orphaned)
}

func TestResolverPromotesOnceDeepEnough(t *testing.T) {
	tr := witnesstree.New(blk(1, 1, 0), nil, 20)
	for i := byte(2); i <= 13; i++ {
		tr.AddBlock(blk(uint32(i), i, i-1), nil)
	}
	r := NewResolver(10, 2)
	require.True(t, r.Ready(tr))
	promoted, _ := r.Resolve(tr)
	require.NotEmpty(t, promoted)
	require.Equal(t, hash(3), tr.CanonicalRoot().StateHash)
}
