// Package witnesstree implements the in-memory rooted tree of
// non-finalized blocks: an arena of nodes addressed by integer index
// rather than owning parent->child pointers. All edits are index-level;
// nodes_by_hash and diffs_by_hash are plain sibling maps alongside the
// arena.
package witnesstree

import (
	"bytes"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/common"
	"github.com/chainlabs/indexer/log"
)

var logger = log.NewModuleLogger(log.WitnessTree)

// Extension tags how AddBlock changed the tree.
type Extension int

const (
	// Ignored: block already present, or older than the canonical root.
	Ignored Extension = iota
	// DanglingNew: parent unknown; block queued in the side-buffer.
	DanglingNew
	// RootSimple: added as a leaf of an existing node.
	RootSimple
	// RootComplex: added, and one or more side-buffer blocks became
	// reattachable as a result, extending the tree further.
	RootComplex
	// DanglingSimpleReverse: the new block's parent is also unknown, but
	// the new block is itself the parent some side-buffer entries were
	// already waiting for; those entries stay keyed under its hash and the
	// new block joins the side-buffer under its own parent hash, growing
	// the dangling subtree without yet touching the main tree.
	DanglingSimpleReverse
)

func (e Extension) String() string {
	switch e {
	case Ignored:
		return "Ignored"
	case DanglingNew:
		return "DanglingNew"
	case RootSimple:
		return "RootSimple"
	case RootComplex:
		return "RootComplex"
	case DanglingSimpleReverse:
		return "DanglingSimpleReverse"
	default:
		return "Unknown"
	}
}

// node is one arena slot. A nil entry in Tree.nodes marks a removed node
// (pruned or discarded as a losing sibling); compaction is deferred.
type node struct {
	block    *block.Block
	parent   int // -1 for the tree root
	children []int
}

// pending is a side-buffer entry: a block whose parent is not yet known.
type pending struct {
	block *block.Block
	diffs []block.AccountDiff
	seq   uint64 // insertion order, used to evict the oldest on overflow
}

// Tree is the witness tree: every block seen but not yet declared
// permanently canonical, rooted at the last deeply-canonical block.
type Tree struct {
	nodes       []*node
	byHash      map[common.StateHash]int
	diffsByHash map[common.StateHash][]block.AccountDiff

	root          int
	bestTip       int
	canonicalRoot int

	// dangling buffers blocks keyed by the parent hash they're waiting
	// on; maxDangling bounds its total size across all keys.
	dangling    map[common.StateHash][]pending
	danglingLen int
	maxDangling int
	seqCounter  uint64

	droppedDangling int

	// attached records the blocks that joined the tree during the last
	// AddBlock call, in attach order (the new block first, then any
	// side-buffer blocks drained behind it). The ingestion loop persists
	// their payloads and NewBlock events in exactly this order.
	attached []*block.Block
}

// New builds a Tree rooted at root, the deepest block the core has already
// decided is canonical (or the genesis block on a cold start).
func New(root *block.Block, rootDiffs []block.AccountDiff, maxDangling int) *Tree {
	t := &Tree{
		nodes:         []*node{{block: root, parent: -1}},
		byHash:        map[common.StateHash]int{root.StateHash: 0},
		diffsByHash:   map[common.StateHash][]block.AccountDiff{root.StateHash: rootDiffs},
		root:          0,
		bestTip:       0,
		canonicalRoot: 0,
		dangling:      make(map[common.StateHash][]pending),
		maxDangling:   maxDangling,
	}
	return t
}

// Root returns the tree's current root block. It equals CanonicalRoot
// except between a Promote that advances the canonical root and the Prune
// that follows it.
func (t *Tree) Root() *block.Block { return t.nodes[t.root].block }

// BestTip returns the current best-tip block.
func (t *Tree) BestTip() *block.Block { return t.nodes[t.bestTip].block }

// CanonicalRoot returns the oldest node still retained in the tree.
func (t *Tree) CanonicalRoot() *block.Block { return t.nodes[t.canonicalRoot].block }

// Get looks up a block by state hash, among nodes still present in the
// tree (not the side-buffer).
func (t *Tree) Get(hash common.StateHash) (*block.Block, bool) {
	idx, ok := t.byHash[hash]
	if !ok {
		return nil, false
	}
	return t.nodes[idx].block, true
}

// Diffs returns the AccountDiffs recorded for hash, per the tree's
// diffs_by_hash map.
func (t *Tree) Diffs(hash common.StateHash) ([]block.AccountDiff, bool) {
	d, ok := t.diffsByHash[hash]
	return d, ok
}

// BestChain returns the path from CanonicalRoot to BestTip, inclusive,
// ascending by height.
func (t *Tree) BestChain() []*block.Block {
	var rev []*block.Block
	idx := t.bestTip
	for {
		rev = append(rev, t.nodes[idx].block)
		if idx == t.canonicalRoot {
			break
		}
		idx = t.nodes[idx].parent
	}
	out := make([]*block.Block, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}

// DanglingCount reports the current side-buffer size, for metrics.
func (t *Tree) DanglingCount() int { return t.danglingLen }

// DroppedDangling reports how many side-buffer entries have been evicted
// for exceeding maxDangling, for metrics/reporting.
func (t *Tree) DroppedDangling() int { return t.droppedDangling }

// Attached returns the blocks that joined the tree during the most recent
// AddBlock call, in attach order. Empty for Ignored, DanglingNew, and
// DanglingSimpleReverse outcomes.
func (t *Tree) Attached() []*block.Block { return t.attached }

// AddBlock inserts b into the tree (or the side-buffer, if its parent is
// unknown), recomputes the best tip, and reports how the tree changed.
func (t *Tree) AddBlock(b *block.Block, diffs []block.AccountDiff) Extension {
	t.attached = nil
	if _, exists := t.byHash[b.StateHash]; exists {
		return Ignored
	}
	if t.hasDangling(b.StateHash) {
		return Ignored
	}
	if b.BlockchainLength <= t.nodes[t.canonicalRoot].block.BlockchainLength {
		return Ignored
	}

	parentIdx, knownParent := t.byHash[b.ParentHash]
	if !knownParent {
		_, waitedOn := t.dangling[b.StateHash]
		t.pushDangling(b.ParentHash, pending{block: b, diffs: diffs})
		if waitedOn {
			return DanglingSimpleReverse
		}
		return DanglingNew
	}

	t.attach(parentIdx, b, diffs)
	t.recomputeBestTip()
	if t.drainDangling(b.StateHash) {
		return RootComplex
	}
	return RootSimple
}

// attach links b as a new child of parentIdx.
func (t *Tree) attach(parentIdx int, b *block.Block, diffs []block.AccountDiff) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, &node{block: b, parent: parentIdx})
	t.nodes[parentIdx].children = append(t.nodes[parentIdx].children, idx)
	t.byHash[b.StateHash] = idx
	t.diffsByHash[b.StateHash] = diffs
	t.attached = append(t.attached, b)
	return idx
}

// Clone deep-copies the tree, side-buffer included. The ingestion loop
// edits a clone, commits its write batch, and only then swaps the clone in
// for the live tree, so a failed commit leaves the original untouched
// (the draft-and-swap discipline of the concurrency model).
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:           make([]*node, len(t.nodes)),
		byHash:          make(map[common.StateHash]int, len(t.byHash)),
		diffsByHash:     make(map[common.StateHash][]block.AccountDiff, len(t.diffsByHash)),
		root:            t.root,
		bestTip:         t.bestTip,
		canonicalRoot:   t.canonicalRoot,
		dangling:        make(map[common.StateHash][]pending, len(t.dangling)),
		danglingLen:     t.danglingLen,
		maxDangling:     t.maxDangling,
		seqCounter:      t.seqCounter,
		droppedDangling: t.droppedDangling,
	}
	for i, n := range t.nodes {
		if n == nil {
			continue
		}
		c.nodes[i] = &node{block: n.block, parent: n.parent, children: append([]int(nil), n.children...)}
	}
	for h, idx := range t.byHash {
		c.byHash[h] = idx
	}
	for h, d := range t.diffsByHash {
		c.diffsByHash[h] = d
	}
	for h, ws := range t.dangling {
		c.dangling[h] = append([]pending(nil), ws...)
	}
	return c
}

// drainDangling attaches every side-buffer entry waiting on parentHash,
// recursively attaching their own waiters in turn (BFS over the
// side-buffer). Reports whether anything was drained.
func (t *Tree) drainDangling(parentHash common.StateHash) bool {
	waiters, ok := t.dangling[parentHash]
	if !ok {
		return false
	}
	delete(t.dangling, parentHash)
	t.danglingLen -= len(waiters)

	for _, w := range waiters {
		parentIdx := t.byHash[parentHash]
		idx := t.attach(parentIdx, w.block, w.diffs)
		t.drainDangling(t.nodes[idx].block.StateHash)
	}
	t.recomputeBestTip()
	return true
}

func (t *Tree) hasDangling(hash common.StateHash) bool {
	for _, ws := range t.dangling {
		for _, w := range ws {
			if w.block.StateHash == hash {
				return true
			}
		}
	}
	return false
}

// pushDangling buffers p under parentHash, evicting the globally oldest
// side-buffer entry if maxDangling would be exceeded.
func (t *Tree) pushDangling(parentHash common.StateHash, p pending) {
	t.seqCounter++
	p.seq = t.seqCounter
	t.dangling[parentHash] = append(t.dangling[parentHash], p)
	t.danglingLen++
	if t.maxDangling > 0 && t.danglingLen > t.maxDangling {
		t.evictOldestDangling()
	}
}

func (t *Tree) evictOldestDangling() {
	var oldestKey common.StateHash
	var oldestSeq uint64 = ^uint64(0)
	oldestIdx := -1
	for key, ws := range t.dangling {
		for i, w := range ws {
			if w.seq < oldestSeq {
				oldestSeq = w.seq
				oldestKey = key
				oldestIdx = i
			}
		}
	}
	if oldestIdx < 0 {
		return
	}
	ws := t.dangling[oldestKey]
	dropped := ws[oldestIdx]
	ws = append(ws[:oldestIdx], ws[oldestIdx+1:]...)
	if len(ws) == 0 {
		delete(t.dangling, oldestKey)
	} else {
		t.dangling[oldestKey] = ws
	}
	t.danglingLen--
	t.droppedDangling++
	logger.Warn("dropping oldest dangling block", "state_hash", dropped.block.StateHash.String(), "length", dropped.block.BlockchainLength)
}

// recomputeBestTip re-scans every leaf and applies the best-tip
// tie-break: greatest blockchain length, then greatest VRF output as
// big-endian bytes, then greatest state hash (a total, stable order since
// no two blocks share a state hash).
func (t *Tree) recomputeBestTip() {
	best := -1
	for idx, n := range t.nodes {
		if n == nil || len(n.children) != 0 {
			continue
		}
		if best == -1 || better(n.block, t.nodes[best].block) {
			best = idx
		}
	}
	if best != -1 {
		t.bestTip = best
	}
}

// better reports whether a should be preferred over b as best tip.
func better(a, b *block.Block) bool {
	if a.BlockchainLength != b.BlockchainLength {
		return a.BlockchainLength > b.BlockchainLength
	}
	if c := bytes.Compare(a.VrfOutput, b.VrfOutput); c != 0 {
		return c > 0
	}
	return b.StateHash.Less(a.StateHash)
}

// Depth is depth(best_tip) - depth(canonical_root), the quantity the
// canonicity resolver compares against its promotion threshold.
func (t *Tree) Depth() uint32 {
	return t.nodes[t.bestTip].block.BlockchainLength - t.nodes[t.canonicalRoot].block.BlockchainLength
}

// Promote advances canonical_root up to threshold steps back from the
// current best tip. Callers (canonicity.Resolver)
// are responsible for checking the promotion condition first; Promote
// itself performs the walk-back, discards losing siblings along the path,
// and returns the newly canonical blocks in ascending-length order plus
// the siblings that were orphaned in the process.
func (t *Tree) Promote(threshold uint32) (promoted []*block.Block, orphaned []*block.Block) {
	newRootIdx := t.bestTip
	for i := uint32(0); i < threshold; i++ {
		if t.nodes[newRootIdx].parent == -1 {
			break
		}
		newRootIdx = t.nodes[newRootIdx].parent
	}
	if newRootIdx == t.canonicalRoot {
		return nil, nil
	}

	var path []int
	for idx := newRootIdx; idx != t.canonicalRoot; idx = t.nodes[idx].parent {
		path = append(path, idx)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	for _, idx := range path {
		parentIdx := t.nodes[idx].parent
		for _, siblingIdx := range t.nodes[parentIdx].children {
			if siblingIdx == idx {
				continue
			}
			orphaned = append(orphaned, t.collectSubtree(siblingIdx)...)
			t.removeSubtree(siblingIdx)
		}
		t.nodes[parentIdx].children = []int{idx}
		promoted = append(promoted, t.nodes[idx].block)
	}

	t.canonicalRoot = newRootIdx
	return promoted, orphaned
}

// collectSubtree returns every block rooted at idx, used to report the
// full set of blocks orphaned when a losing sibling is discarded.
func (t *Tree) collectSubtree(idx int) []*block.Block {
	if t.nodes[idx] == nil {
		return nil
	}
	out := []*block.Block{t.nodes[idx].block}
	for _, c := range t.nodes[idx].children {
		out = append(out, t.collectSubtree(c)...)
	}
	return out
}

// removeSubtree drops idx and every descendant from the arena's indices
// (nodes_by_hash, diffs_by_hash); the arena slots themselves are left nil
// rather than compacted.
func (t *Tree) removeSubtree(idx int) {
	if t.nodes[idx] == nil {
		return
	}
	for _, c := range t.nodes[idx].children {
		t.removeSubtree(c)
	}
	hash := t.nodes[idx].block.StateHash
	delete(t.byHash, hash)
	delete(t.diffsByHash, hash)
	t.nodes[idx] = nil
}

// Prune removes arena bookkeeping strictly older than canonical_root
// (everything on the path from the old root to the new canonical_root,
// excluding canonical_root itself). Promote already
// discards losing siblings; Prune additionally drops the now-superseded
// ancestors of canonical_root once no side-buffer entry still needs them
// as a parent reference.
func (t *Tree) Prune() {
	for idx := t.root; idx != t.canonicalRoot && idx != -1; {
		n := t.nodes[idx]
		if n == nil {
			break
		}
		next := -1
		for _, c := range n.children {
			if c == t.canonicalRoot || t.isAncestorOf(c, t.canonicalRoot) {
				next = c
				break
			}
		}
		if t.referencedByDangling(n.block.StateHash) {
			break
		}
		hash := n.block.StateHash
		delete(t.byHash, hash)
		delete(t.diffsByHash, hash)
		t.nodes[idx] = nil
		if next == -1 {
			break
		}
		idx = next
	}
	t.root = t.canonicalRoot
	t.nodes[t.canonicalRoot].parent = -1
}

func (t *Tree) isAncestorOf(ancestorIdx, descendantIdx int) bool {
	for idx := descendantIdx; idx != -1; idx = t.nodes[idx].parent {
		if idx == ancestorIdx {
			return true
		}
	}
	return false
}

func (t *Tree) referencedByDangling(hash common.StateHash) bool {
	_, ok := t.dangling[hash]
	return ok
}
