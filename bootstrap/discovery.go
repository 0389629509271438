// Package bootstrap implements canonical chain discovery over a directory
// of precomputed block files, used only on first ingestion when the event
// log is empty: it picks a deep canonical chain before the witness tree is
// created, so the bulk of history can bypass the tree entirely.
package bootstrap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/chainlabs/indexer/block"
	"github.com/chainlabs/indexer/log"
)

var logger = log.NewModuleLogger(log.Bootstrap)

// FileRef names one block file on disk, identified without parsing its
// body: length and state hash come from the filename, the parent hash from
// a minimal probe of the file's protocol_state.
type FileRef struct {
	Path       string
	Length     uint32
	StateHash  string
	ParentHash string
}

// Discovery is the three-way split of a block directory: the deep
// canonical prefix of the longest chain (safe to fast-path into the ledger
// store), the recent suffix (within the canonical threshold, fed to the
// witness tree as normal blocks), and everything that belongs to no chain
// of sufficient length.
type Discovery struct {
	DeepCanonical []FileRef // ascending by length
	Recent        []FileRef // ascending by length
	Orphans       []FileRef
}

// parentProbe is the minimal JSON shape needed to pull
// previous_state_hash out of either wire version without a full parse.
type parentProbe struct {
	ProtocolState struct {
		PreviousStateHash string `json:"previous_state_hash"`
	} `json:"protocol_state"`
	Data *struct {
		ProtocolState struct {
			PreviousStateHash string `json:"previous_state_hash"`
		} `json:"protocol_state"`
	} `json:"data"`
}

func probeParentHash(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "reading block file")
	}
	var p parentProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", errors.Wrap(err, "probing block file")
	}
	if p.Data != nil && p.Data.ProtocolState.PreviousStateHash != "" {
		return p.Data.ProtocolState.PreviousStateHash, nil
	}
	return p.ProtocolState.PreviousStateHash, nil
}

// Discover scans dir for block files, groups them by blockchain length,
// and walks forward (BFS over parent-hash links) from the lowest height
// present to find the longest chain. If that chain is at least threshold
// long, its prefix above the top threshold blocks is reported as deep
// canonical; the rest of the chain is recent. Files on no such chain are
// orphans, unless they sit within threshold of the discovered tip, in
// which case they are recent too (a competing fork the witness tree should
// still see).
func Discover(dir string, threshold uint32) (Discovery, error) {
	refs, err := scan(dir)
	if err != nil {
		return Discovery{}, err
	}
	if len(refs) == 0 {
		return Discovery{}, nil
	}

	byHash := make(map[string]FileRef, len(refs))
	children := make(map[string][]string) // parent hash -> child hashes
	minLength := refs[0].Length
	for _, r := range refs {
		byHash[r.StateHash] = r
		children[r.ParentHash] = append(children[r.ParentHash], r.StateHash)
		if r.Length < minLength {
			minLength = r.Length
		}
	}

	// BFS forward from every lowest-height block; the deepest leaf reached
	// identifies the longest chain.
	type visit struct {
		hash  string
		depth uint32
	}
	var frontier []visit
	for _, r := range refs {
		if r.Length == minLength {
			frontier = append(frontier, visit{hash: r.StateHash, depth: 1})
		}
	}
	bestLeaf := frontier[0]
	for len(frontier) > 0 {
		v := frontier[0]
		frontier = frontier[1:]
		if v.depth > bestLeaf.depth || (v.depth == bestLeaf.depth && v.hash > bestLeaf.hash) {
			bestLeaf = v
		}
		for _, child := range children[v.hash] {
			frontier = append(frontier, visit{hash: child, depth: v.depth + 1})
		}
	}

	// Reconstruct the winning chain tip-to-root, then walk it forward
	// through a bounded queue: whatever the queue evicts is deeper than
	// threshold below the tip, hence deep canonical.
	var chainRev []FileRef
	onChain := make(map[string]bool)
	for cur := bestLeaf.hash; ; {
		r, ok := byHash[cur]
		if !ok {
			break
		}
		chainRev = append(chainRev, r)
		onChain[r.StateHash] = true
		cur = r.ParentHash
	}

	var d Discovery
	if uint32(len(chainRev)) >= threshold {
		q := newBoundedQueue(int(threshold))
		for i := len(chainRev) - 1; i >= 0; i-- {
			if evicted, ok := q.push(chainRev[i]); ok {
				d.DeepCanonical = append(d.DeepCanonical, evicted)
			}
		}
		d.Recent = append(d.Recent, q.values()...)
	} else {
		for i := len(chainRev) - 1; i >= 0; i-- {
			d.Recent = append(d.Recent, chainRev[i])
		}
	}

	tipLength := chainRev[0].Length
	var offChain []FileRef
	for _, r := range refs {
		if !onChain[r.StateHash] {
			offChain = append(offChain, r)
		}
	}
	sort.Slice(offChain, func(i, j int) bool { return offChain[i].Length < offChain[j].Length })
	for _, r := range offChain {
		if r.Length+threshold > tipLength {
			d.Recent = append(d.Recent, r)
		} else {
			d.Orphans = append(d.Orphans, r)
		}
	}
	sort.SliceStable(d.Recent, func(i, j int) bool { return d.Recent[i].Length < d.Recent[j].Length })

	logger.Info("discovered canonical chain",
		"files", len(refs), "deep_canonical", len(d.DeepCanonical),
		"recent", len(d.Recent), "orphans", len(d.Orphans), "tip_length", tipLength)
	return d, nil
}

// scan lists every parseable block file under dir, sorted ascending by
// length then state hash so discovery is deterministic across runs.
func scan(dir string) ([]FileRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading block directory")
	}
	var refs []FileRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		length, stateHash, err := block.HeightAndHashFromFilename(e.Name())
		if err != nil {
			logger.Debug("skipping non-block file", "name", e.Name())
			continue
		}
		path := filepath.Join(dir, e.Name())
		parentHash, err := probeParentHash(path)
		if err != nil {
			logger.Warn("skipping unreadable block file", "name", e.Name(), "err", err)
			continue
		}
		refs = append(refs, FileRef{Path: path, Length: length, StateHash: stateHash, ParentHash: parentHash})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Length != refs[j].Length {
			return refs[i].Length < refs[j].Length
		}
		return refs[i].StateHash < refs[j].StateHash
	})
	return refs, nil
}
