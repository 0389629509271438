package bootstrap

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHash(b byte) string {
	var h [32]byte
	h[31] = b
	return hex.EncodeToString(h[:])
}

func writeBlockFile(t *testing.T, dir string, length uint32, self, parent byte) {
	t.Helper()
	name := fmt.Sprintf("testnet-%d-%s.json", length, testHash(self))
	body := fmt.Sprintf(`{"scheduled_time":"0","protocol_state":{"previous_state_hash":%q,"genesis_state_hash":%q,"blockchain_length":"%d","global_slot_since_genesis":"%d"},"staged_ledger_diff":{}}`,
		testHash(parent), testHash(1), length, length)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDiscoverSplitsDeepAndRecent(t *testing.T) {
	dir := t.TempDir()
	for i := byte(1); i <= 20; i++ {
		writeBlockFile(t, dir, uint32(i), i, i-1)
	}

	d, err := Discover(dir, 5)
	require.NoError(t, err)
	require.Len(t, d.DeepCanonical, 15)
	require.Len(t, d.Recent, 5)
	require.Empty(t, d.Orphans)

	for i, ref := range d.DeepCanonical {
		require.EqualValues(t, i+1, ref.Length)
	}
	require.EqualValues(t, 16, d.Recent[0].Length)
	require.EqualValues(t, 20, d.Recent[len(d.Recent)-1].Length)
}

func TestDiscoverClassifiesOrphansAndForks(t *testing.T) {
	dir := t.TempDir()
	for i := byte(1); i <= 20; i++ {
		writeBlockFile(t, dir, uint32(i), i, i-1)
	}
	// a fork block near the tip stays recent; a disconnected old block is
	// an orphan
	writeBlockFile(t, dir, 19, 0xE0, 17)
	writeBlockFile(t, dir, 3, 0xF0, 0xF1)

	d, err := Discover(dir, 5)
	require.NoError(t, err)

	var sawFork bool
	for _, r := range d.Recent {
		if r.StateHash == testHash(0xE0) {
			sawFork = true
		}
	}
	require.True(t, sawFork)
	require.Len(t, d.Orphans, 1)
	require.Equal(t, testHash(0xF0), d.Orphans[0].StateHash)
}

func TestDiscoverShortChainAllRecent(t *testing.T) {
	dir := t.TempDir()
	for i := byte(1); i <= 3; i++ {
		writeBlockFile(t, dir, uint32(i), i, i-1)
	}
	d, err := Discover(dir, 10)
	require.NoError(t, err)
	require.Empty(t, d.DeepCanonical)
	require.Len(t, d.Recent, 3)
}

func TestDiscoverEmptyDir(t *testing.T) {
	d, err := Discover(t.TempDir(), 10)
	require.NoError(t, err)
	require.Empty(t, d.DeepCanonical)
	require.Empty(t, d.Recent)
	require.Empty(t, d.Orphans)
}
