package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainlabs/indexer/storage/database"
)

func TestAppendAndIterFrom(t *testing.T) {
	store := database.NewMemoryStore()
	l, err := Open(store)
	require.NoError(t, err)
	require.EqualValues(t, 0, l.Tail())

	var hash [32]byte
	hash[0] = 1

	for i := uint32(1); i <= 3; i++ {
		batch := store.NewBatch()
		seq, err := l.Append(batch, Event{Kind: NewBlock, Length: i})
		require.NoError(t, err)
		require.Equal(t, i, seq)
		require.NoError(t, batch.Write())
	}
	require.EqualValues(t, 3, l.Tail())

	entries, err := l.IterFrom(1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, uint32(i+1), e.SeqNum)
		require.Equal(t, uint32(i+1), e.Event.Length)
	}

	entries, err = l.IterFrom(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 2, entries[0].SeqNum)
}

func TestSeqNumSurvivesReopen(t *testing.T) {
	store := database.NewMemoryStore()
	l, err := Open(store)
	require.NoError(t, err)

	batch := store.NewBatch()
	_, err = l.Append(batch, Event{Kind: NewBlock, Length: 1})
	require.NoError(t, err)
	require.NoError(t, batch.Write())

	l2, err := Open(store)
	require.NoError(t, err)
	require.EqualValues(t, 1, l2.Tail())

	batch = store.NewBatch()
	seq, err := l2.Append(batch, Event{Kind: NewBlock, Length: 2})
	require.NoError(t, err)
	require.EqualValues(t, 2, seq)
}
