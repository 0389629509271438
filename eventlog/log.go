package eventlog

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/chainlabs/indexer/chainerr"
	"github.com/chainlabs/indexer/log"
	"github.com/chainlabs/indexer/storage/database"
)

var logger = log.NewModuleLogger(log.EventLog)

// Log is the durable event sequence over the CFEvents column family.
// seq_num starts at 1 and is never reused; the next value to allocate is
// itself persisted under the reserved NextEventSeqNumKey, so the counter
// lives in the same CF it counts.
type Log struct {
	cf   database.Database
	next uint32
}

// Open attaches a Log to the events column family of store, restoring the
// next sequence number from its reserved key (0 state means "never
// written", so next starts at 1).
func Open(store database.Store) (*Log, error) {
	cf := store.CF(database.CFEvents)
	raw, err := cf.Get([]byte(database.NextEventSeqNumKey))
	if err != nil {
		return nil, chainerr.Wrap(chainerr.StoreCorruption, err, "reading next event seq num")
	}
	next := uint32(1)
	if len(raw) == 4 {
		next = database.DecodeU32(raw)
	} else if len(raw) != 0 {
		return nil, chainerr.New(chainerr.StoreCorruption, "next_event_seq_num has unexpected length")
	}
	return &Log{cf: cf, next: next}, nil
}

// Tail is the last appended seq_num, or 0 if the log is empty.
func (l *Log) Tail() uint32 {
	if l.next == 0 {
		return 0
	}
	return l.next - 1
}

// Append writes event under a fresh seq_num and persists the advanced
// counter in the same batch, so a crash between the two never reuses a
// seq_num. Atomic against reader visibility because both writes land in a
// single Batch.
func (l *Log) Append(batch database.Batch, event Event) (uint32, error) {
	seq := l.next
	entry := Entry{SeqNum: seq, Event: event}
	raw, err := entry.Event.Marshal()
	if err != nil {
		return 0, errors.Wrap(err, "marshaling event")
	}
	if err := batch.Put(database.CFEvents, encodeSeqNum(seq), raw); err != nil {
		return 0, chainerr.Wrap(chainerr.StoreWriteFailed, err, "appending event")
	}
	if err := batch.Put(database.CFEvents, []byte(database.NextEventSeqNumKey), database.EncodeU32(seq+1)); err != nil {
		return 0, chainerr.Wrap(chainerr.StoreWriteFailed, err, "advancing event seq num")
	}
	l.next = seq + 1
	logger.Debug("appended event", "seq_num", seq, "kind", event.Kind.String())
	return seq, nil
}

// Rewind resets the in-memory allocator to resume after tail, discarding
// seq_nums handed out by Appends whose batch never committed. Only safe to
// call when none of those appends became durable (i.e. the whole batch
// failed), which is exactly the StoreWriteFailed rollback path.
func (l *Log) Rewind(tail uint32) {
	l.next = tail + 1
}

// IterFrom returns every entry with seq_num >= from, in order.
func (l *Log) IterFrom(from uint32) ([]Entry, error) {
	it := l.cf.NewIteratorWithPrefix(nil)
	defer it.Release()

	var out []Entry
	for it.Next() {
		key := it.Key()
		if len(key) != 4 {
			// the reserved NextEventSeqNumKey string shares the CF's
			// keyspace; skip anything that isn't a 4-byte seq_num key.
			continue
		}
		seq := database.DecodeU32(key)
		if seq < from {
			continue
		}
		ev, err := UnmarshalEvent(it.Value())
		if err != nil {
			return nil, chainerr.Wrap(chainerr.StoreCorruption, err, "unmarshaling event")
		}
		out = append(out, Entry{SeqNum: seq, Event: ev})
	}
	if err := it.Error(); err != nil {
		return nil, chainerr.Wrap(chainerr.StoreCorruption, err, "iterating event log")
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].SeqNum < entries[j].SeqNum })
}
