package ledger

import (
	"encoding/json"
	"sort"

	"github.com/chainlabs/indexer/common"
)

// Ledger maps token -> (public_key -> Account). It is a value type: every
// mutating operation returns a new Ledger built by copying only the
// token bucket being touched, leaving every other bucket's map
// shared with the original.
type Ledger struct {
	tokens map[common.TokenAddress]map[common.PublicKey]Account
}

// New returns an empty ledger.
func New() Ledger {
	return Ledger{tokens: make(map[common.TokenAddress]map[common.PublicKey]Account)}
}

// Get looks up the account at (token, pk). The zero Account and false are
// returned when absent.
func (l Ledger) Get(token common.TokenAddress, pk common.PublicKey) (Account, bool) {
	bucket, ok := l.tokens[token]
	if !ok {
		return Account{}, false
	}
	acc, ok := bucket[pk]
	return acc, ok
}

// Entry is one (token, public_key, account) triple.
type Entry struct {
	Token common.TokenAddress
	PK    common.PublicKey
	Acc   Account
}

// Accounts returns every (token, pk, account) triple; used by queries that
// enumerate best-balance or best-account indices, not by the hot apply path.
func (l Ledger) Accounts() []Entry {
	var out []Entry
	for token, bucket := range l.tokens {
		for pk, acc := range bucket {
			out = append(out, Entry{token, pk, acc})
		}
	}
	return out
}

// Marshal serializes the ledger as a flat, deterministically ordered list
// of entries, used both for persisted snapshots (CFLedgers) and as the
// input to the content hash reported in NewLedger events.
func (l Ledger) Marshal() ([]byte, error) {
	entries := l.Accounts()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Token != entries[j].Token {
			return entries[i].Token.String() < entries[j].Token.String()
		}
		return entries[i].PK.String() < entries[j].PK.String()
	})
	return json.Marshal(entries)
}

// Unmarshal parses a ledger encoded by Marshal.
func Unmarshal(data []byte) (Ledger, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Ledger{}, err
	}
	l := New()
	for _, e := range entries {
		l = l.set(e.Token, e.PK, e.Acc)
	}
	return l, nil
}

// With returns a new Ledger with (token, pk) set to acc. Used to build
// genesis ledgers; the accounts it seeds are GenesisCreated and never pay
// the account creation fee.
func (l Ledger) With(token common.TokenAddress, pk common.PublicKey, acc Account) Ledger {
	acc.GenesisCreated = true
	return l.set(token, pk, acc)
}

// set returns a new Ledger with (token, pk) set to acc, copying only the
// affected token bucket.
func (l Ledger) set(token common.TokenAddress, pk common.PublicKey, acc Account) Ledger {
	next := Ledger{tokens: make(map[common.TokenAddress]map[common.PublicKey]Account, len(l.tokens))}
	for t, bucket := range l.tokens {
		next.tokens[t] = bucket
	}
	newBucket := make(map[common.PublicKey]Account, len(l.tokens[token])+1)
	for pk2, acc2 := range l.tokens[token] {
		newBucket[pk2] = acc2
	}
	newBucket[pk] = acc
	next.tokens[token] = newBucket
	return next
}
