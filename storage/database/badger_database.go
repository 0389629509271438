// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package database

import (
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/chainlabs/indexer/log"
)

const gcThreshold = int64(1 << 30) // 1GB
const sizeGCTickerTime = 1 * time.Minute

var logger = log.NewModuleLogger(log.StorageDB)

// badgerStore is a Store backed by a single badger.DB. Column families are
// emulated as key-prefixed ranges within the shared keyspace, the same
// usual scheme for multiplexing one badger DB behind several logical
// tables. Because badger v1 offers no native CF concept,
// every CF write for one logical operation is folded into a single
// badger.Txn so the commit is atomic across CFs: the (block, event,
// canonicity) triple commits as one batch.
type badgerStore struct {
	fn string
	db *badger.DB

	gcTicker *time.Ticker
}

func getBadgerDBDefaultOption(dbDir string) badger.Options {
	opts := badger.DefaultOptions(dbDir)
	opts.ValueDir = dbDir
	return opts
}

// OpenBadgerStore opens (creating if necessary) a badger-backed Store at
// dbDir.
func OpenBadgerStore(dbDir string) (Store, error) {
	if fi, err := os.Stat(dbDir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("failed to open badger store: %q is not a directory", dbDir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger store dir %q: %w", dbDir, err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat badger store dir %q: %w", dbDir, err)
	}

	opts := getBadgerDBDefaultOption(dbDir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	s := &badgerStore{
		fn:       dbDir,
		db:       db,
		gcTicker: time.NewTicker(sizeGCTickerTime),
	}
	go s.runValueLogGC()
	return s, nil
}

// runValueLogGC periodically reclaims badger's value log once it has grown
// past gcThreshold since the last pass.
func (s *badgerStore) runValueLogGC() {
	_, lastValueLogSize := s.db.Size()
	for range s.gcTicker.C {
		_, currValueLogSize := s.db.Size()
		if currValueLogSize-lastValueLogSize < gcThreshold {
			continue
		}
		if err := s.db.RunValueLogGC(0.5); err != nil {
			logger.Warn("value log gc skipped", "err", err)
			continue
		}
		_, lastValueLogSize = s.db.Size()
	}
}

func cfKey(cf string, key []byte) []byte {
	b := make([]byte, 0, len(cf)+1+len(key))
	b = append(b, cf...)
	b = append(b, ':')
	b = append(b, key...)
	return b
}

func (s *badgerStore) CF(name string) Database {
	return &badgerCF{store: s, name: name}
}

func (s *badgerStore) Close() error {
	s.gcTicker.Stop()
	err := s.db.Close()
	if err != nil {
		logger.Error("failed to close badger store", "err", err)
		return err
	}
	logger.Info("badger store closed")
	return nil
}

func (s *badgerStore) NewBatch() Batch {
	return &badgerBatch{db: s.db, txn: s.db.NewTransaction(true)}
}

// badgerCF is a single column family's view over the shared badgerStore.
type badgerCF struct {
	store *badgerStore
	name  string
}

func (c *badgerCF) Type() DBType { return BadgerDB }

func (c *badgerCF) key(k []byte) []byte { return cfKey(c.name, k) }

func (c *badgerCF) Put(key, value []byte) error {
	return c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(key), value)
	})
}

func (c *badgerCF) Has(key []byte) (bool, error) {
	var found bool
	err := c.store.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(c.key(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (c *badgerCF) Get(key []byte) ([]byte, error) {
	var out []byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return out, err
}

func (c *badgerCF) Delete(key []byte) error {
	return c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(key))
	})
}

func (c *badgerCF) NewBatch() Batch {
	return &cfBatch{inner: c.store.NewBatch(), cf: c.name}
}

func (c *badgerCF) NewIteratorWithPrefix(prefix []byte) Iterator {
	txn := c.store.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	full := c.key(prefix)
	it.Seek(full)
	return &badgerIterator{txn: txn, it: it, prefix: full}
}

func (c *badgerCF) Close() error { return nil }

// cfBatch adapts the cross-CF Batch to the single-CF Putter/Batch surface
// Database.NewBatch promises, for callers that only ever touch one CF.
type cfBatch struct {
	inner Batch
	cf    string
}

func (b *cfBatch) Put(_ string, key, value []byte) error { return b.inner.Put(b.cf, key, value) }
func (b *cfBatch) Delete(_ string, key []byte) error     { return b.inner.Delete(b.cf, key) }
func (b *cfBatch) Write() error                          { return b.inner.Write() }
func (b *cfBatch) ValueSize() int                        { return b.inner.ValueSize() }
func (b *cfBatch) Reset()                                { b.inner.Reset() }

// badgerBatch is a cross-CF atomic write-batch backed by a single badger
// transaction; CF names are folded into the key the same way point reads
// are, so one Write() commits every CF's pending writes together.
type badgerBatch struct {
	db   *badger.DB
	txn  *badger.Txn
	size int
}

func (b *badgerBatch) Put(cf string, key, value []byte) error {
	err := b.txn.Set(cfKey(cf, key), value)
	b.size += len(value)
	return err
}

func (b *badgerBatch) Delete(cf string, key []byte) error {
	return b.txn.Delete(cfKey(cf, key))
}

func (b *badgerBatch) Write() error {
	return b.txn.Commit()
}

func (b *badgerBatch) ValueSize() int { return b.size }

func (b *badgerBatch) Reset() {
	b.txn = b.db.NewTransaction(true)
	b.size = 0
}

// badgerIterator walks keys under a CF-qualified prefix in byte order,
// presenting caller-relative keys with the "cf:" prefix stripped.
type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	key     []byte
	value   []byte
	err     error
}

func (it *badgerIterator) Next() bool {
	if !it.started {
		it.started = true
	} else {
		it.it.Next()
	}
	if !it.it.ValidForPrefix(it.prefix) {
		return false
	}
	item := it.it.Item()
	it.key = append([]byte(nil), item.Key()[len(it.prefix):]...)
	v, err := item.ValueCopy(nil)
	if err != nil {
		it.err = err
		return false
	}
	it.value = v
	return true
}

func (it *badgerIterator) Key() []byte   { return it.key }
func (it *badgerIterator) Value() []byte { return it.value }
func (it *badgerIterator) Error() error  { return it.err }
func (it *badgerIterator) Release() {
	it.it.Close()
	it.txn.Discard()
}
