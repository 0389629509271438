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
	"bytes"
	"sort"
	"sync"
)

// memoryStore is a hermetic, in-process Store, the equivalent of the
// hermetic in-memory backend used throughout the test suite. Used by the
// indexer's own tests so scenarios S1-S6 don't touch the filesystem.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns a Store that keeps everything in a single guarded
// map; column families are key-prefixed exactly as in badgerStore, so tests
// exercise the same key-encoding path as production.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) CF(name string) Database {
	return &memoryCF{store: s, name: name}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) NewBatch() Batch {
	return &memoryBatch{store: s, pending: make(map[string][]byte), deleted: make(map[string]bool)}
}

type memoryCF struct {
	store *memoryStore
	name  string
}

func (c *memoryCF) Type() DBType { return MemoryDB }

func (c *memoryCF) key(k []byte) []byte { return cfKey(c.name, k) }

func (c *memoryCF) Put(key, value []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.data[string(c.key(key))] = append([]byte(nil), value...)
	return nil
}

func (c *memoryCF) Has(key []byte) (bool, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	_, ok := c.store.data[string(c.key(key))]
	return ok, nil
}

func (c *memoryCF) Get(key []byte) ([]byte, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	v, ok := c.store.data[string(c.key(key))]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (c *memoryCF) Delete(key []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.data, string(c.key(key)))
	return nil
}

func (c *memoryCF) NewBatch() Batch {
	return &cfBatch{inner: c.store.NewBatch(), cf: c.name}
}

func (c *memoryCF) NewIteratorWithPrefix(prefix []byte) Iterator {
	full := c.key(prefix)
	c.store.mu.RLock()
	keys := make([]string, 0)
	for k := range c.store.data {
		if bytes.HasPrefix([]byte(k), full) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, [2][]byte{
			append([]byte(nil), []byte(k)[len(full):]...),
			append([]byte(nil), c.store.data[k]...),
		})
	}
	c.store.mu.RUnlock()
	return &memoryIterator{entries: entries, idx: -1}
}

func (c *memoryCF) Close() error { return nil }

// memoryBatch buffers writes and applies them to the store atomically
// (under a single mutex critical section) on Write().
type memoryBatch struct {
	store   *memoryStore
	pending map[string][]byte
	deleted map[string]bool
	size    int
}

func (b *memoryBatch) Put(cf string, key, value []byte) error {
	k := string(cfKey(cf, key))
	b.pending[k] = append([]byte(nil), value...)
	delete(b.deleted, k)
	b.size += len(value)
	return nil
}

func (b *memoryBatch) Delete(cf string, key []byte) error {
	k := string(cfKey(cf, key))
	b.deleted[k] = true
	delete(b.pending, k)
	return nil
}

func (b *memoryBatch) Write() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for k, v := range b.pending {
		b.store.data[k] = v
	}
	for k := range b.deleted {
		delete(b.store.data, k)
	}
	return nil
}

func (b *memoryBatch) ValueSize() int { return b.size }

func (b *memoryBatch) Reset() {
	b.pending = make(map[string][]byte)
	b.deleted = make(map[string]bool)
	b.size = 0
}

type memoryIterator struct {
	entries [][2][]byte
	idx     int
}

func (it *memoryIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *memoryIterator) Key() []byte   { return it.entries[it.idx][0] }
func (it *memoryIterator) Value() []byte { return it.entries[it.idx][1] }
func (it *memoryIterator) Error() error  { return nil }
func (it *memoryIterator) Release()      {}
