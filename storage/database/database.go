// Copyright 2018 The go-klaytn Authors
// This file is part of the go-klaytn library.
//
// The go-klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package database is the core's view of the persistent KV store: an
// opaque ordered byte-map with column families, atomic write-batches, and
// prefix iterators. The store's own engine internals are out of scope;
// this package only pins down the interface the core depends on, backed
// concretely by badger or an in-memory map for tests.
package database

import "io"

// DBType names the KV engine backing a Database.
type DBType string

const (
	BadgerDB DBType = "badger"
	MemoryDB DBType = "memory"
)

// Putter is the minimal write capability needed to stream key/value pairs
// into the store without caring whether the destination is a live database
// or a write-batch.
type Putter interface {
	Put(key, value []byte) error
}

// Database is a single column family's worth of the KV store: ordered
// key-value access, atomic batches, and prefix iteration.
type Database interface {
	Putter
	Type() DBType
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	NewBatch() Batch
	NewIteratorWithPrefix(prefix []byte) Iterator
	io.Closer
}

// Batch accumulates writes across one or more column families for atomic
// commit; the (block-payload, event, canonicity-index update) triple
// always goes through one Batch per add_block call.
type Batch interface {
	Put(cf string, key, value []byte) error
	Delete(cf string, key []byte) error
	Write() error
	ValueSize() int
	Reset()
}

// Iterator walks a key range in byte order within one CF; the event log
// replays the events CF through it.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Store is the whole KV store: one Database per column family, opened
// together so the core can build an atomic Batch spanning several CFs
// (storage engines without true multi-CF atomicity, like a single badger
// instance with prefixed keys, implement this by running every write of
// a Store.NewBatch batch in one underlying transaction; Put and Delete
// called directly on a Database handle commit on their own).
type Store interface {
	CF(name string) Database
	// NewBatch returns a batch that can Put/Delete across every CF
	// atomically; Write() commits all of them together.
	NewBatch() Batch
	io.Closer
}
