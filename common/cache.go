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

package common

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

// Cache memoizes values derived from content-addressed state, keyed by
// state hash. Derived values (reconstructed ledgers, most prominently) are
// expensive to recompute but cheap to re-derive from the store on a miss,
// so eviction is always safe.
type Cache interface {
	Add(key StateHash, value interface{}) (evicted bool)
	Get(key StateHash) (value interface{}, ok bool)
	Contains(key StateHash) bool
	Purge()
}

// CacheConfiger selects and sizes a Cache implementation.
type CacheConfiger interface {
	newCache() (Cache, error)
}

// NewCache builds the cache described by config.
func NewCache(config CacheConfiger) (Cache, error) {
	if config == nil {
		return nil, errors.New("cache config is nil")
	}
	return config.newCache()
}

// LRUConfig describes a fixed-size LRU cache holding CacheSize entries.
type LRUConfig struct {
	CacheSize int
}

func (c LRUConfig) newCache() (Cache, error) {
	inner, err := lru.New(c.CacheSize)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: inner}, nil
}

type lruCache struct {
	lru *lru.Cache
}

func (c *lruCache) Add(key StateHash, value interface{}) (evicted bool) {
	return c.lru.Add(key, value)
}

func (c *lruCache) Get(key StateHash) (value interface{}, ok bool) {
	return c.lru.Get(key)
}

func (c *lruCache) Contains(key StateHash) bool {
	return c.lru.Contains(key)
}

func (c *lruCache) Purge() {
	c.lru.Purge()
}
