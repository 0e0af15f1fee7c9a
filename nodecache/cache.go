// Copyright 2024 The Monad Core Authors
// This file is part of monad-core.
//
// monad-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// monad-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with monad-core. If not, see <http://www.gnu.org/licenses/>.

// Package nodecache implements the bounded, chunk-offset-keyed node
// cache sitting in front of the Storage Pool (spec.md §4.5 "Node Cache").
// Misses for the same offset arriving concurrently from independent
// async traversals are coalesced onto a single disk read rather than
// each issuing their own.
package nodecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/category-labs/monad-core/pool"
)

// Cache is a bounded LRU of decoded nodes keyed by their on-disk offset,
// with inflight-coalescing: concurrent misses for the same offset share
// one underlying load instead of each re-reading the chunk. The
// coalescing table is hand-rolled rather than built on a shared-group
// package, since none of the source material this core is grounded on
// imports one (see DESIGN.md).
type Cache struct {
	lru *lru.Cache[pool.Offset, any]

	mu       sync.Mutex
	inflight map[pool.Offset]*call
}

type call struct {
	done chan struct{}
	val  any
	err  error
}

// New builds a Cache holding up to capacity entries.
func New(capacity int) *Cache {
	c, err := lru.New[pool.Offset, any](capacity)
	if err != nil {
		// capacity<=0 is a caller bug, not a runtime condition.
		panic(err)
	}
	return &Cache{lru: c, inflight: make(map[pool.Offset]*call)}
}

// Get returns the cached value for off, if resident.
func (c *Cache) Get(off pool.Offset) (any, bool) {
	return c.lru.Get(off)
}

// Put inserts or refreshes off's entry.
func (c *Cache) Put(off pool.Offset, v any) {
	c.lru.Add(off, v)
}

// GetOrLoad returns the cached value for off, or calls load exactly once
// among however many goroutines race to request the same off at the
// same time, populating the cache with (and returning) its result to all
// of them (spec.md §4.5 "concurrent async reads of the same offset").
func (c *Cache) GetOrLoad(off pool.Offset, load func() (any, error)) (any, error) {
	if v, ok := c.lru.Get(off); ok {
		return v, nil
	}

	c.mu.Lock()
	if existing, ok := c.inflight[off]; ok {
		c.mu.Unlock()
		<-existing.done
		return existing.val, existing.err
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[off] = cl
	c.mu.Unlock()

	cl.val, cl.err = load()
	if cl.err == nil {
		c.lru.Add(off, cl.val)
	}

	c.mu.Lock()
	delete(c.inflight, off)
	c.mu.Unlock()
	close(cl.done)

	return cl.val, cl.err
}

// Remove evicts off, if present; used when a chunk is reclaimed so a
// stale node can never be served after its backing storage is reused.
func (c *Cache) Remove(off pool.Offset) {
	c.lru.Remove(off)
}
