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

package mpt

import (
	"sync"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/pool"
)

// VersionMap is the bounded dense table of block_number -> root offset
// plus the latest/earliest/finalized/verified watermarks (spec.md §3).
// Capacity is the configured history length; writing past capacity
// evicts the oldest version.
type VersionMap struct {
	mu sync.RWMutex

	capacity uint64
	roots    map[uint64]pool.Offset

	latest, earliest       uint64
	hasAny                 bool
	finalized, verified    uint64
	votedVersion           uint64
	votedBlockID           [32]byte

	onEvict func(version uint64, root pool.Offset)
}

// NewVersionMap constructs an empty map retaining at most capacity
// versions. onEvict, if non-nil, is invoked synchronously for each
// version pushed out of the retention window, after Put has released the
// map's lock, so the trie can walk that
// root's chunks and reclaim any no-longer-referenced ones (spec.md §4.4
// "Versioning and reclamation").
func NewVersionMap(capacity uint64, onEvict func(uint64, pool.Offset)) *VersionMap {
	coreerr.Assert(capacity > 0, "mpt: history_length must be > 0")
	return &VersionMap{capacity: capacity, roots: make(map[uint64]pool.Offset), onEvict: onEvict}
}

// Put records root as version v's root offset, evicting the oldest
// retained version if this would exceed capacity. v must be strictly
// greater than the current latest version (spec.md §6.2 "version-regress").
func (m *VersionMap) Put(v uint64, root pool.Offset) error {
	m.mu.Lock()
	if m.hasAny && v <= m.latest {
		m.mu.Unlock()
		return coreerr.New("mpt.versionmap.put", coreerr.VersionRegress, nil)
	}
	m.roots[v] = root
	m.latest = v
	if !m.hasAny {
		m.earliest = v
		m.hasAny = true
	}
	var evictedVers []uint64
	var evictedRoots []pool.Offset
	for m.latest-m.earliest+1 > m.capacity {
		evictedVers = append(evictedVers, m.earliest)
		evictedRoots = append(evictedRoots, m.roots[m.earliest])
		delete(m.roots, m.earliest)
		m.earliest++
	}
	m.mu.Unlock()
	if m.onEvict != nil {
		for i, ev := range evictedVers {
			m.onEvict(ev, evictedRoots[i])
		}
	}
	return nil
}

// Root returns the root offset recorded for v, or VersionOutOfRange if v
// predates the retention window or postdates latest.
func (m *VersionMap) Root(v uint64) (pool.Offset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasAny || v < m.earliest || v > m.latest {
		return pool.Offset{}, coreerr.New("mpt.versionmap.root", coreerr.VersionOutOfRange, nil)
	}
	return m.roots[v], nil
}

// IsEmpty reports whether no version has ever been recorded, the state a
// freshly opened trie with no data starts in.
func (m *VersionMap) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.hasAny
}

// Latest/Earliest return the current watermarks.
func (m *VersionMap) Latest() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *VersionMap) Earliest() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.earliest
}

// UpdateFinalized/UpdateVerified advance the advisory watermarks
// monotonically (spec.md §6.2); v must not exceed latest.
func (m *VersionMap) UpdateFinalized(v uint64) error { return m.advance(&m.finalized, v) }
func (m *VersionMap) UpdateVerified(v uint64) error  { return m.advance(&m.verified, v) }

func (m *VersionMap) advance(field *uint64, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > m.latest {
		return coreerr.New("mpt.versionmap.advance", coreerr.VersionOutOfRange, nil)
	}
	if v > *field {
		*field = v
	}
	return nil
}

// SetVoted atomically replaces the voted (version, block id) pair.
func (m *VersionMap) SetVoted(v uint64, blockID [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedVersion = v
	m.votedBlockID = blockID
}

// Voted returns the current voted (version, block id) pair.
func (m *VersionMap) Voted() (uint64, [32]byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedVersion, m.votedBlockID
}
