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

// Package pool implements the Storage Pool (spec.md §4.1): it chops a set
// of backing files/block-devices into fixed-size chunks and tracks
// free/fast/slow chunk-list membership in memory. metadata.go defines the
// dual-mirrored metadata header format; Pool does not read or write it.
package pool

import (
	"errors"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/google/btree"

	"github.com/category-labs/monad-core/coreerr"
)

// Mode selects how Open behaves with respect to existing pool state.
type Mode uint8

const (
	OpenExisting Mode = iota
	CreateIfNeeded
	Truncate
)

const defaultChunkCapacity = 256 * 1024 * 1024 // 256 MiB, spec.md §4.1

// Config configures a Pool. ChunkCapacity must be a power of two; it
// defaults to 256 MiB but tests are permitted smaller values (spec.md
// §4.1 "Chunk capacity is a fixed power of two default 256 MiB; smaller
// values permitted for tests").
type Config struct {
	BackingSources []string
	Mode           Mode
	ChunkCapacity  datasize.ByteSize
	Logger         log.Logger
}

func (c *Config) capacity() uint32 {
	if c.ChunkCapacity == 0 {
		return defaultChunkCapacity
	}
	return uint32(c.ChunkCapacity.Bytes())
}

// Pool owns a set of backing sources, each chopped into fixed-capacity
// chunks, and the in-memory chunk-list membership of those chunks.
// The pool's mutable tables are protected by one internal mutex (spec.md
// §5 "Shared-resource policy").
type Pool struct {
	mu sync.Mutex

	cfg      Config
	capacity uint32
	logger   log.Logger

	sources []*source
	descs   map[ChunkID]*descriptor // conventional-chunk-resident table
	active  map[activeKey]*Chunk

	// order is an ordered index of chunk descriptors keyed by
	// (list, insertionCount, id): descs is a plain map, whose iteration
	// order Go deliberately randomizes, but list membership needs a
	// deterministic insertion-order walk (ChunksInList for reclamation
	// scans, AllocateFree for picking the oldest free chunk rather than
	// a random one) so tests and reclamation runs are reproducible.
	order *btree.BTreeG[chunkEntry]

	freeCap uint64
}

// chunkEntry is one btree entry in Pool.order.
type chunkEntry struct {
	list           List
	insertionCount uint64
	id             ChunkID
}

func lessChunkEntry(a, b chunkEntry) bool {
	if a.list != b.list {
		return a.list < b.list
	}
	if a.insertionCount != b.insertionCount {
		return a.insertionCount < b.insertionCount
	}
	return a.id < b.id
}

type source struct {
	path   string
	file   *os.File
	size   int64
	nchunk uint32
}

type activeKey struct {
	kind Kind
	id   ChunkID
}

// descriptor is the per-chunk metadata-array entry: which list the chunk
// belongs to and its insertion count within that list.
type descriptor struct {
	list           List
	insertionCount uint64
}

// Open stats each backing source and enumerates chunks: one goes to the
// fast list, one to the slow list, the rest are placed on the free list
// in randomized order "to expose bugs assuming contiguity" (spec.md
// §4.1). It does not read the metadata mirrors, so every Open lays the
// chunks out fresh.
func Open(cfg Config) (*Pool, error) {
	if len(cfg.BackingSources) == 0 {
		return nil, coreerr.New("pool.open", coreerr.CapacityTooSmall, errors.New("no backing sources given"))
	}
	p := &Pool{
		cfg:      cfg,
		capacity: cfg.capacity(),
		logger:   cfg.Logger,
		descs:    make(map[ChunkID]*descriptor),
		active:   make(map[activeKey]*Chunk),
		order:    btree.NewG(32, lessChunkEntry),
	}
	if p.logger == nil {
		p.logger = log.Root()
	}
	if p.capacity == 0 || p.capacity&(p.capacity-1) != 0 {
		return nil, coreerr.New("pool.open", coreerr.CapacityTooSmall, errors.New("chunk capacity must be a power of two"))
	}

	nextID := ChunkID(0)
	for _, path := range cfg.BackingSources {
		flag := os.O_RDWR
		switch cfg.Mode {
		case CreateIfNeeded:
			flag |= os.O_CREATE
		case Truncate:
			flag |= os.O_CREATE | os.O_TRUNC
		}
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			return nil, coreerr.New("pool.open", coreerr.IOFailed, err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, coreerr.New("pool.open", coreerr.IOFailed, err)
		}
		size := fi.Size()
		nchunk := uint32(size) / p.capacity
		src := &source{path: path, file: f, size: size, nchunk: nchunk}
		p.sources = append(p.sources, src)
		for i := uint32(0); i < nchunk; i++ {
			p.descs[nextID] = &descriptor{list: Free}
			nextID++
		}
	}

	total := len(p.descs)
	if total < 2 {
		return nil, coreerr.New("pool.open", coreerr.CapacityTooSmall, errors.New("need at least 2 chunks (1 fast + 1 slow)"))
	}
	p.initFreshLayout()
	return p, nil
}

// initFreshLayout assigns one chunk to fast, one to slow, the remainder to
// free in randomized order. In a persisted deployment this only runs once
// at first-ever Open; re-opens restore the mirrored descriptor table
// instead (elided here: see DESIGN.md for the simplification taken for
// the mirrored on-disk descriptor array versus this in-memory map).
func (p *Pool) initFreshLayout() {
	ids := make([]ChunkID, 0, len(p.descs))
	for id := range p.descs {
		ids = append(ids, id)
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	fastID, slowID := ids[0], ids[1]
	p.descs[fastID] = &descriptor{list: Fast, insertionCount: 0}
	p.descs[slowID] = &descriptor{list: Slow, insertionCount: 0}
	for i, id := range ids[2:] {
		p.descs[id].list = Free
		p.descs[id].insertionCount = uint64(i)
	}
	for id, d := range p.descs {
		p.order.ReplaceOrInsert(chunkEntry{list: d.list, insertionCount: d.insertionCount, id: id})
	}
	p.freeCap = uint64(len(ids)-2) * uint64(p.capacity)
}

// ChunkCapacity returns the configured fixed chunk size.
func (p *Pool) ChunkCapacity() uint32 { return p.capacity }

// sourceFor locates which backing source and local chunk index a global
// ChunkID maps to.
func (p *Pool) sourceFor(id ChunkID) (*source, uint32) {
	idx := uint32(id)
	for _, s := range p.sources {
		if idx < s.nchunk {
			return s, idx
		}
		idx -= s.nchunk
	}
	return nil, 0
}

// ActivateChunk lazily opens file descriptors for id and returns a
// reference-counted handle; repeated activation of the same id shares the
// same *Chunk until the last Release.
func (p *Pool) ActivateChunk(kind Kind, id ChunkID) (*Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := activeKey{kind, id}
	if c, ok := p.active[key]; ok {
		return c.acquire(), nil
	}
	d, ok := p.descs[id]
	if !ok {
		return nil, coreerr.New("pool.activate", coreerr.NotFound, nil)
	}
	src, localIdx := p.sourceFor(id)
	if src == nil {
		return nil, coreerr.New("pool.activate", coreerr.NotFound, errors.New("chunk id out of range"))
	}
	fd := int(src.file.Fd())
	c := &Chunk{
		id:             id,
		kind:           kind,
		capacity:       p.capacity,
		readFD:         fd,
		writeFD:        fd,
		base:           int64(localIdx) * int64(p.capacity),
		insertionCount: d.insertionCount,
		pool:           p,
	}
	c.list.Store(int32(d.list))
	c.refs.Store(1)
	p.active[key] = c
	return c, nil
}

// Chunk returns a handle only if id is already activated.
func (p *Pool) Chunk(kind Kind, id ChunkID) (*Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.active[activeKey{kind, id}]
	if !ok {
		return nil, false
	}
	return c.acquire(), true
}

func (p *Pool) deactivate(c *Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, activeKey{c.kind, c.id})
	// Backing fds are source-owned (one fd per backing file, shared by
	// every chunk within it), so there is nothing further to close here;
	// only the in-process handle is torn down.
}

// Append moves chunk id onto list, updating the in-memory descriptor, the
// list-order index and the free-capacity counter; the metadata mirrors
// are not written.
func (p *Pool) Append(list List, id ChunkID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.descs[id]
	if !ok {
		return coreerr.New("pool.append", coreerr.NotFound, nil)
	}
	if d.list == Free && list != Free {
		p.freeCap -= uint64(p.capacity)
	}
	if d.list != Free && list == Free {
		p.freeCap += uint64(p.capacity)
	}
	p.order.Delete(chunkEntry{list: d.list, insertionCount: d.insertionCount, id: id})
	d.list = list
	d.insertionCount++
	p.order.ReplaceOrInsert(chunkEntry{list: d.list, insertionCount: d.insertionCount, id: id})
	if c, ok := p.active[activeKey{Sequential, id}]; ok {
		c.list.Store(int32(list))
	}
	if c, ok := p.active[activeKey{Conventional, id}]; ok {
		c.list.Store(int32(list))
	}
	return nil
}

// Remove takes id out of its current list and places it on Free,
// rejecting a chunk that is already free (spec.md §8 "Double-free of a
// chunk: rejected via list-membership check").
func (p *Pool) Remove(id ChunkID) error {
	p.mu.Lock()
	d, ok := p.descs[id]
	if !ok {
		p.mu.Unlock()
		return coreerr.New("pool.remove", coreerr.NotFound, nil)
	}
	if d.list == Free {
		p.mu.Unlock()
		return coreerr.New("pool.remove", coreerr.InvariantViolation, errors.New("double free of chunk"))
	}
	p.mu.Unlock()
	return p.Append(Free, id)
}

// FreeCapacity reports the total byte capacity of chunks on the free list.
func (p *Pool) FreeCapacity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCap
}

// AllocateFree removes and returns one chunk from the free list to make it
// available for a node writer, or ok=false if the free list is empty.
// Picks the chunk with the lowest insertion count on the free list (the
// one that has sat free longest) via the ordered index, rather than an
// arbitrary one off map iteration, so chunk reuse is deterministic and
// reproducible across runs with identical history.
func (p *Pool) AllocateFree(kind Kind) (id ChunkID, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var found chunkEntry
	hasFound := false
	p.order.AscendRange(chunkEntry{list: Free}, chunkEntry{list: Free + 1}, func(e chunkEntry) bool {
		found = e
		hasFound = true
		return false
	})
	if !hasFound {
		return 0, false
	}
	d := p.descs[found.id]
	p.order.Delete(found)
	d.list = kind2list(kind)
	d.insertionCount++
	p.order.ReplaceOrInsert(chunkEntry{list: d.list, insertionCount: d.insertionCount, id: found.id})
	p.freeCap -= uint64(p.capacity)
	return found.id, true
}

func kind2list(k Kind) List {
	// AllocateFree is only meaningful for sequential node-data chunks;
	// callers then Append() to the concrete fast/slow list they want.
	if k == Conventional {
		return Fast
	}
	return Fast
}

// RewindToMatch resets every chunk after offset.Chunk on list and
// truncates offset.Chunk's size to offset.Byte, given a canonical
// "end of good data" offset (spec.md §4.1).
func (p *Pool) RewindToMatch(list List, offset Offset) error {
	p.mu.Lock()
	ids := make([]ChunkID, 0)
	for id, d := range p.descs {
		if d.list == list && id > offset.Chunk {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		c, err := p.ActivateChunk(Sequential, id)
		if err != nil {
			return err
		}
		if err := c.DestroyContents(); err != nil {
			c.Release()
			return err
		}
		c.Release()
		if err := p.Remove(id); err != nil {
			return err
		}
	}

	c, err := p.ActivateChunk(Sequential, offset.Chunk)
	if err != nil {
		return err
	}
	defer c.Release()
	c.ResetSize(offset.Byte)
	return nil
}

// ChunksInList returns the ids currently on list in insertion order, for
// callers (the MPT reclamation pass) that need to scan a list's membership
// directly rather than through the active-handle table. Walking the
// ordered index rather than the descriptor map gives a reproducible scan
// order across runs with identical history, instead of whatever order Go's
// randomized map iteration happens to produce.
func (p *Pool) ChunksInList(list List) []ChunkID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]ChunkID, 0)
	p.order.AscendRange(chunkEntry{list: list}, chunkEntry{list: list + 1}, func(e chunkEntry) bool {
		ids = append(ids, e.id)
		return true
	})
	return ids
}

// Reset destroys chunk id's contents and returns that one chunk to the
// free list; called by the MPT engine's reclamation pass (spec.md §4.4
// "Versioning and reclamation") for each chunk it decides to free.
func (p *Pool) Reset(id ChunkID) error {
	c, err := p.ActivateChunk(Sequential, id)
	if err != nil {
		return err
	}
	defer c.Release()
	if err := c.DestroyContents(); err != nil {
		return err
	}
	return p.Remove(id)
}
