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

// Package mpt implements the versioned Merkle-Patricia Trie engine of
// spec.md §4.4: node format, path compression via nibbles, upsert,
// copy-subtree, traversal, and the root-offset map per version.
package mpt

import (
	"sync"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/ioengine"
	"github.com/category-labs/monad-core/nodecache"
	"github.com/category-labs/monad-core/nodewriter"
	"github.com/category-labs/monad-core/pool"
)

// Config configures a Trie.
type Config struct {
	HistoryLength uint64
	Pool          *pool.Pool
	Fast, Slow    *nodewriter.Writer
	Cache         *nodecache.Cache
	Logger        log.Logger
	// Engine routes node reads through the Async I/O Engine's
	// Sender/Receiver/registered-buffer contract (spec.md §2 "the MPT
	// Engine is built on top of async I/O"), instead of a bare pread. Nil
	// is permitted (falls back to a direct pread, used by statetest
	// fixtures that do not need the registered-buffer path) but a
	// production Trie always supplies one.
	Engine *ioengine.Engine
}

// Trie is the versioned MPT engine. Concurrent upsert calls are
// forbidden (spec.md §4.4 "the engine takes a unique lock for the
// duration"); concurrent readers share root pointers for a given version
// immutably (spec.md §5).
type Trie struct {
	writeMu sync.Mutex

	cfg      Config
	versions *VersionMap
	reader   *reader
	logger   log.Logger

	rootCache map[uint64]*Node // in-memory root for the most recent few versions
}

// New constructs a Trie over cfg. Chunk reclamation runs synchronously
// inside VersionMap.Put whenever a version falls out of the retention
// window (spec.md §4.4 "Versioning and reclamation").
func New(cfg Config) *Trie {
	t := &Trie{cfg: cfg, reader: newReader(cfg.Pool, cfg.Cache, cfg.Engine), logger: cfg.Logger, rootCache: make(map[uint64]*Node)}
	if t.logger == nil {
		t.logger = log.Root()
	}
	t.versions = NewVersionMap(cfg.HistoryLength, t.reclaim)
	return t
}

// reclaim is the VersionMap eviction callback: once a version falls off
// the retention window, any chunk no longer referenced by a surviving
// root's min_offset on either list becomes a candidate for the free list.
// This walks only the two list-wide low-water-marks (the minimum
// min_offset_fast/min_offset_slow across all still-live roots, each root
// read back through the reader) rather than precisely refcounting every
// chunk; every fast-list chunk whose id is below the fast mark, and every
// slow-list chunk whose id is below the slow mark, is reset.
func (t *Trie) reclaim(evictedVersion uint64, evictedRoot pool.Offset) {
	delete(t.rootCache, evictedVersion)
	if !evictedRoot.IsValid() {
		return
	}
	minFast, minSlow := pool.Invalid, pool.Invalid
	for v := t.versions.Earliest(); v <= t.versions.Latest(); v++ {
		root, err := t.versions.Root(v)
		if err != nil || !root.IsValid() {
			continue
		}
		n, err := t.reader.readNode(root)
		if err != nil {
			continue
		}
		minFast = pool.Min(minFast, n.MinOffsetFast)
		minSlow = pool.Min(minSlow, n.MinOffsetSlow)
	}
	if minFast.IsValid() {
		t.freeChunksBelow(pool.Fast, minFast.Chunk)
	}
	if minSlow.IsValid() {
		t.freeChunksBelow(pool.Slow, minSlow.Chunk)
	}
}

func (t *Trie) freeChunksBelow(list pool.List, boundary pool.ChunkID) {
	ids := t.cfg.Pool.ChunksInList(list)
	for _, id := range ids {
		if id < boundary {
			if err := t.cfg.Pool.Reset(id); err != nil {
				t.logger.Debug("mpt: chunk reclamation failed", "chunk", id, "err", err)
			}
		}
	}
}

// EmptyRootHash is the canonical root hash of a trie with no committed
// keys, matching Ethereum's convention of hashing the RLP encoding of an
// empty byte string rather than reporting a zero hash.
var EmptyRootHash = [32]byte(keccak256(mustRLPEncode([]byte{})))

// RootHash returns version's canonical 32-byte root hash. Unlike
// Reference, which may return a node's raw encoding directly when it is
// under 32 bytes (so it can be inlined as a parent's child reference), a
// trie's root is always reported as a genuine hash, never inlined.
func (t *Trie) RootHash(version uint64) ([32]byte, error) {
	n, err := t.root(version)
	if err != nil {
		return [32]byte{}, err
	}
	if n == nil {
		return EmptyRootHash, nil
	}
	ref := n.Reference()
	if isHashRef(ref) {
		var h [32]byte
		copy(h[:], ref[1:])
		return h, nil
	}
	return [32]byte(keccak256(ref)), nil
}

// Latest/Earliest expose the retained version window.
func (t *Trie) Latest() uint64   { return t.versions.Latest() }
func (t *Trie) Earliest() uint64 { return t.versions.Earliest() }

// UpdateFinalizedVersion / UpdateVerifiedVersion advance the advisory
// watermarks (spec.md §6.2).
func (t *Trie) UpdateFinalizedVersion(v uint64) error { return t.versions.UpdateFinalized(v) }
func (t *Trie) UpdateVerifiedVersion(v uint64) error  { return t.versions.UpdateVerified(v) }

// root loads (from the in-process cache or disk) the root Node for v. A
// trie that has never had anything committed has no versions at all yet;
// asking for any version of it yields the empty trie rather than a
// VersionOutOfRange error, so the very first Upsert has something to
// build on.
func (t *Trie) root(v uint64) (*Node, error) {
	if n, ok := t.rootCache[v]; ok {
		return n, nil
	}
	if t.versions.IsEmpty() {
		return nil, nil
	}
	off, err := t.versions.Root(v)
	if err != nil {
		return nil, err
	}
	if !off.IsValid() {
		return nil, nil
	}
	n, err := t.reader.readNode(off)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// writeNode flushes n to the appropriate list's node writer (fast for
// root/recent nodes, slow for compacted/cold nodes — spec.md §4.4's
// policy: "root and newest versions go to fast; compacted nodes go to
// slow") and fills in its ChildRef bookkeeping for the parent that will
// reference it.
func (t *Trie) writeNode(n *Node, toSlow bool) (*ChildRef, error) {
	w := t.cfg.Fast
	if toSlow {
		w = t.cfg.Slow
	}
	encoded := n.Encode()
	off, err := w.Append(encoded)
	if err != nil {
		return nil, err
	}
	minFast, minSlow := n.MinOffsetFast, n.MinOffsetSlow
	if !toSlow {
		minFast = pool.Min(minFast, off)
	} else {
		minSlow = pool.Min(minSlow, off)
	}
	n.MinOffsetFast, n.MinOffsetSlow = minFast, minSlow
	return &ChildRef{
		Offset:        off,
		MinVersion:    n.SubtrieMinVersion,
		MinOffsetFast: minFast,
		MinOffsetSlow: minSlow,
		Ref:           n.Reference(),
		Node:          n,
	}, nil
}

// resolve ensures c.Node is populated, reading from disk (coalesced
// through the Node Cache) if necessary.
func (t *Trie) resolve(c *ChildRef) (*Node, error) {
	if c.Node != nil {
		return c.Node, nil
	}
	coreerr.Assert(c.Offset.IsValid(), "mpt: child has neither a resident node nor a disk offset")
	n, err := t.reader.readNode(c.Offset)
	if err != nil {
		return nil, err
	}
	c.Node = n
	return n, nil
}
