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

import "github.com/category-labs/monad-core/coreerr"

// Cursor pins the subtree reached by following a key (or key prefix)
// down from some version's root. It is the result type of Find, which
// CopyTrie uses for prefix/subtree lookups.
type Cursor struct {
	Node *Node
}

// Get performs a blocking point lookup of key at version. Every node
// touched that is not already resident is paged in synchronously via
// readDirect (spec.md §5 "blocking: the calling goroutine itself issues
// and waits on reads").
func (t *Trie) Get(key Nibbles, version uint64) ([]byte, error) {
	root, err := t.root(version)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, coreerr.New("mpt.get", coreerr.NotFound, nil)
	}
	val, found, err := t.findValue(root, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, coreerr.New("mpt.get", coreerr.NotFound, nil)
	}
	return val, nil
}

func (t *Trie) findValue(n *Node, key Nibbles) ([]byte, bool, error) {
	matched := CommonPrefixLen(n.Path, key)
	if matched < n.Path.Size() {
		return nil, false, nil
	}
	rem := key.Substr(matched, -1)
	switch n.Kind {
	case Leaf:
		if rem.Size() == 0 {
			return n.Value, true, nil
		}
		return nil, false, nil
	case Branch:
		if rem.Size() == 0 {
			if n.Value != nil {
				return n.Value, true, nil
			}
			return nil, false, nil
		}
		idx := rem.Get(0)
		c := n.Children[idx]
		if c == nil {
			return nil, false, nil
		}
		child, err := t.resolve(c)
		if err != nil {
			return nil, false, err
		}
		return t.findValue(child, rem.Substr(1, -1))
	default:
		return nil, false, nil
	}
}

// Find locates the subtree rooted exactly at prefix within version's
// trie, used by CopyTrie to pin a divergence-free source subtree
// (spec.md §4.5). Unlike Get, prefix need not address a leaf: Find
// returns whatever node the compressed-path walk arrives at once prefix
// is fully consumed, including a node whose own remaining Path extends
// beyond prefix (the caller is copying everything below prefix, so the
// extra suffix nibbles of that node's Path travel with it).
func (t *Trie) Find(prefix Nibbles, version uint64) (*Cursor, error) {
	root, err := t.root(version)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, coreerr.New("mpt.find", coreerr.NotFound, nil)
	}
	return t.findSubtree(root, prefix)
}

func (t *Trie) findSubtree(n *Node, prefix Nibbles) (*Cursor, error) {
	if prefix.Size() == 0 {
		return &Cursor{Node: n}, nil
	}
	matched := CommonPrefixLen(n.Path, prefix)
	if matched < n.Path.Size() {
		if matched == prefix.Size() {
			// prefix is fully consumed partway through n's own compressed
			// path: n (with its remaining suffix) is the whole subtree.
			return &Cursor{Node: cloneWithPath(n, n.Path.Substr(matched, -1), n.Version)}, nil
		}
		return nil, coreerr.New("mpt.find", coreerr.NotFound, nil)
	}
	rem := prefix.Substr(matched, -1)
	if rem.Size() == 0 {
		return &Cursor{Node: cloneWithPath(n, n.Path.Substr(matched, -1), n.Version)}, nil
	}
	if n.Kind != Branch {
		return nil, coreerr.New("mpt.find", coreerr.NotFound, nil)
	}
	idx := rem.Get(0)
	c := n.Children[idx]
	if c == nil {
		return nil, coreerr.New("mpt.find", coreerr.NotFound, nil)
	}
	child, err := t.resolve(c)
	if err != nil {
		return nil, err
	}
	return t.findSubtree(child, rem.Substr(1, -1))
}
