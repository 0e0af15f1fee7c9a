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

import "github.com/category-labs/monad-core/pool"

// CopyTrie grafts the subtree rooted at srcPrefix in srcVersion onto
// destPrefix of destVersion's trie, publishing the result as newVersion.
// Grounded on the original's divergence-point splice mechanics (see
// SPEC_FULL.md §12 "copy_trie"): rather than re-inserting every leaf of
// the source subtree key by key, the source cursor node is spliced in
// directly wherever destPrefix lands, and only the path from the
// destination root down to that splice point is rewritten — the spliced
// subtree's own nodes are untouched and structurally shared between both
// tries from that point on.
func (t *Trie) CopyTrie(srcPrefix Nibbles, srcVersion uint64, destPrefix Nibbles, destVersion, newVersion uint64) (pool.Offset, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	srcCursor, err := t.Find(srcPrefix, srcVersion)
	if err != nil {
		return pool.Offset{}, err
	}

	destRoot, err := t.root(destVersion)
	if err != nil {
		return pool.Offset{}, err
	}

	newRoot, err := t.spliceIn(destRoot, destPrefix, srcCursor.Node, newVersion)
	if err != nil {
		return pool.Offset{}, err
	}

	ref, err := t.commitNode(newRoot, newVersion, true)
	if err != nil {
		return pool.Offset{}, err
	}
	if err := t.cfg.Fast.Sync(); err != nil {
		return pool.Offset{}, err
	}
	if err := t.cfg.Slow.Sync(); err != nil {
		return pool.Offset{}, err
	}
	if err := t.versions.Put(newVersion, ref.Offset); err != nil {
		return pool.Offset{}, err
	}
	t.rootCache[newVersion] = newRoot
	return ref.Offset, nil
}

// spliceIn walks down dest from n along destPrefix, rewriting only the
// nodes on that path, and installs src as the subtree living exactly at
// destPrefix once it is fully consumed. Divergence partway through an
// existing node's compressed path, or an empty destination subtree,
// reuses the same split/insert machinery as a single-key Upsert.
func (t *Trie) spliceIn(n *Node, destPrefix Nibbles, src *Node, version uint64) (*Node, error) {
	if n == nil {
		return cloneWithPath(src, Concat(destPrefix, src.Path), version), nil
	}

	matched := CommonPrefixLen(n.Path, destPrefix)
	if matched < n.Path.Size() {
		if matched == destPrefix.Size() {
			// destPrefix lands strictly inside n's own path: n's subtree
			// sits entirely below the splice point and is fully replaced.
			return cloneWithPath(src, Concat(destPrefix, src.Path), version), nil
		}
		return t.spliceAtDivergence(n, destPrefix, matched, src, version)
	}

	rem := destPrefix.Substr(matched, -1)
	if rem.Size() == 0 {
		return cloneWithPath(src, Concat(n.Path, src.Path), version), nil
	}
	if n.Kind != Branch {
		// n is a Leaf whose path is a strict prefix of destPrefix: convert
		// it into a Branch the same way splitLeafDeeper does, then recurse
		// one level with an empty existing child.
		idx := rem.Get(0)
		branch := NewBranch(n.Path, version)
		branch.Value = n.Value
		newChild, err := t.spliceIn(nil, rem.Substr(1, -1), src, version)
		if err != nil {
			return nil, err
		}
		branch.Mask = 1 << uint(idx)
		branch.Children[idx] = &ChildRef{Node: newChild}
		return branch, nil
	}

	idx := rem.Get(0)
	var child *Node
	var err error
	if n.Children[idx] != nil {
		child, err = t.resolve(n.Children[idx])
		if err != nil {
			return nil, err
		}
	}
	newChild, err := t.spliceIn(child, rem.Substr(1, -1), src, version)
	if err != nil {
		return nil, err
	}
	newN := cloneBranch(n)
	newN.Mask |= 1 << uint(idx)
	newN.Children[idx] = &ChildRef{Node: newChild}
	newN.Version = version
	return newN, nil
}

func (t *Trie) spliceAtDivergence(n *Node, destPrefix Nibbles, matched int, src *Node, version uint64) (*Node, error) {
	oldNibble := n.Path.Get(matched)
	shortened := cloneWithPath(n, n.Path.Substr(matched+1, -1), version)

	branch := NewBranch(n.Path.Substr(0, matched), version)
	branch.Mask = 1 << uint(oldNibble)
	branch.Children[oldNibble] = &ChildRef{Node: shortened}

	destRem := destPrefix.Substr(matched, -1)
	if destRem.Size() == 0 {
		// destPrefix ends exactly at the divergence point: src replaces
		// the branch being built here entirely, merging in its own path.
		return cloneWithPath(src, Concat(branch.Path, src.Path), version), nil
	}
	newNibble := destRem.Get(0)
	newChild, err := t.spliceIn(nil, destRem.Substr(1, -1), src, version)
	if err != nil {
		return nil, err
	}
	branch.Mask |= 1 << uint(newNibble)
	branch.Children[newNibble] = &ChildRef{Node: newChild}
	return branch, nil
}
