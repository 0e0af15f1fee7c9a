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
	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/pool"
)

// Update is one entry of an Upsert batch: Value==nil means delete.
type Update struct {
	Key   Nibbles
	Value []byte
}

// Upsert applies updates (sorted, unique, spec.md §4.4 precondition) on
// top of baseVersion's trie and publishes the result as newVersion.
// Concurrent Upsert calls are forbidden (spec.md §4.4 "the engine takes a
// unique lock for the duration"); Upsert never suspends once it has taken
// that lock, blocking synchronously on its own node reads (spec.md §5).
//
// Resolves the open question of spec.md §9 ("whether upsert-of-empty
// still advances the version"): an empty update list IS a no-op that
// still advances the version, republishing baseVersion's root offset
// unchanged under newVersion (see DESIGN.md).
func (t *Trie) Upsert(updates []Update, baseVersion, newVersion uint64) (pool.Offset, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	assertSortedUnique(updates)

	baseOffset := pool.Invalid
	if !t.versions.IsEmpty() {
		var err error
		baseOffset, err = t.versions.Root(baseVersion)
		if err != nil {
			return pool.Offset{}, err
		}
	}

	if len(updates) == 0 {
		if err := t.versions.Put(newVersion, baseOffset); err != nil {
			return pool.Offset{}, err
		}
		if n, ok := t.rootCache[baseVersion]; ok {
			t.rootCache[newVersion] = n
		}
		return baseOffset, nil
	}

	root, err := t.root(baseVersion)
	if err != nil {
		return pool.Offset{}, err
	}

	for _, u := range updates {
		root, err = t.applyOne(root, u.Key, u.Value, newVersion)
		if err != nil {
			return pool.Offset{}, err
		}
	}

	if root == nil {
		if err := t.versions.Put(newVersion, pool.Invalid); err != nil {
			return pool.Offset{}, err
		}
		t.rootCache[newVersion] = nil
		return pool.Invalid, nil
	}

	ref, err := t.commitNode(root, newVersion, true /* isRoot: always fast-listed */)
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
	t.rootCache[newVersion] = root
	return ref.Offset, nil
}

func assertSortedUnique(updates []Update) {
	for i := 1; i < len(updates); i++ {
		coreerr.Assert(updates[i-1].Key.Compare(updates[i].Key) < 0,
			"mpt: upsert batch is not strictly sorted/unique at index %d", i)
	}
}

// applyOne inserts or deletes a single key against subtree n, returning
// the replacement subtree (nil if it becomes empty). n is never mutated;
// every node on the path from n to the change is rewritten as a fresh
// *Node, leaving whatever version(s) still reference the old n intact
// (spec.md §4.4 "structural-sharing style").
func (t *Trie) applyOne(n *Node, key Nibbles, value []byte, version uint64) (*Node, error) {
	if n == nil {
		if value == nil {
			return nil, nil // delete of an absent key is a no-op
		}
		return NewLeaf(key, value, version), nil
	}

	matched := CommonPrefixLen(n.Path, key)
	if matched < n.Path.Size() {
		if value == nil {
			return n, nil // deleting a key that cannot exist under n
		}
		return t.splitAtDivergence(n, key, matched, value, version)
	}

	rem := key.Substr(matched, -1)
	switch n.Kind {
	case Leaf:
		if rem.Size() == 0 {
			if value == nil {
				return nil, nil // delete: this leaf is exactly the key
			}
			return NewLeaf(n.Path, value, version), nil
		}
		if value == nil {
			return n, nil // delete of a key not present under this leaf
		}
		return t.splitLeafDeeper(n, rem, value, version)
	case Branch:
		if rem.Size() == 0 {
			return t.applyAtBranchValue(n, value, version)
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
		newChild, err := t.applyOne(child, rem.Substr(1, -1), value, version)
		if err != nil {
			return nil, err
		}
		newN := cloneBranch(n)
		if newChild == nil {
			newN.Mask &^= 1 << uint(idx)
			newN.Children[idx] = nil
		} else {
			newN.Mask |= 1 << uint(idx)
			newN.Children[idx] = &ChildRef{Node: newChild}
		}
		newN.Version = version
		return t.maybeCollapse(newN, version)
	default:
		coreerr.Assert(false, "mpt: applyOne encountered a Deleted node")
		return nil, nil
	}
}

func (t *Trie) applyAtBranchValue(n *Node, value []byte, version uint64) (*Node, error) {
	if value == nil {
		if n.Value == nil {
			return n, nil
		}
		newN := cloneBranch(n)
		newN.Value = nil
		newN.Version = version
		return t.maybeCollapse(newN, version)
	}
	newN := cloneBranch(n)
	newN.Value = value
	newN.Version = version
	return newN, nil
}

// splitLeafDeeper handles inserting a key that strictly extends an
// existing leaf's key: the leaf's value moves up to become the new
// branch's own value, and a fresh leaf holds the new key's tail.
func (t *Trie) splitLeafDeeper(n *Node, rem Nibbles, value []byte, version uint64) (*Node, error) {
	idx := rem.Get(0)
	newLeaf := NewLeaf(rem.Substr(1, -1), value, version)
	branch := NewBranch(n.Path, version)
	branch.Value = n.Value
	branch.Mask = 1 << uint(idx)
	branch.Children[idx] = &ChildRef{Node: newLeaf}
	return branch, nil
}

// splitAtDivergence handles a key that diverges from n's compressed path
// partway through: a new branch is created at the common prefix, with n
// (path-shortened) as one child and the new key's leaf as the other (or
// the new value installed directly on the branch if the new key ends
// exactly at the divergence point).
func (t *Trie) splitAtDivergence(n *Node, key Nibbles, matched int, value []byte, version uint64) (*Node, error) {
	oldNibble := n.Path.Get(matched)
	shortened := cloneWithPath(n, n.Path.Substr(matched+1, -1), version)

	branch := NewBranch(n.Path.Substr(0, matched), version)
	branch.Mask = 1 << uint(oldNibble)
	branch.Children[oldNibble] = &ChildRef{Node: shortened}

	keyRem := key.Substr(matched, -1)
	if keyRem.Size() == 0 {
		branch.Value = value
		return branch, nil
	}
	newNibble := keyRem.Get(0)
	newLeaf := NewLeaf(keyRem.Substr(1, -1), value, version)
	branch.Mask |= 1 << uint(newNibble)
	branch.Children[newNibble] = &ChildRef{Node: newLeaf}
	return branch, nil
}

// maybeCollapse implements spec.md §4.4 step 4: a branch left with
// exactly one child and no value collapses into that child, merging
// paths.
func (t *Trie) maybeCollapse(n *Node, version uint64) (*Node, error) {
	if n.Kind != Branch || n.Value != nil || n.ChildCount() != 1 {
		return n, nil
	}
	idx := n.SoleChildIndex()
	child, err := t.resolve(n.Children[idx])
	if err != nil {
		return nil, err
	}
	merged := Concat(Concat(n.Path, nibbleOf(byte(idx))), child.Path)
	return cloneWithPath(child, merged, version), nil
}

func nibbleOf(v byte) Nibbles {
	n := FromNibbleCount(1)
	n.Set(0, v)
	return n
}

// cloneBranch makes a fresh Branch copy of n so callers can mutate the
// copy without disturbing n, which may still be referenced by an older
// live version.
func cloneBranch(n *Node) *Node {
	cp := &Node{
		Kind:              Branch,
		Path:              n.Path,
		Mask:              n.Mask,
		Value:             n.Value,
		Version:           n.Version,
		SubtrieMinVersion: n.SubtrieMinVersion,
		MinOffsetFast:     pool.Invalid,
		MinOffsetSlow:     pool.Invalid,
	}
	cp.Children = n.Children
	return cp
}

// cloneWithPath copies n's kind/value/children but replaces its path and
// bumps its creation version to reflect that it is being rewritten on
// this upsert's write path (spec.md §4.4 "Each node visited on the write
// path is rewritten"); SubtrieMinVersion is preserved since the subtree's
// actual content is unchanged.
func cloneWithPath(n *Node, path Nibbles, version uint64) *Node {
	cp := &Node{
		Kind:              n.Kind,
		Path:              path,
		Mask:              n.Mask,
		Value:             n.Value,
		Version:           version,
		SubtrieMinVersion: n.SubtrieMinVersion,
		MinOffsetFast:     pool.Invalid,
		MinOffsetSlow:     pool.Invalid,
	}
	cp.Children = n.Children
	return cp
}

// commitNode recursively writes every dirty (in-memory-only) node in
// post-order (children before parents, spec.md §8 "children are written
// before parents") and returns the ChildRef a parent should install. A
// node is "dirty" iff it has no on-disk Offset of its own — every node
// produced by applyOne/splitAtDivergence/maybeCollapse is dirty by
// construction; nodes resolved unchanged from disk already carry a valid
// ChildRef and are returned as-is without rewriting.
//
// Fast/slow placement resolves spec.md §9's open compaction-heuristic
// question: a dirty node whose Version predates the version being
// committed goes to the slow list, every other node to the fast list, and
// isRoot forces the fast list regardless, per spec.md §4.4's explicit
// "root and newest versions go to fast" policy. applyOne,
// splitAtDivergence, splitLeafDeeper, maybeCollapse (via cloneWithPath)
// and the CopyTrie splice helpers all stamp the committed version on the
// nodes they produce, so nodes written by Upsert and CopyTrie land on
// the fast list.
func (t *Trie) commitNode(n *Node, version uint64, isRoot bool) (*ChildRef, error) {
	if n.Kind == Branch {
		minFast, minSlow := n.MinOffsetFast, n.MinOffsetSlow
		minVer := n.Version
		for i := 0; i < 16; i++ {
			c := n.Children[i]
			if c == nil {
				continue
			}
			if c.Node != nil && !c.Offset.IsValid() {
				ref, err := t.commitNode(c.Node, version, false)
				if err != nil {
					return nil, err
				}
				n.Children[i] = ref
				c = ref
			}
			minFast = pool.Min(minFast, c.MinOffsetFast)
			minSlow = pool.Min(minSlow, c.MinOffsetSlow)
			if c.MinVersion < minVer {
				minVer = c.MinVersion
			}
		}
		n.MinOffsetFast, n.MinOffsetSlow = minFast, minSlow
		n.SubtrieMinVersion = minVer
	}

	toSlow := !isRoot && n.Version < version
	return t.writeNode(n, toSlow)
}
