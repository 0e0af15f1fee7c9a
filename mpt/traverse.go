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
	"golang.org/x/sync/errgroup"
)

// Visitor receives down on entry to a node (pre-order) and up on exit
// (post-order); down returning false prunes that subtree, skipping both
// its children and the matching up call.
type Visitor interface {
	Down(path Nibbles, n *Node) bool
	Up(path Nibbles, n *Node)
}

// Traverse walks version's trie depth-first, blocking synchronously on
// whatever node reads traversal requires (spec.md §4.4 "Traverse:
// blocking or async DFS").
func (t *Trie) Traverse(version uint64, v Visitor) error {
	root, err := t.root(version)
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	return t.traverseNode(root.Path, root, v)
}

func (t *Trie) traverseNode(path Nibbles, n *Node, v Visitor) error {
	if !v.Down(path, n) {
		return nil
	}
	if n.Kind == Branch {
		for i := 0; i < 16; i++ {
			c := n.Children[i]
			if c == nil {
				continue
			}
			child, err := t.resolve(c)
			if err != nil {
				return err
			}
			childPath := Concat(Concat(path, nibbleOf(byte(i))), child.Path)
			if err := t.traverseNode(childPath, child, v); err != nil {
				return err
			}
		}
	}
	v.Up(path, n)
	return nil
}

// TraverseAsync walks version's trie the same way as Traverse but
// resolves sibling subtrees concurrently, bounded by concurrency
// in-flight node reads at a time (spec.md §5 "parallel async traversal,
// concurrency-limited"). Down/Up are still invoked in the same DFS order
// a blocking caller would see: children are fanned out for reading, but
// a child's Down/Up pair is only delivered to v once every one of its
// left siblings has completed, regardless of which read finished first.
func (t *Trie) TraverseAsync(version uint64, v Visitor, concurrency int) error {
	root, err := t.root(version)
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	return t.traverseNodeAsync(root.Path, root, v, g)
}

func (t *Trie) traverseNodeAsync(path Nibbles, n *Node, v Visitor, g *errgroup.Group) error {
	if !v.Down(path, n) {
		return nil
	}
	if n.Kind == Branch {
		type result struct {
			child *Node
			err   error
		}
		// Resolve every present child concurrently (bounded by g's limit)
		// but deliver them to the visitor strictly in nibble order so DFS
		// order is preserved regardless of completion order.
		results := make([]result, 16)
		for i := 0; i < 16; i++ {
			c := n.Children[i]
			if c == nil {
				continue
			}
			i := i
			c := c
			g.Go(func() error {
				child, err := t.resolve(c)
				results[i] = result{child: child, err: err}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			r := results[i]
			if r.err != nil {
				return r.err
			}
			childPath := Concat(Concat(path, nibbleOf(byte(i))), r.child.Path)
			if err := t.traverseNodeAsync(childPath, r.child, v, g); err != nil {
				return err
			}
		}
	}
	v.Up(path, n)
	return nil
}
