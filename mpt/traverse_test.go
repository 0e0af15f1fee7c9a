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
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingVisitor struct {
	downPaths []string
}

func (v *recordingVisitor) Down(path Nibbles, n *Node) bool {
	v.downPaths = append(v.downPaths, path.Hex())
	return true
}

func (v *recordingVisitor) Up(path Nibbles, n *Node) {}

func TestTraverseVisitsEveryLeafInOrder(t *testing.T) {
	trie := newTestTrie(t, 16)

	_, err := trie.Upsert([]Update{
		{Key: FromBytes([]byte{0x10}), Value: []byte("a")},
		{Key: FromBytes([]byte{0x20}), Value: []byte("b")},
		{Key: FromBytes([]byte{0x30}), Value: []byte("c")},
	}, 0, 1)
	require.NoError(t, err)

	blocking := &recordingVisitor{}
	require.NoError(t, trie.Traverse(1, blocking))

	async := &recordingVisitor{}
	require.NoError(t, trie.TraverseAsync(1, async, 4))

	require.Equal(t, blocking.downPaths, async.downPaths)
	require.NotEmpty(t, blocking.downPaths)
	require.Equal(t, []string{"", "10", "20", "30"}, blocking.downPaths)
}

func TestTraverseDownFalsePrunesSubtree(t *testing.T) {
	trie := newTestTrie(t, 16)

	_, err := trie.Upsert([]Update{
		{Key: FromBytes([]byte{0x10}), Value: []byte("a")},
		{Key: FromBytes([]byte{0x20}), Value: []byte("b")},
	}, 0, 1)
	require.NoError(t, err)

	upCount := 0
	v := visitorFunc{
		down: func(path Nibbles, n *Node) bool { return false },
		up:   func(path Nibbles, n *Node) { upCount++ },
	}
	require.NoError(t, trie.Traverse(1, v))
	require.Equal(t, 0, upCount)
}

type visitorFunc struct {
	down func(Nibbles, *Node) bool
	up   func(Nibbles, *Node)
}

func (v visitorFunc) Down(path Nibbles, n *Node) bool { return v.down(path, n) }
func (v visitorFunc) Up(path Nibbles, n *Node)        { v.up(path, n) }
