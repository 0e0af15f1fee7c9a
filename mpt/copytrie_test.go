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

func TestCopyTriePreservesSourceSubtree(t *testing.T) {
	trie := newTestTrie(t, 16)

	_, err := trie.Upsert([]Update{
		{Key: FromBytes([]byte{0xAA, 0x01}), Value: []byte("one")},
		{Key: FromBytes([]byte{0xAA, 0x02}), Value: []byte("two")},
		{Key: FromBytes([]byte{0xBB, 0x01}), Value: []byte("unrelated")},
	}, 0, 1)
	require.NoError(t, err)

	_, err = trie.CopyTrie(FromBytes([]byte{0xAA}), 1, FromBytes([]byte{0xCC}), 1, 2)
	require.NoError(t, err)

	v1, err := trie.Get(FromBytes([]byte{0xCC, 0x01}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v1)

	v2, err := trie.Get(FromBytes([]byte{0xCC, 0x02}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v2)

	// The source subtree and the unrelated sibling must still be intact.
	src1, err := trie.Get(FromBytes([]byte{0xAA, 0x01}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), src1)

	unrelated, err := trie.Get(FromBytes([]byte{0xBB, 0x01}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("unrelated"), unrelated)
}

func TestCopyTrieOntoDivergentDestination(t *testing.T) {
	trie := newTestTrie(t, 16)

	_, err := trie.Upsert([]Update{
		{Key: FromBytes([]byte{0xAA, 0x01}), Value: []byte("src")},
		{Key: FromBytes([]byte{0xAB, 0x01}), Value: []byte("dest-sibling")},
	}, 0, 1)
	require.NoError(t, err)

	_, err = trie.CopyTrie(FromBytes([]byte{0xAA}), 1, FromBytes([]byte{0xAC}), 1, 2)
	require.NoError(t, err)

	got, err := trie.Get(FromBytes([]byte{0xAC, 0x01}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("src"), got)

	sibling, err := trie.Get(FromBytes([]byte{0xAB, 0x01}), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("dest-sibling"), sibling)
}
