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
	"os"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/category-labs/monad-core/ioengine"
	"github.com/category-labs/monad-core/nodecache"
	"github.com/category-labs/monad-core/nodewriter"
	"github.com/category-labs/monad-core/pool"
)

const testChunkCapacity = 64 * 1024

// newTestTrie builds a throwaway Trie backed by a temp file, retaining
// historyLength versions.
func newTestTrie(t *testing.T, historyLength uint64) *Trie {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "mpt-test-*")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	p, err := pool.Open(pool.Config{
		BackingSources: []string{path},
		Mode:           pool.CreateIfNeeded,
		ChunkCapacity:  datasize.ByteSize(testChunkCapacity),
	})
	require.NoError(t, err)

	eng := ioengine.New(ioengine.Config{QueueDepth: 32, ReadBufferCount: 8, WriteBufferCount: 8})
	eng.BindOwner()

	fast, err := nodewriter.New(pool.Fast, p, eng, testChunkCapacity, nil)
	require.NoError(t, err)
	slow, err := nodewriter.New(pool.Slow, p, eng, testChunkCapacity, nil)
	require.NoError(t, err)

	return New(Config{
		HistoryLength: historyLength,
		Pool:          p,
		Fast:          fast,
		Slow:          slow,
		Cache:         nodecache.New(256),
		Engine:        eng,
	})
}

func keyOf(s string) Nibbles {
	return FromBytes([]byte(s))
}
