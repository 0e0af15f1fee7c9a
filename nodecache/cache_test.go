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

package nodecache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/category-labs/monad-core/pool"
)

func TestGetOrLoadCoalescesConcurrentMisses(t *testing.T) {
	c := New(16)
	off := pool.Offset{Chunk: 1, Byte: 32}

	var loads atomic.Int32
	var wg sync.WaitGroup
	results := make([]any, 32)

	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := c.GetOrLoad(off, func() (any, error) {
				loads.Add(1)
				return "value", nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), loads.Load(), "expected exactly one underlying load for concurrent misses of the same offset")
	for _, r := range results {
		require.Equal(t, "value", r)
	}
}

func TestGetOrLoadServesFromCacheOnSubsequentCall(t *testing.T) {
	c := New(16)
	off := pool.Offset{Chunk: 2, Byte: 0}

	var loads atomic.Int32
	load := func() (any, error) {
		loads.Add(1)
		return 42, nil
	}

	v1, err := c.GetOrLoad(off, load)
	require.NoError(t, err)
	require.Equal(t, 42, v1)

	v2, err := c.GetOrLoad(off, load)
	require.NoError(t, err)
	require.Equal(t, 42, v2)
	require.Equal(t, int32(1), loads.Load())
}

func TestGetOrLoadPropagatesLoadError(t *testing.T) {
	c := New(16)
	off := pool.Offset{Chunk: 3, Byte: 0}
	sentinel := require.Error

	_, err := c.GetOrLoad(off, func() (any, error) { return nil, assertErr{} })
	sentinel(t, err)

	_, ok := c.Get(off)
	require.False(t, ok, "a failed load must not populate the cache")
}

type assertErr struct{}

func (assertErr) Error() string { return "load failed" }

func TestRemoveEvictsEntry(t *testing.T) {
	c := New(16)
	off := pool.Offset{Chunk: 4, Byte: 0}
	c.Put(off, "x")
	_, ok := c.Get(off)
	require.True(t, ok)

	c.Remove(off)
	_, ok = c.Get(off)
	require.False(t, ok)
}
