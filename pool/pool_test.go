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

package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

const testChunkCapacity = 4096

func newTestPool(t *testing.T, nchunks int) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(nchunks*testChunkCapacity)))
	require.NoError(t, f.Close())

	p, err := Open(Config{
		BackingSources: []string{path},
		Mode:           OpenExisting,
		ChunkCapacity:  datasize.ByteSize(testChunkCapacity),
	})
	require.NoError(t, err)
	return p
}

func TestOpenAssignsOneFastOneSlowRestFree(t *testing.T) {
	p := newTestPool(t, 8)
	require.Equal(t, uint64(6)*testChunkCapacity, p.FreeCapacity())
	require.Len(t, p.ChunksInList(Fast), 1)
	require.Len(t, p.ChunksInList(Slow), 1)
	require.Len(t, p.ChunksInList(Free), 6)
}

func TestOpenRejectsTooFewChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(testChunkCapacity))
	require.NoError(t, f.Close())

	_, err = Open(Config{
		BackingSources: []string{path},
		Mode:           OpenExisting,
		ChunkCapacity:  datasize.ByteSize(testChunkCapacity),
	})
	require.Error(t, err)
}

func TestOpenRejectsNonPowerOfTwoCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(3 * 1000))
	require.NoError(t, f.Close())

	_, err = Open(Config{
		BackingSources: []string{path},
		Mode:           OpenExisting,
		ChunkCapacity:  1000,
	})
	require.Error(t, err)
}

func TestAppendAndRemoveTrackFreeCapacity(t *testing.T) {
	p := newTestPool(t, 4)
	freeIDs := p.ChunksInList(Free)
	require.Len(t, freeIDs, 2)
	id := freeIDs[0]

	require.NoError(t, p.Append(Fast, id))
	require.Equal(t, List(Fast), p.descs[id].list)
	require.Equal(t, uint64(1)*testChunkCapacity, p.FreeCapacity())

	require.NoError(t, p.Remove(id))
	require.Equal(t, uint64(2)*testChunkCapacity, p.FreeCapacity())
}

func TestRemoveRejectsDoubleFree(t *testing.T) {
	p := newTestPool(t, 4)
	freeIDs := p.ChunksInList(Free)
	id := freeIDs[0]
	require.Error(t, p.Remove(id))
}

func TestActivateChunkIsRefCountedAndSharesHandle(t *testing.T) {
	p := newTestPool(t, 4)
	fastIDs := p.ChunksInList(Fast)
	require.Len(t, fastIDs, 1)
	id := fastIDs[0]

	c1, err := p.ActivateChunk(Sequential, id)
	require.NoError(t, err)
	c2, err := p.ActivateChunk(Sequential, id)
	require.NoError(t, err)
	require.Same(t, c1, c2)

	c3, ok := p.Chunk(Sequential, id)
	require.True(t, ok)

	c1.Release()
	c2.Release()
	c3.Release()
	_, ok = p.Chunk(Sequential, id)
	require.False(t, ok, "last release should deactivate the handle")
}

func TestChunkWriteFDAdvancesMonotonically(t *testing.T) {
	p := newTestPool(t, 4)
	fastIDs := p.ChunksInList(Fast)
	c, err := p.ActivateChunk(Sequential, fastIDs[0])
	require.NoError(t, err)
	defer c.Release()

	_, off1 := c.WriteFD(100)
	_, off2 := c.WriteFD(50)
	require.Equal(t, uint32(0), off1)
	require.Equal(t, uint32(100), off2)
	require.Equal(t, uint32(150), c.Size())
}

func TestActivateChunkComputesDistinctBaseOffsets(t *testing.T) {
	p := newTestPool(t, 8)
	freeIDs := p.ChunksInList(Free)
	require.True(t, len(freeIDs) >= 2)

	c1, err := p.ActivateChunk(Sequential, freeIDs[0])
	require.NoError(t, err)
	defer c1.Release()
	c2, err := p.ActivateChunk(Sequential, freeIDs[1])
	require.NoError(t, err)
	defer c2.Release()

	_, base1 := c1.ReadFD()
	_, base2 := c2.ReadFD()
	require.NotEqual(t, base1, base2, "chunks sharing a backing fd must not alias the same byte range")
	require.Equal(t, int64(freeIDs[0])*int64(testChunkCapacity), base1)
	require.Equal(t, int64(freeIDs[1])*int64(testChunkCapacity), base2)
}

func TestOffsetRoundTrip(t *testing.T) {
	o := Offset{Chunk: 7, Byte: 12345}
	require.Equal(t, o, OffsetFromBytes(o.Bytes()))
}

func TestOffsetMinTreatsInvalidAsInfinity(t *testing.T) {
	a := Offset{Chunk: 3, Byte: 1}
	require.Equal(t, a, Min(a, Invalid))
	require.Equal(t, a, Min(Invalid, a))
}
