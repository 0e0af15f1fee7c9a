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

package eventrecorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	size, err := NewSize(MinDescriptorsShift, MinPayloadBufShift)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "events.ring")
	r, err := Create(path, TypeTest, size, [32]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndTryCopyRoundTrip(t *testing.T) {
	r := newTestRing(t)
	rec := NewRecorder(r)

	seqno, err := rec.Record(7, []byte("hello"), [4]uint64{1, 2, 3, 4}, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seqno)

	it := NewIterator(r)
	d, ok := it.TryCopy(seqno)
	require.True(t, ok)
	require.Equal(t, uint16(7), d.EventType)
	require.Equal(t, uint32(5), d.PayloadSize)
	require.Equal(t, [4]uint64{1, 2, 3, 4}, d.User)

	dst := make([]byte, d.PayloadSize)
	require.NoError(t, it.Payload(d, dst))
	require.Equal(t, "hello", string(dst))
}

func TestTryCopyMissingSeqnoFails(t *testing.T) {
	r := newTestRing(t)
	it := NewIterator(r)
	_, ok := it.TryCopy(1)
	require.False(t, ok)

	_, ok = it.TryCopy(0)
	require.False(t, ok)
}

func TestRecordRejectsOversizePayload(t *testing.T) {
	r := newTestRing(t)
	rec := NewRecorder(r)
	huge := make([]byte, r.PayloadBufSize()+1)
	_, err := rec.Record(1, huge, [4]uint64{}, 0)
	require.Error(t, err)
}

func TestPayloadWrapAroundIsOverwritten(t *testing.T) {
	r := newTestRing(t)
	rec := NewRecorder(r)

	bufSize := r.PayloadBufSize()
	chunk := make([]byte, bufSize/4)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	first, err := rec.Record(1, chunk, [4]uint64{}, 0)
	require.NoError(t, err)
	it := NewIterator(r)
	firstDesc, ok := it.TryCopy(first)
	require.True(t, ok)

	// Write enough additional events to wrap the payload buffer fully
	// past the first event's bytes.
	for i := 0; i < 5; i++ {
		_, err := rec.Record(1, chunk, [4]uint64{}, 0)
		require.NoError(t, err)
	}

	dst := make([]byte, firstDesc.PayloadSize)
	err = it.Payload(firstDesc, dst)
	require.ErrorIs(t, err, ErrOverwritten)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	size, err := NewSize(MinDescriptorsShift, MinPayloadBufShift)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "garbage.ring")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size.storageBytes()))
	require.NoError(t, f.Close())
	r, err := Open(path, size)
	require.Error(t, err)
	require.Nil(t, r)
}

func TestNewSizeRejectsOutOfRangeShifts(t *testing.T) {
	_, err := NewSize(MinDescriptorsShift-1, MinPayloadBufShift)
	require.Error(t, err)
	_, err = NewSize(MinDescriptorsShift, MaxPayloadBufShift+1)
	require.Error(t, err)
}
