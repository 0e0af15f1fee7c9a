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

package ioengine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/category-labs/monad-core/coreerr"
)

// TestSubmitReportsReinitiateWhenQueueFull exercises submit() directly
// against a saturated submission queue, the mechanical half of spec.md
// §8 scenario 2: "SQE exhaustion preserves write order". A full sq
// channel must hand back OperationMustBeReinitiated rather than block.
func TestSubmitReportsReinitiateWhenQueueFull(t *testing.T) {
	// Built directly rather than via New, so no worker goroutine races to
	// drain the queue out from under the test.
	e := &Engine{sq: make(chan *Operation, 1)}
	e.sq <- &Operation{}

	err := e.submit(&Operation{})
	ce, ok := err.(*coreerr.Error)
	require.True(t, ok, "expected a *coreerr.Error, got %T: %v", err, err)
	require.Equal(t, coreerr.OperationMustBeReinitiated, ce.Code)
}

// TestWriteOrderSurvivesSQEExhaustion is spec.md §8 scenario 2: submit
// 128 writes to distinct offsets on an engine whose write-buffer pool
// (and therefore effective submission concurrency) is deliberately
// starved to one slot, so every write after the first must hit
// OperationMustBeReinitiated and retry. After WaitUntilDone, reading
// back the written offsets in order yields 0, 4096, 8192, ... with the
// exact marker each write carried, and the engine's own counter
// confirms exhaustion genuinely happened rather than the test
// accidentally avoiding it.
func TestWriteOrderSurvivesSQEExhaustion(t *testing.T) {
	const n = 128
	const stride = 4096

	path := filepath.Join(t.TempDir(), "writes.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(n*stride))
	fd := int(f.Fd())

	// One write buffer forces every write after the first to find the
	// pool exhausted (the prior write's buffer is only released once its
	// completion is drained, which only Initiate's own retry loop does
	// before WaitUntilDone), so Initiate must reinitiate deterministically instead
	// of merely by chance of goroutine scheduling.
	eng := New(Config{QueueDepth: 4, ReadBufferCount: 1, WriteBufferCount: 1})
	eng.BindOwner()

	for i := 0; i < n; i++ {
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(i))
		op := &Operation{
			Sender: &WriteOp{FD: fd, Offset: int64(i * stride), Data: data, UseRegisteredBuffer: true},
		}
		op.Receiver = noopReceiver{}
		eng.Initiate(op)
	}
	eng.WaitUntilDone()

	require.Greater(t, eng.ReinitiateCount(), uint64(0), "expected SQE/buffer exhaustion to force at least one reinitiate")

	for i := 0; i < n; i++ {
		got := make([]byte, 8)
		_, err := unix.Pread(fd, got, int64(i*stride))
		require.NoError(t, err)
		require.Equal(t, uint64(i), binary.LittleEndian.Uint64(got), "offset %d", i*stride)
	}
}

type noopReceiver struct{}

func (noopReceiver) OnComplete(Result, error) {}
