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

// Package nodewriter implements the Node Writer of spec.md §4.3: one per
// list (fast, slow), streaming variable-length encoded trie nodes into
// the currently active chunk and tracking physical offsets.
package nodewriter

import (
	"sync"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/ioengine"
	"github.com/category-labs/monad-core/pool"
)

// State is the upsert writer's state machine (spec.md §4.4): idle while
// nothing is buffered, buffering while bytes accumulate, flushing while
// an async write is outstanding.
type State uint8

const (
	Idle State = iota
	Buffering
	Flushing
)

// PendingFence is invoked once a flush's completion fires, letting the
// caller know every offset returned by Append since the previous flush is
// now durable (spec.md §4.3 "the completion is the fence").
type PendingFence func(flushed []pool.Offset)

// Writer owns one list's active append point and write buffer.
type Writer struct {
	mu sync.Mutex

	list   pool.List
	p      *pool.Pool
	eng    *ioengine.Engine
	onFence PendingFence

	state      State
	activeID   pool.ChunkID
	activeChunk *pool.Chunk
	bufSize    int
	buf        []byte
	used       int
	baseOffset uint32 // byte offset in activeChunk at which buf starts
	pending    []pool.Offset
}

// New constructs a Writer for the given list, drawing chunks from p and
// submitting flushes through eng.
func New(list pool.List, p *pool.Pool, eng *ioengine.Engine, bufSize int, onFence PendingFence) (*Writer, error) {
	w := &Writer{list: list, p: p, eng: eng, bufSize: bufSize, buf: make([]byte, bufSize), onFence: onFence}
	if err := w.rotateChunk(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) rotateChunk() error {
	if w.activeChunk != nil {
		w.activeChunk.Release()
	}
	id, ok := w.p.AllocateFree(pool.Sequential)
	if !ok {
		return coreerr.New("nodewriter.rotate", coreerr.IOFailed, nil)
	}
	if err := w.p.Append(w.list, id); err != nil {
		return err
	}
	c, err := w.p.ActivateChunk(pool.Sequential, id)
	if err != nil {
		return err
	}
	w.activeID = id
	w.activeChunk = c
	w.baseOffset = 0
	w.used = 0
	w.state = Idle
	return nil
}

// Append copies the encoded bytes of a node of size s into the writer's
// buffer, flushing and/or rotating chunks as needed, and returns the
// (virtual, not yet durable) offset at which the bytes will land.
func (w *Writer) Append(encoded []byte) (pool.Offset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := len(encoded)
	coreerr.Assert(s <= w.bufSize, "nodewriter: node of size %d exceeds buffer size %d", s, w.bufSize)

	if s+w.used > w.bufSize {
		if err := w.flushLocked(); err != nil {
			return pool.Offset{}, err
		}
	}
	remaining := w.activeChunk.Capacity() - w.baseOffset - uint32(w.used)
	if remaining < uint32(s) {
		if err := w.flushLocked(); err != nil {
			return pool.Offset{}, err
		}
		if err := w.rotateChunk(); err != nil {
			return pool.Offset{}, err
		}
	}

	off := pool.Offset{Chunk: w.activeID, Byte: w.baseOffset + uint32(w.used)}
	copy(w.buf[w.used:], encoded)
	w.used += s
	w.state = Buffering
	w.pending = append(w.pending, off)
	return off, nil
}

// Sync forces a flush of whatever is currently buffered, even if the
// buffer is not full (used at version boundaries so a root is durable
// before its offset is published).
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.used == 0 {
		return nil
	}
	w.state = Flushing
	data := make([]byte, w.used)
	copy(data, w.buf[:w.used])
	fd, base := w.activeChunk.ReadFD()
	_ = fd
	writeFD, offset := w.activeChunk.WriteFD(uint32(w.used))
	coreerr.Assert(offset == w.baseOffset, "nodewriter: flush offset drifted from expected append point")

	flushed := w.pending
	w.pending = nil
	done := make(chan error, 1)

	op := &ioengine.Operation{
		Sender: &ioengine.WriteOp{FD: writeFD, Offset: base + int64(offset), Data: data},
	}
	op.Receiver = completionFunc(func(res ioengine.Result, err error) {
		done <- err
	})
	w.eng.Initiate(op)
	w.eng.WaitUntilDone()
	if err := <-done; err != nil {
		return err
	}

	if w.onFence != nil {
		w.onFence(flushed)
	}
	w.baseOffset += uint32(w.used)
	w.used = 0
	w.state = Idle
	return nil
}

type completionFunc func(res ioengine.Result, err error)

func (f completionFunc) OnComplete(res ioengine.Result, err error) { f(res, err) }

// Close flushes any remaining buffered bytes and releases the active
// chunk handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.flushLocked()
	if w.activeChunk != nil {
		w.activeChunk.Release()
		w.activeChunk = nil
	}
	return err
}
