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
	"golang.org/x/sys/unix"

	"github.com/category-labs/monad-core/coreerr"
)

var reinitiateErr = coreerr.New("ioengine.initiate", coreerr.OperationMustBeReinitiated, nil)

// ReadOp reads Len bytes from FD at Offset into a buffer drawn from the
// engine's read pool.
type ReadOp struct {
	FD     int
	Offset int64
	Len    int

	buf *Buffer
}

var _ Sender = (*ReadOp)(nil)
var _ rawOp = (*ReadOp)(nil)

// Initiate grabs a registered read buffer and enqueues the read on the
// ring, or signals OperationMustBeReinitiated if either the buffer pool
// or the submission queue has no room right now.
func (r *ReadOp) Initiate(eng *Engine, op *Operation) (Result, error) {
	if r.buf == nil {
		b, ok := eng.readPool.TryGet()
		if !ok {
			return Result{}, mustReinitiate()
		}
		r.buf = b
		op.buf = b
		op.pool = eng.readPool
	}
	if err := eng.submit(op); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

func (r *ReadOp) perform() (int, error) {
	n := r.Len
	if n > len(r.buf.Data) {
		n = len(r.buf.Data)
	}
	return unix.Pread(r.FD, r.buf.Data[:n], r.Offset)
}

func (r *ReadOp) bufferRef() *Buffer { return r.buf }

// WriteOp writes Data to FD at Offset. The node writer already owns the
// backing memory (its own flush buffer), so WriteOp does not draw from
// the write registered-buffer pool unless UseRegisteredBuffer is set, in
// which case the bytes are copied in so the write survives the caller's
// buffer being reused immediately after Initiate returns.
type WriteOp struct {
	FD                 int
	Offset             int64
	Data               []byte
	UseRegisteredBuffer bool

	buf *Buffer
}

var _ Sender = (*WriteOp)(nil)
var _ rawOp = (*WriteOp)(nil)

func (w *WriteOp) Initiate(eng *Engine, op *Operation) (Result, error) {
	if w.UseRegisteredBuffer && w.buf == nil {
		b, ok := eng.writePool.TryGet()
		if !ok {
			return Result{}, mustReinitiate()
		}
		n := copy(b.Data, w.Data)
		w.buf = b
		w.Data = b.Data[:n]
		op.buf = b
		op.pool = eng.writePool
	}
	if err := eng.submit(op); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

func (w *WriteOp) perform() (int, error) {
	return unix.Pwrite(w.FD, w.Data, w.Offset)
}

func (w *WriteOp) bufferRef() *Buffer { return w.buf }

func mustReinitiate() error {
	return reinitiateErr
}
