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
	"sync"

	"golang.org/x/sys/unix"
)

const (
	cpuPageSize = 4096
	// ReadBufSize: 7 pages, per spec.md §4.2.
	ReadBufSize = 7 * cpuPageSize
	// WriteBufSize: ~8 MiB minus one page, rounded up to page size.
	WriteBufSize = (8*1024*1024 - cpuPageSize + cpuPageSize - 1) / cpuPageSize * cpuPageSize
)

// Buffer is a DMA-aligned registered buffer owned, for its lifetime, by
// exactly one in-flight operation.
type Buffer struct {
	Data []byte
	kind bufKind
}

type bufKind uint8

const (
	readKind bufKind = iota
	writeKind
)

// bufferPool is a fixed-count free-list of registered buffers, allocated
// up front and mmap'd so they are page-aligned (a reasonable stand-in for
// DMA alignment in userspace, grounded on the teacher stack's use of
// golang.org/x/sys/unix for raw mmap elsewhere). The free list is a
// slice guarded by mu; TryGet and Put both take the mutex, and there is
// no lock-free allocation path. There is no blocking Get: TryGet reports
// exhaustion and the Engine retries via OperationMustBeReinitiated. Put
// also signals waiters, which nothing in this package receives from.
type bufferPool struct {
	kind    bufKind
	size    int
	mu      sync.Mutex
	free    []*Buffer
	waiters chan struct{}
}

func newBufferPool(kind bufKind, size, count int) *bufferPool {
	p := &bufferPool{kind: kind, size: size, waiters: make(chan struct{}, count)}
	for i := 0; i < count; i++ {
		mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			// Fall back to a plain slice in environments where
			// anonymous mmap is unavailable (e.g. some sandboxes);
			// correctness does not depend on the backing allocator,
			// only DMA performance does.
			mem = make([]byte, size)
		}
		p.free = append(p.free, &Buffer{Data: mem, kind: kind})
	}
	return p
}

// TryGet pops a buffer without blocking; ok=false if the pool is
// exhausted (mirrors the "allocation is non-blocking but may block"
// contract at the Engine level, which retries via operation_must_be_reinitiated
// rather than blocking inside the pool itself).
func (p *bufferPool) TryGet() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b, true
}

// Put returns b to the free list and wakes one blocked waiter, if any.
func (p *bufferPool) Put(b *Buffer) {
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
	select {
	case p.waiters <- struct{}{}:
	default:
	}
}
