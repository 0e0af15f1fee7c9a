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
	"golang.org/x/sys/unix"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/ioengine"
	"github.com/category-labs/monad-core/nodecache"
	"github.com/category-labs/monad-core/pool"
)

// reader resolves an on-disk chunk offset to a decoded Node, consulting
// the Node Cache first and coalescing concurrent misses for the same
// offset (spec.md §4.5). Every miss is read through the Async I/O
// Engine's Sender/Receiver contract (spec.md §2 "the MPT Engine is built
// on top of async I/O") rather than a bare pread, whether the caller is
// Upsert's own synchronous walk (spec.md §5: "Upsert does not suspend
// after taking the unique lock; it blocks synchronously on its own node
// reads" — it still issues the read via the engine, it just waits for
// the completion inline) or a concurrent Find/Traverse fan-out.
type reader struct {
	pool   *pool.Pool
	cache  *nodecache.Cache
	engine *ioengine.Engine
}

func newReader(p *pool.Pool, c *nodecache.Cache, eng *ioengine.Engine) *reader {
	return &reader{pool: p, cache: c, engine: eng}
}

func (r *reader) readNode(off pool.Offset) (*Node, error) {
	if r.cache == nil {
		return r.readDirect(off)
	}
	v, err := r.cache.GetOrLoad(off, func() (any, error) {
		return r.readDirect(off)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Node), nil
}

// readDirect reads a length-unframed node record through the Async I/O
// Engine. Because chunk contents have "no explicit framing in the
// stream" (spec.md §6.1), a reader needs to know how many bytes to pull;
// we read a generously sized window (4 KiB covers the overwhelming
// majority of branch/leaf encodings given a 16-child branch tops out
// around 1 KiB) and re-read with the exact size once Decode's header
// arithmetic reveals a record crossed that boundary.
func (r *reader) readDirect(off pool.Offset) (*Node, error) {
	const window = 4096
	chunkKind := pool.Sequential
	c, err := r.pool.ActivateChunk(chunkKind, off.Chunk)
	if err != nil {
		return nil, err
	}
	defer c.Release()
	fd, base := c.ReadFD()

	buf, err := r.readBytes(fd, base+int64(off.Byte), window)
	if err != nil {
		return nil, err
	}
	need, ok := decodedLen(buf)
	if !ok || need > len(buf) {
		if need <= 0 {
			need = window * 4
		}
		buf, err = r.readBytes(fd, base+int64(off.Byte), need)
		if err != nil {
			return nil, err
		}
	}
	return Decode(buf), nil
}

// readBytes pulls exactly up to length bytes from fd at offset via the
// engine's registered read-buffer pool (ioengine.ReadOp), falling back to
// a direct pread when no engine is configured or the requested length
// exceeds the registered read-buffer size (spec.md §4.2 sizes it at 7
// pages; a handful of record shapes — e.g. a code-table leaf carrying a
// near-24KiB contract body — legitimately exceed that and cannot be
// served from a fixed-size registered buffer).
func (r *reader) readBytes(fd int, offset int64, length int) ([]byte, error) {
	if r.engine == nil || length > ioengine.ReadBufSize {
		return blockingPread(fd, offset, length)
	}

	type outcome struct {
		data []byte
		err  error
	}
	ch := make(chan outcome, 1)
	op := &ioengine.Operation{
		Sender: &ioengine.ReadOp{FD: fd, Offset: offset, Len: length},
	}
	op.Receiver = readReceiver(func(res ioengine.Result, err error) {
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		data := make([]byte, res.N)
		copy(data, res.Buffer.Data[:res.N])
		ch <- outcome{data: data}
	})

	r.engine.Initiate(op)
	r.engine.WaitUntilDone()
	out := <-ch
	if out.err != nil {
		return nil, coreerr.New("mpt.read", coreerr.IOFailed, out.err)
	}
	return out.data, nil
}

func blockingPread(fd int, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := unix.Pread(fd, buf, offset)
	if err != nil {
		return nil, coreerr.New("mpt.read", coreerr.IOFailed, err)
	}
	return buf[:n], nil
}

// readReceiver adapts a plain func into an ioengine.Receiver, the same
// bridging idiom nodewriter.completionFunc uses to turn a callback-style
// completion into something a blocking caller can wait on over a channel.
type readReceiver func(res ioengine.Result, err error)

func (f readReceiver) OnComplete(res ioengine.Result, err error) { f(res, err) }

// decodedLen performs a best-effort parse of just enough of the header to
// learn the full record length, without fully decoding it, so
// readDirect knows whether its window sufficed.
func decodedLen(buf []byte) (int, bool) {
	if len(buf) < 1 {
		return 0, false
	}
	i := 1
	if i >= len(buf) {
		return 0, false
	}
	flag := buf[i]
	end := flag & 0x7F
	dataLen := (int(end) + 1) / 2
	i += 1 + dataLen
	if i >= len(buf) {
		return 0, false
	}
	refLen := int(buf[i]) - 1
	i += 1 + refLen
	if i+8 > len(buf) {
		return 0, false
	}
	i += 8 // version
	kind := Kind(buf[0])
	switch kind {
	case Leaf:
		// Leaf has no internal length field; the record runs to the
		// end of whatever the caller already captured. Treat the
		// window as sufficient unless the reader asks for a re-read
		// explicitly (leaf values are bounded by the EVM's 24KiB code
		// size limit in the worst case; callers needing more should
		// size their window accordingly).
		return len(buf), true
	case Branch:
		if i >= len(buf) {
			return 0, false
		}
		hasValue := buf[i]
		i++
		if hasValue == 1 {
			if i >= len(buf) {
				return 0, false
			}
			vlen := int(buf[i])
			i += 1 + vlen
		}
		if i+2 > len(buf) {
			return 0, false
		}
		mask := uint16(buf[i])<<8 | uint16(buf[i+1])
		i += 2
		count := 0
		for b := uint16(0); b < 16; b++ {
			if mask&(1<<b) != 0 {
				count++
			}
		}
		// Each present child: 8 (offset) + 8 (minver) + 8 (minfast) + 8
		// (minslow) + 1 (reflen byte) + up to 32 (ref bytes).
		return i + count*(8+8+8+8+1+32), true
	default:
		return 0, false
	}
}
