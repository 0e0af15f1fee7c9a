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
	"sync/atomic"
	"unsafe"
)

// Control register byte offsets within the header region (spec.md §3
// "Event Descriptor" control registers): last_seqno, next_payload_byte
// and buffer_window_start are adjacent 8-byte words at offsets 56, 64
// and 72, so all three share one cacheline; each is accessed only
// through 64-bit atomics, so no access tears.
const (
	offLastSeqno          = 56
	offNextPayloadByte    = 64
	offBufferWindowStart  = 72
)

func (r *Ring) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.header[off]))
}

// reserveSeqno atomically allocates the next sequence number for a new
// event (spec.md §4.7 "reserve a sequence number atomically").
func (r *Ring) reserveSeqno() uint64 {
	return atomic.AddUint64(r.word(offLastSeqno), 1)
}

// reservePayload atomically advances the monotonic payload cursor by n
// bytes, returning the unwrapped offset the caller should write at
// (spec.md §4.7 "reserve payload bytes from a monotonically advancing
// cursor").
func (r *Ring) reservePayload(n uint64) uint64 {
	return atomic.AddUint64(r.word(offNextPayloadByte), n) - n
}

// bufferWindowStart is the watermark consumers compare a payload's
// unwrapped offset against to detect an overwritten (expired) payload.
func (r *Ring) bufferWindowStart() uint64 {
	return atomic.LoadUint64(r.word(offBufferWindowStart))
}

func (r *Ring) advanceBufferWindowStart(v uint64) {
	for {
		cur := atomic.LoadUint64(r.word(offBufferWindowStart))
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(r.word(offBufferWindowStart), cur, v) {
			return
		}
	}
}

// descriptorSeqno is an acquire-load of descriptor idx's seqno field,
// used by consumers to detect whether a slot still holds the event they
// expect (spec.md §5 "consumers use acquire loads").
func (r *Ring) descriptorSeqno(idx uint64) uint64 {
	off := int(idx) * descriptorSize
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.descriptors[off])))
}

// publishDescriptorSeqno is a release-store of descriptor idx's seqno
// field, the final step of Recorder.Record (spec.md §4.7 "publish the
// sequence number via release-store").
func (r *Ring) publishDescriptorSeqno(idx uint64, seqno uint64) {
	off := int(idx) * descriptorSize
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.descriptors[off])), seqno)
}
