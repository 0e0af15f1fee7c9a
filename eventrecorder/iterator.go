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

	"github.com/category-labs/monad-core/coreerr"
)

// Iterator is a consumer's read cursor over a Ring (spec.md §4.7
// "Consumers attach by mmap"). Iterator holds no write access and is
// safe to use concurrently with a Recorder writing the same Ring, modulo
// the inherent lossy-ness of a bounded ring: a slow consumer may observe
// ErrOverwritten instead of an old event.
type Iterator struct {
	ring      *Ring
	nextSeqno uint64 // next seqno to attempt a read of
}

// NewIterator positions an Iterator just past the most recently produced
// event, so the first seqno it attempts is the next one to be recorded,
// matching the original's monad_event_ring_init_iterator.
func NewIterator(ring *Ring) *Iterator {
	last := ring.lastSeqno()
	return &Iterator{ring: ring, nextSeqno: last + 1}
}

func (r *Ring) lastSeqno() uint64 {
	return atomic.LoadUint64(r.word(offLastSeqno))
}

// TryCopy attempts to read the descriptor for seqno, returning ok=false
// if that slot no longer holds seqno's event (either it hasn't happened
// yet or it has been overwritten by more recent events) — spec.md §4.7
// "try to copy the event descriptor corresponding to a particular
// sequence number."
func (it *Iterator) TryCopy(seqno uint64) (Descriptor, bool) {
	if seqno == 0 {
		return Descriptor{}, false
	}
	idx := (seqno - 1) & (it.ring.DescriptorCapacity() - 1)
	off := int(idx) * descriptorSize
	var d Descriptor
	d.decode(it.ring.descriptors[off : off+descriptorSize])
	if it.ring.descriptorSeqno(idx) != seqno {
		return Descriptor{}, false
	}
	return d, true
}

// ErrOverwritten is returned by Payload when the event's payload bytes
// have already been overwritten by the producer (spec.md §6.1 "consumers
// validate via the buffer_window_start watermark to detect overwritten
// payloads").
var ErrOverwritten = coreerr.Sentinel(coreerr.NotFound)

// Payload copies d's payload into dst (which must be at least
// d.PayloadSize bytes), validating both before and after the copy that
// the payload has not expired — mirroring
// monad_event_ring_payload_memcpy's double-check around the memcpy.
func (it *Iterator) Payload(d Descriptor, dst []byte) error {
	if !it.payloadLive(d) {
		return ErrOverwritten
	}
	it.ring.payloadRead(d.PayloadBufOffset, dst[:d.PayloadSize])
	if !it.payloadLive(d) {
		return ErrOverwritten
	}
	return nil
}

func (it *Iterator) payloadLive(d Descriptor) bool {
	return d.PayloadBufOffset >= it.ring.bufferWindowStart()
}

// Next advances the iterator past seqno, the typical polling pattern: a
// consumer calls TryCopy(it.NextSeqno()), and on success calls Next to
// move on.
func (it *Iterator) NextSeqno() uint64 { return it.nextSeqno }

func (it *Iterator) Next() { it.nextSeqno++ }
