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
	"errors"

	"github.com/category-labs/monad-core/coreerr"
)

// Recorder is the single-producer handle used to emit events into a
// Ring. Only one Recorder may write to a given Ring at a time (spec.md
// §4.7 "single-producer"); nothing about Ring itself enforces that, the
// same way the original leaves it to the embedding program.
type Recorder struct {
	ring *Ring
}

// NewRecorder wraps ring for writing.
func NewRecorder(ring *Ring) *Recorder { return &Recorder{ring: ring} }

// Record reserves a sequence number and payload space, copies payload
// into the ring, and publishes the descriptor (spec.md §4.7): "reserve a
// sequence number atomically, reserve payload bytes from a monotonically
// advancing cursor, copy the payload, then publish the sequence number
// via release-store." epochNanos is the caller-supplied record
// timestamp (ns since epoch); eventrecorder does not call time.Now
// itself so that callers can supply a deterministic clock in tests.
func (rec *Recorder) Record(eventType uint16, payload []byte, user [4]uint64, epochNanos uint64) (uint64, error) {
	bufSize := rec.ring.PayloadBufSize()
	if uint64(len(payload)) > bufSize {
		return 0, coreerr.New("eventrecorder.record", coreerr.InvariantViolation, errors.New("payload larger than ring's payload buffer"))
	}

	seqno := rec.ring.reserveSeqno()
	payloadOff := rec.ring.reservePayload(uint64(len(payload)))
	rec.ring.payloadWrite(payloadOff, payload)

	// The slot a new seqno lands in may still hold a payload reference
	// from several wraps ago; advancing the watermark to the end of this
	// write minus one buffer size (the oldest unwrapped offset whose
	// bytes are still intact) is what lets a consumer currently peeking
	// at that stale payload detect it has been overwritten (spec.md §4.7,
	// §6.1 "buffer_window_start watermark"). Only once the cursor has
	// written past one full buffer's worth of data can anything have
	// expired.
	end := payloadOff + uint64(len(payload))
	if end > bufSize {
		rec.ring.advanceBufferWindowStart(end - bufSize)
	}

	idx := (seqno - 1) & (rec.ring.DescriptorCapacity() - 1)
	d := Descriptor{
		Seqno:            0, // written last, via publishDescriptorSeqno
		EventType:        eventType,
		PayloadSize:      uint32(len(payload)),
		RecordEpochNanos: epochNanos,
		PayloadBufOffset: payloadOff,
		User:             user,
	}
	off := int(idx) * descriptorSize
	d.encode(rec.ring.descriptors[off : off+descriptorSize])
	rec.ring.publishDescriptorSeqno(idx, seqno)
	return seqno, nil
}

// payloadWrite copies data into the ring's payload buffer at unwrapped
// offset off, wrapping across the buffer boundary as needed. This is the
// write-side counterpart of the "virtual wrap-free window" contract
// described in the Ring doc comment.
func (r *Ring) payloadWrite(off uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	mask := r.size.payloadBufSize() - 1
	start := off & mask
	n := copy(r.payload[start:], data)
	if n < len(data) {
		copy(r.payload[0:], data[n:])
	}
}

// payloadRead copies n bytes starting at unwrapped offset off into dst,
// wrapping as needed; the read-side counterpart of payloadWrite.
func (r *Ring) payloadRead(off uint64, dst []byte) {
	mask := r.size.payloadBufSize() - 1
	start := off & mask
	n := copy(dst, r.payload[start:])
	if n < len(dst) {
		copy(dst[n:], r.payload[0:])
	}
}
