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

// Package eventrecorder implements the lock-free single-producer
// shared-memory event ring of spec.md §4.7 and §6.1: a recorder reserves
// a sequence number and payload bytes and publishes them with a release
// store; consumers attach by mapping the same file and validate reads
// against a buffer_window_start watermark to detect overwritten payloads.
package eventrecorder

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/category-labs/monad-core/coreerr"
)

// Type identifies which category of events a ring carries; the
// descriptor's EventType field is drawn from a namespace specific to the
// ring's Type (spec.md §4.7 "different categories of events are recorded
// to different rings").
type Type uint16

const (
	TypeNone Type = iota
	TypeTest
	TypeExecution
)

// Size bounds, spec.md §8 "Boundary behaviors": descriptor capacity and
// payload buffer size are each powers of two within these ranges.
const (
	MinDescriptorsShift = 16
	MaxDescriptorsShift = 32

	MinPayloadBufShift = 27
	MaxPayloadBufShift = 40
)

// headerSize is the 2 MiB aligned header region preceding the descriptor
// array (spec.md §6.1 "2 MiB aligned header").
const headerSize = 2 << 20

// descriptorSize is the fixed cacheline size of one event descriptor
// (spec.md §3 "Event Descriptor").
const descriptorSize = 64

var magic = [6]byte{'R', 'I', 'N', 'G', '0', '1'}

// Size describes an event ring's capacity, expressed as powers of two.
type Size struct {
	DescriptorsShift uint8
	PayloadBufShift  uint8
}

// NewSize validates descriptorsShift/payloadBufShift against the bounds
// of spec.md §8 and returns the corresponding Size.
func NewSize(descriptorsShift, payloadBufShift uint8) (Size, error) {
	if descriptorsShift < MinDescriptorsShift || descriptorsShift > MaxDescriptorsShift {
		return Size{}, coreerr.New("eventrecorder.newsize", coreerr.CapacityTooSmall, errors.New("descriptors_shift out of range"))
	}
	if payloadBufShift < MinPayloadBufShift || payloadBufShift > MaxPayloadBufShift {
		return Size{}, coreerr.New("eventrecorder.newsize", coreerr.CapacityTooSmall, errors.New("payload_buf_shift out of range"))
	}
	return Size{DescriptorsShift: descriptorsShift, PayloadBufShift: payloadBufShift}, nil
}

func (s Size) descriptorCapacity() uint64 { return 1 << s.DescriptorsShift }
func (s Size) payloadBufSize() uint64     { return 1 << s.PayloadBufShift }

// storageBytes is the total file size Create must allocate: header,
// descriptor array, payload buffer (spec.md §6.1 layout).
func (s Size) storageBytes() int64 {
	return int64(headerSize) + int64(s.descriptorCapacity())*descriptorSize + int64(s.payloadBufSize())
}

// Descriptor is the fixed-size (cacheline) record of spec.md §3: sequence
// number, event type, payload length, record timestamp, payload offset,
// and four user words.
type Descriptor struct {
	Seqno           uint64
	EventType       uint16
	PayloadSize     uint32
	RecordEpochNanos uint64
	PayloadBufOffset uint64
	User            [4]uint64
}

func (d *Descriptor) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], d.Seqno)
	binary.LittleEndian.PutUint16(b[8:10], d.EventType)
	binary.LittleEndian.PutUint32(b[12:16], d.PayloadSize)
	binary.LittleEndian.PutUint64(b[16:24], d.RecordEpochNanos)
	binary.LittleEndian.PutUint64(b[24:32], d.PayloadBufOffset)
	for i, u := range d.User {
		binary.LittleEndian.PutUint64(b[32+i*8:40+i*8], u)
	}
}

func (d *Descriptor) decode(b []byte) {
	d.Seqno = binary.LittleEndian.Uint64(b[0:8])
	d.EventType = binary.LittleEndian.Uint16(b[8:10])
	d.PayloadSize = binary.LittleEndian.Uint32(b[12:16])
	d.RecordEpochNanos = binary.LittleEndian.Uint64(b[16:24])
	d.PayloadBufOffset = binary.LittleEndian.Uint64(b[24:32])
	for i := range d.User {
		d.User[i] = binary.LittleEndian.Uint64(b[32+i*8 : 40+i*8])
	}
}

// Ring is a shared-memory event ring mapped into the current process.
// The payload buffer's "virtual wrap-free window" (spec.md §3) is
// implemented as wrap-aware copies in payloadRead/payloadWrite rather
// than a true double mmap of adjoining virtual addresses: Go does not
// expose MAP_FIXED placement control through mmap-go, and a raw
// unix.Mmap-with-fixed-address implementation could not be exercised
// without running the toolchain. The observable contract (a reader or
// writer never has to special-case the wrap boundary itself) is
// preserved; see DESIGN.md.
type Ring struct {
	f    *os.File
	mm   mmap.MMap
	size Size

	header      []byte
	descriptors []byte
	payload     []byte
}

// Create initializes a new event ring file at path (spec.md §6.1
// "Event ring file") and maps it.
func Create(path string, typ Type, size Size, metadataHash [32]byte) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, coreerr.New("eventrecorder.create", coreerr.IOFailed, err)
	}
	if err := f.Truncate(size.storageBytes()); err != nil {
		f.Close()
		return nil, coreerr.New("eventrecorder.create", coreerr.IOFailed, err)
	}
	r, err := mapRing(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.writeHeader(typ, metadataHash)
	return r, nil
}

// Open maps an already-initialized event ring file for reading or
// writing.
func Open(path string, size Size) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, coreerr.New("eventrecorder.open", coreerr.IOFailed, err)
	}
	r, err := mapRing(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	if string(r.header[0:6]) != string(magic[:]) {
		r.Close()
		return nil, coreerr.New("eventrecorder.open", coreerr.BadMagic, nil)
	}
	return r, nil
}

func mapRing(f *os.File, size Size) (*Ring, error) {
	mm, err := mmap.MapRegion(f, int(size.storageBytes()), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, coreerr.New("eventrecorder.map", coreerr.IOFailed, err)
	}
	descLen := int(size.descriptorCapacity()) * descriptorSize
	return &Ring{
		f:           f,
		mm:          mm,
		size:        size,
		header:      mm[0:headerSize],
		descriptors: mm[headerSize : headerSize+descLen],
		payload:     mm[headerSize+descLen:],
	}, nil
}

func (r *Ring) writeHeader(typ Type, metadataHash [32]byte) {
	copy(r.header[0:6], magic[:])
	binary.LittleEndian.PutUint16(r.header[6:8], uint16(typ))
	copy(r.header[8:40], metadataHash[:])
	binary.LittleEndian.PutUint64(r.header[40:48], r.size.descriptorCapacity())
	binary.LittleEndian.PutUint64(r.header[48:56], r.size.payloadBufSize())
	// control block: last_seqno(56:64), next_payload_byte(64:72), buffer_window_start(72:80)
}

// Close unmaps and closes the ring's backing file.
func (r *Ring) Close() error {
	if err := r.mm.Unmap(); err != nil {
		r.f.Close()
		return coreerr.New("eventrecorder.close", coreerr.IOFailed, err)
	}
	return r.f.Close()
}

// DescriptorCapacity / PayloadBufSize report the ring's fixed sizes.
func (r *Ring) DescriptorCapacity() uint64 { return r.size.descriptorCapacity() }
func (r *Ring) PayloadBufSize() uint64     { return r.size.payloadBufSize() }
