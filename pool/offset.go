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

package pool

import "encoding/binary"

// ChunkID identifies a chunk within a single chunk-list on a device.
type ChunkID uint32

// Offset is a 32-bit chunk id plus a 32-bit byte offset within that chunk,
// stored compactly as 8 bytes (spec.md §3 "Chunk Offset").
type Offset struct {
	Chunk ChunkID
	Byte  uint32
}

// Invalid is the sentinel INVALID_OFFSET.
var Invalid = Offset{Chunk: ^ChunkID(0), Byte: ^uint32(0)}

// IsValid reports whether o is not the sentinel.
func (o Offset) IsValid() bool { return o != Invalid }

// Less gives the natural ordering used by the min-offset bookkeeping
// (§3 min_offset_fast/min_offset_slow): chunk id dominates, byte offset
// breaks ties within a chunk, consistent with append-only monotonic
// offsets inside a single chunk.
func (o Offset) Less(other Offset) bool {
	if o.Chunk != other.Chunk {
		return o.Chunk < other.Chunk
	}
	return o.Byte < other.Byte
}

// Bytes encodes o as 8 bytes, big-endian, for on-disk node references.
func (o Offset) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(o.Chunk))
	binary.BigEndian.PutUint32(b[4:8], o.Byte)
	return b
}

// OffsetFromBytes is the inverse of Offset.Bytes.
func OffsetFromBytes(b [8]byte) Offset {
	return Offset{
		Chunk: ChunkID(binary.BigEndian.Uint32(b[0:4])),
		Byte:  binary.BigEndian.Uint32(b[4:8]),
	}
}

// Min returns whichever of a, b is smaller by Less, treating an invalid
// offset as +infinity (used when folding min_offset across a node's
// children where some children may not yet have an on-disk reference).
func Min(a, b Offset) Offset {
	if !a.IsValid() {
		return b
	}
	if !b.IsValid() {
		return a
	}
	if a.Less(b) {
		return a
	}
	return b
}
