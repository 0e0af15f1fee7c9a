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

import (
	"encoding/binary"
	"errors"

	"github.com/category-labs/monad-core/coreerr"
)

// magic identifies an initialized pool's metadata header (spec.md §6.1).
var magic = [4]byte{'M', 'N', 'D', '0'}

const metaVersion = 1

// listHeader mirrors one of the three list headers in the metadata: begin
// chunk id, end chunk id (exclusive, in insertion order), and count.
type listHeader struct {
	Begin ChunkID
	End   ChunkID
	Count uint32
}

// header is the fixed-size portion of the dual-mirrored metadata (§6.1).
// Two copies are kept at a capacity/2 stride in the first conventional
// chunk; each carries its own Dirty flag so a torn write is recoverable by
// falling back to the clean copy.
type header struct {
	Magic          [4]byte
	Version        uint32
	Dirty          uint8
	_              [3]byte // pad
	FreeCapacity   uint64
	Free, Fast, Slow listHeader
	WIPSlowOffset  Offset
	LatestRoot     Offset
	VotedVersion   uint64
	VotedBlockID   [32]byte
}

const headerSize = 4 + 4 + 1 + 3 + 8 + 3*12 + 8 + 8 + 8 + 32

func (h *header) marshal() []byte {
	b := make([]byte, headerSize)
	i := 0
	copy(b[i:i+4], h.Magic[:])
	i += 4
	binary.BigEndian.PutUint32(b[i:i+4], h.Version)
	i += 4
	b[i] = h.Dirty
	i += 4 // includes pad
	binary.BigEndian.PutUint64(b[i:i+8], h.FreeCapacity)
	i += 8
	for _, lh := range []listHeader{h.Free, h.Fast, h.Slow} {
		binary.BigEndian.PutUint32(b[i:i+4], uint32(lh.Begin))
		binary.BigEndian.PutUint32(b[i+4:i+8], uint32(lh.End))
		binary.BigEndian.PutUint32(b[i+8:i+12], lh.Count)
		i += 12
	}
	wo := h.WIPSlowOffset.Bytes()
	copy(b[i:i+8], wo[:])
	i += 8
	lr := h.LatestRoot.Bytes()
	copy(b[i:i+8], lr[:])
	i += 8
	binary.BigEndian.PutUint64(b[i:i+8], h.VotedVersion)
	i += 8
	copy(b[i:i+32], h.VotedBlockID[:])
	return b
}

func (h *header) unmarshal(b []byte) error {
	if len(b) < headerSize {
		return errors.New("pool: truncated metadata header")
	}
	i := 0
	copy(h.Magic[:], b[i:i+4])
	i += 4
	h.Version = binary.BigEndian.Uint32(b[i : i+4])
	i += 4
	h.Dirty = b[i]
	i += 4
	h.FreeCapacity = binary.BigEndian.Uint64(b[i : i+8])
	i += 8
	lists := [3]*listHeader{&h.Free, &h.Fast, &h.Slow}
	for _, lh := range lists {
		lh.Begin = ChunkID(binary.BigEndian.Uint32(b[i : i+4]))
		lh.End = ChunkID(binary.BigEndian.Uint32(b[i+4 : i+8]))
		lh.Count = binary.BigEndian.Uint32(b[i+8 : i+12])
		i += 12
	}
	var wo, lr [8]byte
	copy(wo[:], b[i:i+8])
	h.WIPSlowOffset = OffsetFromBytes(wo)
	i += 8
	copy(lr[:], b[i:i+8])
	h.LatestRoot = OffsetFromBytes(lr)
	i += 8
	h.VotedVersion = binary.BigEndian.Uint64(b[i : i+8])
	i += 8
	copy(h.VotedBlockID[:], b[i:i+32])
	return nil
}

func (h *header) validMagic() bool { return h.Magic == magic }

// mirror is one of the two dual-written copies of header, each occupying
// its own capacity/2 stride inside the first conventional chunk.
type mirror struct {
	offset int64
	hdr    header
}

// loadMirrors reads both metadata copies from raw and resolves which is
// authoritative: dual-mirror write protocol writes A, fences, writes B; on
// open, a dirty copy is never trusted over a clean one (spec.md §6.1).
func loadMirrors(a, b []byte) (*header, error) {
	var ha, hb header
	errA := ha.unmarshal(a)
	errB := hb.unmarshal(b)

	aOK := errA == nil && ha.validMagic() && ha.Dirty == 0
	bOK := errB == nil && hb.validMagic() && hb.Dirty == 0
	switch {
	case aOK:
		return &ha, nil
	case bOK:
		return &hb, nil
	default:
		return nil, coreerr.New("pool.open", coreerr.BadMagic, errors.New("both metadata mirrors invalid or dirty"))
	}
}
