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
	"github.com/category-labs/monad-core/coreerr"
)

// maxNibbles bounds Nibbles to what a single size_type byte can hold,
// matching the original's `uint8_t end_nibble_` (spec.md §8 "A path
// exceeding 255 nibbles is rejected by the Nibbles constructor").
const maxNibbles = 255

// Nibbles is a half-byte sequence with a begin-nibble flag and an
// end-nibble count, packed two-to-a-byte (spec.md §3). BeginNibble is a
// bool (0 or 1) rather than an arbitrary offset, matching the original
// representation exactly: a Nibbles value is always either byte-aligned
// or off by exactly one nibble at the front.
type Nibbles struct {
	data       []byte
	beginNibble bool
	endNibble  uint8
}

// FromNibbleCount allocates a zeroed Nibbles able to hold n nibbles.
func FromNibbleCount(n int) Nibbles {
	coreerr.Assert(n <= maxNibbles, "mpt: nibble path of %d exceeds max %d", n, maxNibbles)
	return Nibbles{data: make([]byte, (n+1)/2), endNibble: uint8(n)}
}

// FromBytes builds a byte-aligned Nibbles view of b (2*len(b) nibbles).
func FromBytes(b []byte) Nibbles {
	coreerr.Assert(len(b)*2 <= maxNibbles, "mpt: nibble path of %d exceeds max %d", len(b)*2, maxNibbles)
	cp := make([]byte, len(b))
	copy(cp, b)
	return Nibbles{data: cp, endNibble: uint8(len(b) * 2)}
}

// Size returns the number of nibbles represented.
func (n Nibbles) Size() int {
	return int(n.endNibble) - boolToInt(n.beginNibble)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get returns the i'th nibble (0 <= i < Size()).
func (n Nibbles) Get(i int) byte {
	coreerr.Assert(i < n.Size(), "mpt: nibble index %d out of range (size %d)", i, n.Size())
	return getNibble(n.data, boolToInt(n.beginNibble)+i)
}

func getNibble(data []byte, idx int) byte {
	b := data[idx/2]
	if idx%2 == 0 {
		return b >> 4
	}
	return b & 0x0F
}

func setNibble(data []byte, idx int, v byte) {
	b := &data[idx/2]
	if idx%2 == 0 {
		*b = (*b &^ 0xF0) | (v << 4)
	} else {
		*b = (*b &^ 0x0F) | (v & 0x0F)
	}
}

// Set writes v (0..15) to the i'th nibble.
func (n Nibbles) Set(i int, v byte) {
	coreerr.Assert(i < n.Size(), "mpt: nibble index %d out of range (size %d)", i, n.Size())
	setNibble(n.data, boolToInt(n.beginNibble)+i, v)
}

// Substr returns a left-aligned (BeginNibble==false) copy of the nibbles
// [pos, pos+count) or to the end if count < 0.
func (n Nibbles) Substr(pos int, count int) Nibbles {
	size := n.Size()
	if count < 0 || pos+count > size {
		count = size - pos
	}
	out := FromNibbleCount(count)
	for i := 0; i < count; i++ {
		out.Set(i, n.Get(pos+i))
	}
	return out
}

// StartsWith reports whether n begins with the nibbles of prefix.
func (n Nibbles) StartsWith(prefix Nibbles) bool {
	if prefix.Size() > n.Size() {
		return false
	}
	for i := 0; i < prefix.Size(); i++ {
		if n.Get(i) != prefix.Get(i) {
			return false
		}
	}
	return true
}

// CommonPrefixLen returns how many leading nibbles a and b share.
func CommonPrefixLen(a, b Nibbles) int {
	n := a.Size()
	if b.Size() < n {
		n = b.Size()
	}
	i := 0
	for ; i < n; i++ {
		if a.Get(i) != b.Get(i) {
			break
		}
	}
	return i
}

// Concat returns a new Nibbles equal to a followed by b.
func Concat(a, b Nibbles) Nibbles {
	out := FromNibbleCount(a.Size() + b.Size())
	for i := 0; i < a.Size(); i++ {
		out.Set(i, a.Get(i))
	}
	for i := 0; i < b.Size(); i++ {
		out.Set(a.Size()+i, b.Get(i))
	}
	return out
}

// Compare gives a lexicographic ordering over nibble sequences, used to
// validate that upsert batches arrive sorted (spec.md §4.4).
func (n Nibbles) Compare(other Nibbles) int {
	size := n.Size()
	if other.Size() < size {
		size = other.Size()
	}
	for i := 0; i < size; i++ {
		a, b := n.Get(i), other.Get(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case n.Size() < other.Size():
		return -1
	case n.Size() > other.Size():
		return 1
	default:
		return 0
	}
}

// Equal reports nibble-wise equality.
func (n Nibbles) Equal(other Nibbles) bool { return n.Compare(other) == 0 }

// Bytes packs n into a byte-aligned slice, left-aligning any trailing odd
// nibble with a zero low nibble; used only for display/hex-prefix
// encoding, not as a round-trip format (use ToCompact for that).
func (n Nibbles) Bytes() []byte {
	out := FromNibbleCount(n.Size())
	for i := 0; i < n.Size(); i++ {
		out.Set(i, n.Get(i))
	}
	return out.data
}

// ToBytes/FromBytesRoundTrip provide the §8 round-trip law
// from_bytes(to_bytes(n)) == n for byte-aligned (even-length) nibbles.
func (n Nibbles) ToBytes() []byte {
	coreerr.Assert(n.Size()%2 == 0, "mpt: ToBytes requires an even nibble count")
	return n.Bytes()
}

// Hex renders n as a hex string, for debugging and log lines.
func (n Nibbles) Hex() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, n.Size())
	for i := range out {
		out[i] = hexDigits[n.Get(i)]
	}
	return string(out)
}

// hexPrefix implements Ethereum's hex-prefix encoding of a nibble path,
// used only at the point a node's canonical RLP reference is computed
// (the on-disk representation in node.go is a different, denser format).
// terminal distinguishes a leaf's path (terminator flag set) from an
// extension-like path prefix on a branch node.
func hexPrefix(n Nibbles, terminal bool) []byte {
	size := n.Size()
	oddLen := size%2 == 1
	out := make([]byte, size/2+1)
	flag := byte(0)
	if terminal {
		flag |= 0x20
	}
	if oddLen {
		flag |= 0x10
		flag |= n.Get(0)
		out[0] = flag
		for i := 0; i < size/2; i++ {
			out[i+1] = n.Get(1+2*i)<<4 | n.Get(2+2*i)
		}
		return out
	}
	out[0] = flag
	for i := 0; i < size/2; i++ {
		out[i+1] = n.Get(2*i)<<4 | n.Get(1+2*i)
	}
	return out
}
