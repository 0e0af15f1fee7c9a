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
	"encoding/binary"

	"github.com/erigontech/erigon-lib/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/pool"
)

// Kind tags the three logical node encodings of spec.md §3.
type Kind uint8

const (
	Branch Kind = iota
	Leaf
	Deleted
)

// ChildRef is a branch's pointer to one child: either an on-disk
// chunk-offset (the canonical identity) or an in-memory owning pointer
// that caches the decoded subtree, or both.
type ChildRef struct {
	Offset        pool.Offset // Invalid if never flushed
	MinVersion    uint64
	MinOffsetFast pool.Offset
	MinOffsetSlow pool.Offset
	Ref           []byte // the node reference: hash (32B) or inline (<32B) encoding
	Node          *Node  // cached decoded subtree, nil if not resident
}

// Node is the in-memory representation of one trie node. Branch and Leaf
// share this shape (mask==0 for Leaf); Deleted is a transient marker used
// only during Upsert.
type Node struct {
	Kind     Kind
	Path     Nibbles
	Mask     uint16        // Branch: which of 16 children are present
	Children [16]*ChildRef // Branch
	Value    []byte        // Leaf: required. Branch: optional.
	Version  uint64        // creation version

	SubtrieMinVersion uint64
	MinOffsetFast     pool.Offset
	MinOffsetSlow     pool.Offset

	ref []byte // memoized Reference()
}

// NewLeaf builds a leaf node for path/value created at version v.
func NewLeaf(path Nibbles, value []byte, v uint64) *Node {
	coreerr.Assert(value != nil, "mpt: leaf requires a value")
	return &Node{Kind: Leaf, Path: path, Value: value, Version: v, SubtrieMinVersion: v,
		MinOffsetFast: pool.Invalid, MinOffsetSlow: pool.Invalid}
}

// NewBranch builds a branch node; children/mask/value/minoffsets are
// filled in by the caller (upsert.go) since they depend on which
// children are present.
func NewBranch(path Nibbles, v uint64) *Node {
	return &Node{Kind: Branch, Path: path, Version: v,
		MinOffsetFast: pool.Invalid, MinOffsetSlow: pool.Invalid}
}

// ChildCount returns how many of the 16 slots are populated.
func (n *Node) ChildCount() int {
	c := 0
	m := n.Mask
	for m != 0 {
		c += int(m & 1)
		m >>= 1
	}
	return c
}

// SoleChildIndex returns the index of the only present child; only valid
// when ChildCount()==1 (spec.md §4.4 step 4, branch collapse).
func (n *Node) SoleChildIndex() int {
	for i := 0; i < 16; i++ {
		if n.Mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// keccak256 computes the node-reference hash function (Ethereum's
// Keccak-256, not NIST SHA3), via golang.org/x/crypto/sha3 as used
// throughout the teacher stack's test harness.
func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// reference implements the inline-or-hash rule: if the RLP encoding of a
// node is shorter than 32 bytes it is embedded directly (and is already a
// self-contained RLP item); otherwise its Keccak-256 hash, itself RLP
// string-encoded, stands in for it. Either way the returned bytes are a
// ready-to-splice RLP item for a parent list (spec.md §4.4, §GLOSSARY
// "Node reference").
func reference(raw []byte) []byte {
	if len(raw) < 32 {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	h := keccak256(raw)
	enc, err := rlp.EncodeToBytes(h)
	coreerr.Assert(err == nil, "mpt: rlp encode of node hash failed: %v", err)
	return enc
}

// isHashRef reports whether ref is a 32-byte-string RLP encoding (0xa0
// prefix + 32 bytes) as opposed to an inlined raw node encoding.
func isHashRef(ref []byte) bool { return len(ref) == 33 && ref[0] == 0xa0 }

// Reference returns (memoizing) this node's canonical RLP-hash reference,
// recursively hashing any resident children whose reference is not yet
// known. A child that is only present as an on-disk ChildRef (no resident
// Node and already has Ref set) uses its cached Ref directly without
// requiring the subtree be paged in, matching spec.md's "reference is the
// canonical identity" framing.
func (n *Node) Reference() []byte {
	if n.ref != nil {
		return n.ref
	}
	var raw []byte
	switch n.Kind {
	case Leaf:
		raw = mustRLPList(rlp.RawValue(hexPrefix(n.Path, true)), n.Value)
	case Branch:
		items := make([]any, 17)
		for i := 0; i < 16; i++ {
			if n.Mask&(1<<uint(i)) == 0 {
				items[i] = []byte{}
				continue
			}
			items[i] = rlp.RawValue(childReference(n.Children[i]))
		}
		if n.Value != nil {
			items[16] = n.Value
		} else {
			items[16] = []byte{}
		}
		inner := mustRLPEncode(items)
		innerRef := reference(inner)
		if n.Path.Size() == 0 {
			raw = inner
		} else {
			raw = mustRLPList(rlp.RawValue(hexPrefix(n.Path, false)), rlp.RawValue(innerRef))
		}
	default:
		coreerr.Assert(false, "mpt: Reference() called on a Deleted node")
	}
	n.ref = reference(raw)
	return n.ref
}

func childReference(c *ChildRef) []byte {
	if c.Ref != nil {
		return c.Ref
	}
	coreerr.Assert(c.Node != nil, "mpt: child has neither a cached reference nor a resident node")
	c.Ref = c.Node.Reference()
	return c.Ref
}

func mustRLPList(items ...any) []byte { return mustRLPEncode(items) }

func mustRLPEncode(v any) []byte {
	b, err := rlp.EncodeToBytes(v)
	coreerr.Assert(err == nil, "mpt: rlp encode failed: %v", err)
	return b
}

// --- on-disk encoding (spec.md §4.4 "Node encoding", distinct from the
// RLP hashing representation above): a small fixed header, the
// nibble-packed partial path, a reference-length byte plus reference
// bytes, then either 16 length-prefixed child references (Branch) or the
// trailing value payload (Leaf).

func encodeRefLenByte(ref []byte) byte {
	// 1..33: a zero-length ref (root-of-empty-trie sentinel) encodes as 1
	// with zero trailing bytes, matching "Reference length byte (1-33)".
	return byte(len(ref) + 1)
}

// Encode serializes n into the append-only on-disk node stream. Children
// must already have been written by commitNode/writeNode (so c.Offset/c.Ref are set)
// before the parent is encoded, enforcing spec.md §8 "children are
// written before parents".
func (n *Node) Encode() []byte {
	var buf []byte
	header := byte(n.Kind)
	buf = append(buf, header)

	path := packNibblesHeader(n.Path)
	buf = append(buf, path...)

	ref := n.Reference()
	buf = append(buf, encodeRefLenByte(ref))
	buf = append(buf, ref...)

	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], n.Version)
	buf = append(buf, verBuf[:]...)

	switch n.Kind {
	case Leaf:
		buf = append(buf, n.Value...)
	case Branch:
		hasValue := byte(0)
		if n.Value != nil {
			hasValue = 1
		}
		buf = append(buf, hasValue)
		if hasValue == 1 {
			buf = append(buf, byte(len(n.Value)))
			buf = append(buf, n.Value...)
		}
		var maskBuf [2]byte
		binary.BigEndian.PutUint16(maskBuf[:], n.Mask)
		buf = append(buf, maskBuf[:]...)
		for i := 0; i < 16; i++ {
			if n.Mask&(1<<uint(i)) == 0 {
				continue
			}
			c := n.Children[i]
			off := c.Offset.Bytes()
			buf = append(buf, off[:]...)
			var mv [8]byte
			binary.BigEndian.PutUint64(mv[:], c.MinVersion)
			buf = append(buf, mv[:]...)
			mf := c.MinOffsetFast.Bytes()
			buf = append(buf, mf[:]...)
			ms := c.MinOffsetSlow.Bytes()
			buf = append(buf, ms[:]...)
			buf = append(buf, encodeRefLenByte(c.Ref))
			buf = append(buf, c.Ref...)
		}
	}
	return buf
}

// packNibblesHeader encodes the compressed path as 1-2 header bytes plus
// packed data: byte0 = begin_nibble flag (bit7) | nibble count (low 7
// bits, count<=255 needs a second byte for the high bit, kept simple here
// since maxNibbles==255 fits one byte already).
func packNibblesHeader(n Nibbles) []byte {
	out := make([]byte, 0, 1+len(n.data))
	flag := byte(0)
	if n.beginNibble {
		flag = 0x80
	}
	out = append(out, flag|n.endNibble&0x7F)
	out = append(out, n.data...)
	return out
}

func unpackNibblesHeader(b []byte) (Nibbles, int) {
	flag := b[0]
	end := flag & 0x7F
	begin := flag&0x80 != 0
	dataLen := (int(end) + 1) / 2
	data := make([]byte, dataLen)
	copy(data, b[1:1+dataLen])
	return Nibbles{data: data, beginNibble: begin, endNibble: end}, 1 + dataLen
}

// Decode parses the on-disk encoding produced by Encode. It does not
// resolve children's resident subtrees; Children[i].Node stays nil until
// a find/traverse descends into it.
func Decode(raw []byte) *Node {
	kind := Kind(raw[0])
	i := 1
	path, used := unpackNibblesHeader(raw[i:])
	i += used

	refLen := int(raw[i]) - 1
	i++
	ref := make([]byte, refLen)
	copy(ref, raw[i:i+refLen])
	i += refLen

	n := &Node{Kind: kind, Path: path, ref: ref, MinOffsetFast: pool.Invalid, MinOffsetSlow: pool.Invalid}

	n.Version = binary.BigEndian.Uint64(raw[i : i+8])
	i += 8

	switch kind {
	case Leaf:
		n.Value = append([]byte(nil), raw[i:]...)
		n.SubtrieMinVersion = n.Version
	case Branch:
		hasValue := raw[i]
		i++
		if hasValue == 1 {
			vlen := int(raw[i])
			i++
			n.Value = append([]byte(nil), raw[i:i+vlen]...)
			i += vlen
		}
		n.Mask = binary.BigEndian.Uint16(raw[i : i+2])
		i += 2
		for idx := 0; idx < 16; idx++ {
			if n.Mask&(1<<uint(idx)) == 0 {
				continue
			}
			var offB [8]byte
			copy(offB[:], raw[i:i+8])
			i += 8
			off := pool.OffsetFromBytes(offB)
			mv := binary.BigEndian.Uint64(raw[i : i+8])
			i += 8
			var mfB, msB [8]byte
			copy(mfB[:], raw[i:i+8])
			i += 8
			copy(msB[:], raw[i:i+8])
			i += 8
			mf := pool.OffsetFromBytes(mfB)
			ms := pool.OffsetFromBytes(msB)
			crefLen := int(raw[i]) - 1
			i++
			cref := make([]byte, crefLen)
			copy(cref, raw[i:i+crefLen])
			i += crefLen
			n.Children[idx] = &ChildRef{Offset: off, MinVersion: mv, MinOffsetFast: mf, MinOffsetSlow: ms, Ref: cref}
		}
	}
	return n
}
