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

// Package statedb implements the three-table KV-over-MPT abstraction of
// spec.md §4.6: Account/storage state, code, and receipts, all living as
// disjoint-prefixed subtrees of a single mpt.Trie (erigon-lib/kv.Table
// supplies the prefix nibble), plus the per-block and per-transaction
// speculative views the parallel Executor needs.
package statedb

import (
	"github.com/category-labs/monad-core/erigon-lib/kv"
	"github.com/category-labs/monad-core/mpt"
)

func tablePrefix(t kv.Table) mpt.Nibbles {
	p := mpt.FromNibbleCount(1)
	p.Set(0, t.Prefix())
	return p
}

// AccountKey returns the trie key for address's account record.
func AccountKey(address [20]byte) mpt.Nibbles {
	return mpt.Concat(tablePrefix(kv.State), mpt.FromBytes(address[:]))
}

// StorageKey returns the trie key for one storage slot of address. It
// lives in the same State table as the account record, addressed by
// address||slot so the two are lexicographically adjacent: a traversal
// rooted at AccountKey(address) naturally visits every storage slot of
// that account as its subtree (spec.md §4.6 "per account, a second-level
// storage trie").
func StorageKey(address [20]byte, slot [32]byte) mpt.Nibbles {
	key := append(append([]byte{}, address[:]...), slot[:]...)
	return mpt.Concat(tablePrefix(kv.State), mpt.FromBytes(key))
}

// CodeKey returns the trie key for a content-addressed code blob.
func CodeKey(codeHash [32]byte) mpt.Nibbles {
	return mpt.Concat(tablePrefix(kv.Code), mpt.FromBytes(codeHash[:]))
}

// ReceiptKey returns the trie key for the receipt of transaction txIndex
// in blockNumber.
func ReceiptKey(blockNumber uint64, txIndex uint32) mpt.Nibbles {
	var b [12]byte
	putUint64(b[0:8], blockNumber)
	putUint32(b[8:12], txIndex)
	return mpt.Concat(tablePrefix(kv.Receipt), mpt.FromBytes(b[:]))
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func putUint32(b []byte, v uint32) {
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
