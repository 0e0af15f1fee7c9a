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

package statedb

import (
	"sort"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/mpt"
)

// StateDB is the committed, versioned view of the state/code/receipt
// tables, backed by a single mpt.Trie (spec.md §4.6).
type StateDB struct {
	trie *mpt.Trie
}

// New wraps trie as a StateDB.
func New(trie *mpt.Trie) *StateDB {
	return &StateDB{trie: trie}
}

// ReadAccount returns address's account at version, or (nil, nil) if it
// does not exist.
func (s *StateDB) ReadAccount(address [20]byte, version uint64) (*Account, error) {
	raw, err := s.trie.Get(AccountKey(address), version)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeAccount(raw)
}

// ReadStorage returns the raw 32-byte value at address's slot, or a
// zero value if unset.
func (s *StateDB) ReadStorage(address [20]byte, slot [32]byte, version uint64) ([32]byte, error) {
	var out [32]byte
	raw, err := s.trie.Get(StorageKey(address, slot), version)
	if err != nil {
		if isNotFound(err) {
			return out, nil
		}
		return out, err
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}

// ReadCode returns the code blob for codeHash.
func (s *StateDB) ReadCode(codeHash [32]byte, version uint64) ([]byte, error) {
	if codeHash == EmptyCodeHash {
		return nil, nil
	}
	raw, err := s.trie.Get(CodeKey(codeHash), version)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// ReadReceipt returns the encoded receipt for (blockNumber, txIndex).
func (s *StateDB) ReadReceipt(blockNumber uint64, txIndex uint32, version uint64) ([]byte, error) {
	return s.trie.Get(ReceiptKey(blockNumber, txIndex), version)
}

func isNotFound(err error) bool {
	ce, ok := err.(*coreerr.Error)
	return ok && ce.Code == coreerr.NotFound
}

// Mutation is one pending write against a StateDB, keyed by its already
// table-prefixed trie key. A nil Value deletes the key.
type Mutation struct {
	Key   mpt.Nibbles
	Value []byte
}

// Commit sorts muts by trie key (last write per duplicate key wins,
// matching application order) to satisfy Upsert's sorted/unique
// precondition (spec.md §4.4), then applies them on top of baseVersion
// and publishes the result as newVersion.
func (s *StateDB) Commit(muts []Mutation, baseVersion, newVersion uint64) error {
	sort.SliceStable(muts, func(i, j int) bool { return muts[i].Key.Compare(muts[j].Key) < 0 })
	updates := make([]mpt.Update, 0, len(muts))
	for i, m := range muts {
		if i+1 < len(muts) && muts[i+1].Key.Equal(m.Key) {
			continue // a later mutation overwrites this one for the same key
		}
		updates = append(updates, mpt.Update{Key: m.Key, Value: m.Value})
	}
	_, err := s.trie.Upsert(updates, baseVersion, newVersion)
	return err
}

// PutAccount builds the Mutation encoding account under address.
func PutAccount(address [20]byte, account *Account) Mutation {
	return Mutation{Key: AccountKey(address), Value: account.encode()}
}

// DeleteAccount builds the Mutation removing address's account record.
func DeleteAccount(address [20]byte) Mutation {
	return Mutation{Key: AccountKey(address), Value: nil}
}

// PutStorage builds the Mutation writing value to address's slot. A
// zero value deletes the slot, matching Ethereum's sparse-storage
// convention.
func PutStorage(address [20]byte, slot [32]byte, value [32]byte) Mutation {
	if value == ([32]byte{}) {
		return Mutation{Key: StorageKey(address, slot), Value: nil}
	}
	trimmed := value[:]
	for len(trimmed) > 0 && trimmed[0] == 0 {
		trimmed = trimmed[1:]
	}
	return Mutation{Key: StorageKey(address, slot), Value: append([]byte(nil), trimmed...)}
}

// PutCode builds the Mutation storing a content-addressed code blob.
func PutCode(codeHash [32]byte, code []byte) Mutation {
	return Mutation{Key: CodeKey(codeHash), Value: code}
}

// PutReceipt builds the Mutation storing an encoded receipt.
func PutReceipt(blockNumber uint64, txIndex uint32, encoded []byte) Mutation {
	return Mutation{Key: ReceiptKey(blockNumber, txIndex), Value: encoded}
}
