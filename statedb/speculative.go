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
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/category-labs/monad-core/mpt"
)

type slotKey struct {
	Address [20]byte
	Slot    [32]byte
}

// AccessLog records which addresses and storage slots a transaction
// touched, independent of whether the touch was a read or a write
// (spec.md §4.6 "Access Log"). It is exposed through
// Speculative.AccessLog; nothing else in this module reads it, so neither
// the executor's gas accounting nor CopyTrie makes use of it.
type AccessLog struct {
	Addresses mapset.Set[[20]byte]
	Slots     mapset.Set[slotKey]
}

func newAccessLog() *AccessLog {
	return &AccessLog{Addresses: mapset.NewThreadUnsafeSet[[20]byte](), Slots: mapset.NewThreadUnsafeSet[slotKey]()}
}

// Speculative is one transaction's tentative view of state: reads are
// served from the committed base version overlaid with this
// transaction's own pending writes, and nothing is durably written until
// the executor decides the transaction can commit (spec.md §4.6
// "Speculative State... per-transaction speculative merge-or-retry").
type Speculative struct {
	db      *StateDB
	version uint64

	// overlay holds mutations already absorbed by this block's earlier
	// transactions, for a retried speculative attempt to read (spec.md
	// §4.6: a conflicting transaction is re-executed against the
	// updated-so-far block state, not against the stale base version).
	overlay map[string]Mutation

	accessLog *AccessLog
	readKeys  map[string]struct{}
	writes    map[string]Mutation
}

// NewSpeculative opens a speculative view of db as of version.
func NewSpeculative(db *StateDB, version uint64) *Speculative {
	return NewSpeculativeWithOverlay(db, version, nil)
}

// NewSpeculativeWithOverlay opens a speculative view of db as of version,
// preferring overlay's entries over the committed base for any key they
// cover. Used to retry a transaction whose read set conflicted with an
// earlier transaction's writes.
func NewSpeculativeWithOverlay(db *StateDB, version uint64, overlay map[string]Mutation) *Speculative {
	return &Speculative{
		db:        db,
		version:   version,
		overlay:   overlay,
		accessLog: newAccessLog(),
		readKeys:  make(map[string]struct{}),
		writes:    make(map[string]Mutation),
	}
}

// readOverlay returns the overlay mutation for key, if any.
func (s *Speculative) readOverlay(key mpt.Nibbles) (Mutation, bool) {
	if s.overlay == nil {
		return Mutation{}, false
	}
	m, ok := s.overlay[key.Hex()]
	return m, ok
}

func (s *Speculative) recordRead(key mpt.Nibbles) {
	s.readKeys[key.Hex()] = struct{}{}
}

// ReadAccount reads address, preferring this transaction's own pending
// write over the committed base version.
func (s *Speculative) ReadAccount(address [20]byte) (*Account, error) {
	s.accessLog.Addresses.Add(address)
	key := AccountKey(address)
	if m, ok := s.writes[key.Hex()]; ok {
		if m.Value == nil {
			return nil, nil
		}
		return decodeAccount(m.Value)
	}
	if m, ok := s.readOverlay(key); ok {
		if m.Value == nil {
			return nil, nil
		}
		return decodeAccount(m.Value)
	}
	// Only a read that falls all the way through to the committed base
	// version can be stale relative to block.committedWrites: an overlay
	// hit already reflects every transaction absorbed before this one, so
	// it can never conflict. Recording it anyway would make a retried
	// attempt conflict with the very commit it was retried against.
	s.recordRead(key)
	return s.db.ReadAccount(address, s.version)
}

// WriteAccount stages account as address's new state.
func (s *Speculative) WriteAccount(address [20]byte, account *Account) {
	s.accessLog.Addresses.Add(address)
	m := PutAccount(address, account)
	s.writes[m.Key.Hex()] = m
}

// DeleteAccount stages address's removal.
func (s *Speculative) DeleteAccount(address [20]byte) {
	s.accessLog.Addresses.Add(address)
	m := DeleteAccount(address)
	s.writes[m.Key.Hex()] = m
}

// ReadStorage reads address's slot, preferring a pending write.
func (s *Speculative) ReadStorage(address [20]byte, slot [32]byte) ([32]byte, error) {
	s.accessLog.Slots.Add(slotKey{address, slot})
	key := StorageKey(address, slot)
	if m, ok := s.writes[key.Hex()]; ok {
		var out [32]byte
		copy(out[32-len(m.Value):], m.Value)
		return out, nil
	}
	if m, ok := s.readOverlay(key); ok {
		var out [32]byte
		copy(out[32-len(m.Value):], m.Value)
		return out, nil
	}
	s.recordRead(key)
	return s.db.ReadStorage(address, slot, s.version)
}

// WriteStorage stages value as address's new slot content.
func (s *Speculative) WriteStorage(address [20]byte, slot [32]byte, value [32]byte) {
	s.accessLog.Slots.Add(slotKey{address, slot})
	m := PutStorage(address, slot, value)
	s.writes[m.Key.Hex()] = m
}

// ReadCode reads codeHash's blob; code is content-addressed and
// immutable, so no write-overlay tracking is needed.
func (s *Speculative) ReadCode(codeHash [32]byte) ([]byte, error) {
	return s.db.ReadCode(codeHash, s.version)
}

// WriteCode stages a content-addressed code blob.
func (s *Speculative) WriteCode(codeHash [32]byte, code []byte) {
	m := PutCode(codeHash, code)
	s.writes[m.Key.Hex()] = m
}

// AccessLog returns the set of addresses/slots this transaction touched.
func (s *Speculative) AccessLog() *AccessLog { return s.accessLog }

// Mutations returns this transaction's pending writes, in no particular
// order (callers sort via StateDB.Commit).
func (s *Speculative) Mutations() []Mutation {
	out := make([]Mutation, 0, len(s.writes))
	for _, m := range s.writes {
		out = append(out, m)
	}
	return out
}

// ConflictsWith reports whether any key this transaction read was also
// written by an earlier transaction in the same block, per the set of
// keys in committedWrites (spec.md §4.6 "speculative merge-or-retry": a
// transaction whose read set overlaps a predecessor's write set must be
// re-executed against the updated base).
func (s *Speculative) ConflictsWith(committedWrites map[string]struct{}) bool {
	for k := range s.readKeys {
		if _, ok := committedWrites[k]; ok {
			return true
		}
	}
	return false
}

// WriteKeys returns the hex-encoded trie keys this transaction wrote,
// for folding into the next transaction's conflict-check set.
func (s *Speculative) WriteKeys() map[string]struct{} {
	out := make(map[string]struct{}, len(s.writes))
	for k := range s.writes {
		out[k] = struct{}{}
	}
	return out
}
