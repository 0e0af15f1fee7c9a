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

// BlockState accumulates the in-order-committed mutations of one block's
// transactions before they are flushed to the trie as a single Upsert
// batch (spec.md §4.6 "Block State"). Transactions execute out of order
// and speculatively (see Speculative), but BlockState.Absorb is always
// called in transaction index order, so later transactions' conflict
// checks see every strictly-earlier transaction's writes.
type BlockState struct {
	db          *StateDB
	baseVersion uint64

	committedWrites map[string]struct{}
	overlay         map[string]Mutation
	mutations       []Mutation
}

// NewBlockState opens a BlockState building on db at baseVersion.
func NewBlockState(db *StateDB, baseVersion uint64) *BlockState {
	return &BlockState{
		db:              db,
		baseVersion:     baseVersion,
		committedWrites: make(map[string]struct{}),
		overlay:         make(map[string]Mutation),
	}
}

// Conflicts reports whether spec's read set overlaps any transaction
// already absorbed into this block.
func (b *BlockState) Conflicts(spec *Speculative) bool {
	return spec.ConflictsWith(b.committedWrites)
}

// Absorb folds a non-conflicting transaction's writes into the block,
// making them visible to ConflictsWith checks and Overlay reads for every
// later transaction index (in-order commit, spec.md §4.6).
func (b *BlockState) Absorb(spec *Speculative) {
	for _, m := range spec.Mutations() {
		b.overlay[m.Key.Hex()] = m
	}
	for k := range spec.WriteKeys() {
		b.committedWrites[k] = struct{}{}
	}
	b.mutations = append(b.mutations, spec.Mutations()...)
}

// AbsorbMutation folds an extra write (e.g. a transaction receipt) into
// the block that did not come from a Speculative's own write set.
func (b *BlockState) AbsorbMutation(m Mutation) {
	b.mutations = append(b.mutations, m)
}

// Overlay returns the mutations absorbed so far, keyed by hex trie key,
// for a conflicting transaction's retry to read against.
func (b *BlockState) Overlay() map[string]Mutation {
	return b.overlay
}

// Flush publishes every mutation absorbed so far as newVersion.
func (b *BlockState) Flush(newVersion uint64) error {
	return b.db.Commit(b.mutations, b.baseVersion, newVersion)
}
