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

// Package statetest is a scenario-runner test harness, adapted from the
// teacher's tests/state_test_util.go: a declarative, JSON-shaped fixture
// (Fixture, Account, TxFixture) seeds a fresh Harness's StateDB and
// drives one block through executor.ExecuteBlock, asserting the
// resulting root hash and receipts the way StateTest.Run asserted a
// post-state root and log hash.
package statetest

import (
	"os"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/ioengine"
	"github.com/category-labs/monad-core/mpt"
	"github.com/category-labs/monad-core/nodecache"
	"github.com/category-labs/monad-core/nodewriter"
	"github.com/category-labs/monad-core/pool"
	"github.com/category-labs/monad-core/statedb"
)

// smallChunkCapacity keeps test fixtures fast: spec.md §4.1 permits a
// smaller-than-256MiB ChunkCapacity "for tests".
const smallChunkCapacity = 64 * 1024

// Harness wires a throwaway Pool/Engine/Writer/Trie/StateDB stack for one
// test, backed by temp files that are removed on Cleanup.
type Harness struct {
	t       *testing.T
	Pool    *pool.Pool
	Engine  *ioengine.Engine
	Trie    *mpt.Trie
	StateDB *statedb.StateDB
}

// NewHarness builds a fresh Harness with historyLength versions of
// retention.
func NewHarness(t *testing.T, historyLength uint64) *Harness {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "statetest-pool-*")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Truncate(64*smallChunkCapacity))
	require.NoError(t, f.Close())

	p, err := pool.Open(pool.Config{
		BackingSources: []string{path},
		Mode:           pool.CreateIfNeeded,
		ChunkCapacity:  datasize.ByteSize(smallChunkCapacity),
	})
	require.NoError(t, err)

	eng := ioengine.New(ioengine.Config{QueueDepth: 32, ReadBufferCount: 8, WriteBufferCount: 8})
	eng.BindOwner()

	fast, err := nodewriter.New(pool.Fast, p, eng, smallChunkCapacity, nil)
	require.NoError(t, err)
	slow, err := nodewriter.New(pool.Slow, p, eng, smallChunkCapacity, nil)
	require.NoError(t, err)

	trie := mpt.New(mpt.Config{
		HistoryLength: historyLength,
		Pool:          p,
		Fast:          fast,
		Slow:          slow,
		Cache:         nodecache.New(1024),
		Engine:        eng,
	})

	h := &Harness{t: t, Pool: p, Engine: eng, Trie: trie, StateDB: statedb.New(trie)}
	t.Cleanup(func() { _ = os.Remove(path) })
	return h
}

// Seed commits accounts (and their storage/code) as version 1 on top of
// the empty version 0, and returns 1, the way
// MakePreState seeded the teacher's IntraBlockState before a StateTest
// subtest ran.
func (h *Harness) Seed(accounts map[[20]byte]Account) uint64 {
	h.t.Helper()
	var muts []statedb.Mutation
	for addr, a := range accounts {
		acct := &a.Account
		muts = append(muts, statedb.PutAccount(addr, acct))
		if len(a.Code) > 0 {
			muts = append(muts, statedb.PutCode(acct.CodeHash, a.Code))
		}
		for slot, value := range a.Storage {
			muts = append(muts, statedb.PutStorage(addr, slot, value))
		}
	}
	require.NoError(h.t, h.StateDB.Commit(muts, 0, 1))
	return 1
}

// isNotFoundErr reports whether err is the coreerr.NotFound a fresh key
// lookup returns.
func isNotFoundErr(err error) bool {
	ce, ok := err.(*coreerr.Error)
	return ok && ce.Code == coreerr.NotFound
}

// RequireAbsent asserts address has no account record as of version,
// e.g. after EIP-161 empty-account removal or an explicit self-destruct.
func (h *Harness) RequireAbsent(t *testing.T, address [20]byte, version uint64) {
	t.Helper()
	raw, err := h.Trie.Get(statedb.AccountKey(address), version)
	if err != nil {
		require.True(t, isNotFoundErr(err), "unexpected error reading account: %v", err)
		return
	}
	require.Nil(t, raw, "expected address %x to have no account record", address)
}
