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

package statetest

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/category-labs/monad-core/executor"
	"github.com/category-labs/monad-core/statedb"
)

// Account is one pre-state entry of a Fixture, the JSON-fixture
// counterpart of the teacher's types.GenesisAlloc entries.
type Account struct {
	statedb.Account
	Code    []byte
	Storage map[[32]byte][32]byte
}

// NewAccount builds an Account, deriving CodeHash from code the way
// IntraBlockState.SetCode does internally.
func NewAccount(nonce uint64, balance *uint256.Int, code []byte) Account {
	a := Account{Account: statedb.Account{Nonce: nonce, Balance: balance, CodeHash: statedb.EmptyCodeHash}, Code: code}
	if len(code) > 0 {
		h := sha3.NewLegacyKeccak256()
		h.Write(code)
		copy(a.CodeHash[:], h.Sum(nil))
	}
	return a
}

// TxFixture is one transaction of a Fixture plus the outcome the fixture
// author expects, the counterpart of the teacher's stTransaction/
// stPostState pair (narrowed to what this core's Receipt can express).
type TxFixture struct {
	Tx            *executor.Transaction
	WantGasUsed   uint64
	ExpectFailure bool // true if Tx must fail validation or execution
}

// Fixture is a declarative one-block scenario: seed Pre, run Txs,
// compare the resulting trie root against WantRoot and each receipt
// against its TxFixture (spec.md §8's concrete scenarios).
type Fixture struct {
	BlockNumber uint64
	BlockTime   uint64
	Schedule    executor.ChainSchedule
	Blob        executor.BlobGasSchedule
	BaseFee     *uint256.Int
	Concurrency int

	Pre      map[[20]byte]Account
	Txs      []TxFixture
	WantRoot *[32]byte // nil skips the root check
}

// Run seeds Pre into a fresh Harness, executes Txs as one block via
// executor.ExecuteBlock, and asserts WantRoot/the per-transaction
// expectations, the way StateTest.Run asserted a post-state root and log
// hash after RunNoVerify.
func (f Fixture) Run(t *testing.T, run executor.RunFunc) []*executor.Receipt {
	t.Helper()

	h := NewHarness(t, 256)
	base := h.Seed(f.Pre)

	concurrency := f.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	exec := executor.New(executor.Config{Schedule: f.Schedule, Blob: f.Blob, Concurrency: concurrency}, run)

	txs := make([]*executor.Transaction, len(f.Txs))
	for i, tf := range f.Txs {
		txs[i] = tf.Tx
	}

	receipts, err := exec.ExecuteBlock(h.StateDB, base, base+1, f.BlockNumber, f.BlockTime, txs, f.BaseFee)
	require.NoError(t, err)
	require.Len(t, receipts, len(f.Txs))

	for i, tf := range f.Txs {
		if tf.ExpectFailure {
			require.NotEqual(t, uint16(0), uint16(receipts[i].Status), "tx %d: expected a failure status", i)
			continue
		}
		require.Equal(t, uint16(0), uint16(receipts[i].Status), "tx %d: unexpected failure status %v", i, receipts[i].Status)
		require.Equal(t, tf.WantGasUsed, receipts[i].GasUsed, "tx %d: gas used mismatch", i)
	}

	if f.WantRoot != nil {
		got, err := h.Trie.RootHash(base + 1)
		require.NoError(t, err)
		require.Equal(t, *f.WantRoot, got, "post-block root mismatch")
	}
	return receipts
}
