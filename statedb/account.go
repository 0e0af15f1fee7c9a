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
	"github.com/erigontech/erigon-lib/rlp"
	"github.com/holiman/uint256"

	"github.com/category-labs/monad-core/coreerr"
)

// EmptyCodeHash is the Keccak-256 hash of the empty byte string, the
// CodeHash value of every externally-owned account.
var EmptyCodeHash = [32]byte{
	0xc5, 0xd2, 0x46, 0x01, 0x86, 0xf7, 0x23, 0x3c, 0x92, 0x7e, 0x7d, 0xb2, 0xdc, 0xc7, 0x03, 0xc0,
	0xe5, 0x00, 0xb6, 0x53, 0xca, 0x82, 0x27, 0x3b, 0x7b, 0xfa, 0xd8, 0x04, 0x5d, 0x85, 0xa4, 0x70,
}

// Account is the state-table record for one address (spec.md §4.6).
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash [32]byte
}

// IsEmpty reports the EIP-161 "empty account" condition used to decide
// whether an account should be removed from the trie rather than
// retained with zero value.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && a.CodeHash == EmptyCodeHash
}

func (a *Account) encode() []byte {
	balance := a.Balance
	if balance == nil {
		balance = uint256.NewInt(0)
	}
	b, err := rlp.EncodeToBytes([]any{a.Nonce, balance, a.CodeHash[:]})
	coreerr.Assert(err == nil, "statedb: account rlp encode failed: %v", err)
	return b
}

func decodeAccount(raw []byte) (*Account, error) {
	var fields struct {
		Nonce    uint64
		Balance  *uint256.Int
		CodeHash []byte
	}
	if err := rlp.DecodeBytes(raw, &fields); err != nil {
		return nil, coreerr.New("statedb.decodeAccount", coreerr.IOFailed, err)
	}
	a := &Account{Nonce: fields.Nonce, Balance: fields.Balance}
	copy(a.CodeHash[:], fields.CodeHash)
	return a, nil
}
