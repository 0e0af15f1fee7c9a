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

// Package executor's transaction validation mirrors the original's
// validate_transaction.cpp error enumeration exactly (see SPEC_FULL.md
// §12): each failure is a typed coreerr.Code attached to the resulting
// Receipt rather than aborting block execution.
package executor

import (
	"github.com/holiman/uint256"

	"github.com/category-labs/monad-core/coreerr"
	emath "github.com/category-labs/monad-core/erigon-lib/common/math"
	"github.com/category-labs/monad-core/statedb"
)

const (
	txGas            = 21000
	txGasContractCreation = 53000
	txDataZeroGas    = 4
	txDataNonZeroGas = 16
)

// IntrinsicGas computes the minimum gas a transaction must supply before
// any EVM execution happens, per rules.
func IntrinsicGas(tx *Transaction, rules Rules) (uint64, error) {
	gas := uint64(txGas)
	if tx.To == nil {
		gas = txGasContractCreation
	}
	var zeros, nonZeros uint64
	for _, b := range tx.Data {
		if b == 0 {
			zeros++
		} else {
			nonZeros++
		}
	}
	add, overflow := emath.SafeMul(nonZeros, txDataNonZeroGas)
	if overflow {
		return 0, coreerr.New("executor.intrinsicgas", coreerr.GasOverflow, nil)
	}
	gas, overflow = emath.SafeAdd(gas, add)
	if overflow {
		return 0, coreerr.New("executor.intrinsicgas", coreerr.GasOverflow, nil)
	}
	add, overflow = emath.SafeMul(zeros, txDataZeroGas)
	if overflow {
		return 0, coreerr.New("executor.intrinsicgas", coreerr.GasOverflow, nil)
	}
	gas, overflow = emath.SafeAdd(gas, add)
	if overflow {
		return 0, coreerr.New("executor.intrinsicgas", coreerr.GasOverflow, nil)
	}
	if tx.To == nil && rules.Revision >= Shanghai && len(tx.Data) > rules.MaxInitCodeSize {
		return 0, coreerr.New("executor.intrinsicgas", coreerr.InitCodeLimit, nil)
	}
	return gas, nil
}

// ValidateTransaction runs every stateless and stateful check spec.md §7
// names, in the original's order, short-circuiting on the first failure.
// baseFee is the block's EIP-1559 base fee (zero pre-London-equivalent).
func ValidateTransaction(tx *Transaction, rules Rules, spec *statedb.Speculative, baseFee *uint256.Int) error {
	if tx.Type == BlobTx && !rules.HasBlobs {
		return coreerr.New("executor.validate", coreerr.TypeNotSupported, nil)
	}
	if tx.Type == SetCodeTx {
		if !rules.HasSetCodeTx {
			return coreerr.New("executor.validate", coreerr.TypeNotSupported, nil)
		}
		if len(tx.AuthList) == 0 {
			return coreerr.New("executor.validate", coreerr.EmptyAuthorizationList, nil)
		}
	}
	if tx.Type == BlobTx {
		for _, h := range tx.BlobHashes {
			if h[0] != 0x01 { // versioned hash, EIP-4844 version byte
				return coreerr.New("executor.validate", coreerr.BlobHashFormat, nil)
			}
		}
	}

	sender, err := tx.Sender()
	if err != nil {
		return err
	}

	intrinsic, err := IntrinsicGas(tx, rules)
	if err != nil {
		return err
	}
	if tx.Gas < intrinsic {
		return coreerr.New("executor.validate", coreerr.IntrinsicGasTooLow, nil)
	}

	if rules.IsEIP1559 && baseFee != nil && tx.GasFeeCap.Cmp(baseFee) < 0 {
		return coreerr.New("executor.validate", coreerr.MaxFeeBelowBase, nil)
	}

	account, err := spec.ReadAccount(sender)
	if err != nil {
		return err
	}
	var haveNonce uint64
	if account != nil {
		haveNonce = account.Nonce
	}
	if haveNonce != tx.Nonce {
		return coreerr.New("executor.validate", coreerr.BadNonce, nil).
			WithPayload(coreerr.NonceTooLow{Have: haveNonce, Want: tx.Nonce})
	}
	if _, overflow := emath.SafeAdd(tx.Nonce, 1); overflow {
		return coreerr.New("executor.validate", coreerr.NonceOverflow, nil)
	}

	cost := new(uint256.Int).Mul(tx.GasFeeCap, uint256.NewInt(tx.Gas))
	cost.Add(cost, tx.Value)
	var haveBalance *uint256.Int
	if account == nil || account.Balance == nil {
		haveBalance = uint256.NewInt(0)
	} else {
		haveBalance = account.Balance
	}
	if haveBalance.Cmp(cost) < 0 {
		return coreerr.New("executor.validate", coreerr.InsufficientBalance, nil).
			WithPayload(coreerr.InsufficientFunds{Have: haveBalance.String(), Want: cost.String()})
	}

	return nil
}
