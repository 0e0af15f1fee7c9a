// Copyright 2021 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// Copyright 2024 The Monad Core Authors
// (adapted for this core's header/config types)
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

package executor

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BlobGasSchedule is the Cancun+ EIP-4844 fee-market parameters, supplied
// alongside the ChainSchedule rather than by it (target blob gas per
// block, the minimum blob base fee, the price update fraction, and the
// blob gas charged per blob).
type BlobGasSchedule struct {
	TargetBlobGasPerBlock  uint64
	MinBlobGasPrice        uint64
	BlobGasPriceUpdateFrac uint64
	BlobGasPerBlob         uint64
}

// CalcExcessBlobGas implements calc_excess_blob_gas from EIP-4844: the
// running total of blob gas consumed beyond each block's target,
// decaying back toward zero whenever usage stays under target.
func CalcExcessBlobGas(sched BlobGasSchedule, parentExcessBlobGas, parentBlobGasUsed uint64) uint64 {
	total := parentExcessBlobGas + parentBlobGasUsed
	if total < sched.TargetBlobGasPerBlock {
		return 0
	}
	return total - sched.TargetBlobGasPerBlock
}

// FakeExponential approximates factor * e**(numeratorValue/denom) via the
// Taylor-series expansion specified by EIP-4844, used to derive the blob
// base fee from accumulated excess blob gas.
func FakeExponential(factor, denom *uint256.Int, numeratorValue uint64) (*uint256.Int, error) {
	numerator := uint256.NewInt(numeratorValue)
	output := uint256.NewInt(0)
	numeratorAccum := new(uint256.Int)
	if _, overflow := numeratorAccum.MulOverflow(factor, denom); overflow {
		return nil, fmt.Errorf("executor: FakeExponential overflow in factor*denom (factor=%v, denom=%v)", factor, denom)
	}
	divisor := new(uint256.Int)
	for i := 1; numeratorAccum.Sign() > 0; i++ {
		if _, overflow := output.AddOverflow(output, numeratorAccum); overflow {
			return nil, fmt.Errorf("executor: FakeExponential overflow accumulating output")
		}
		if _, overflow := divisor.MulOverflow(denom, uint256.NewInt(uint64(i))); overflow {
			return nil, fmt.Errorf("executor: FakeExponential overflow computing divisor at i=%d", i)
		}
		if _, overflow := numeratorAccum.MulDivOverflow(numeratorAccum, numerator, divisor); overflow {
			return nil, fmt.Errorf("executor: FakeExponential overflow in MulDiv at i=%d", i)
		}
	}
	return output.Div(output, denom), nil
}

// GetBlobGasPrice derives the per-byte blob base fee from excessBlobGas.
func GetBlobGasPrice(sched BlobGasSchedule, excessBlobGas uint64) (*uint256.Int, error) {
	return FakeExponential(uint256.NewInt(sched.MinBlobGasPrice), uint256.NewInt(sched.BlobGasPriceUpdateFrac), excessBlobGas)
}

// GetBlobGasUsed returns the blob gas consumed by a transaction carrying
// numBlobs blob hashes.
func GetBlobGasUsed(sched BlobGasSchedule, numBlobs int) uint64 {
	return uint64(numBlobs) * sched.BlobGasPerBlob
}
