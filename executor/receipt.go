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

package executor

import (
	"github.com/erigontech/erigon-lib/rlp"

	"github.com/category-labs/monad-core/coreerr"
)

// Log is a minimal EVM log entry: the event surface a Receipt records,
// without interpreting its meaning (EVM interpreter internals are out of
// scope; logs are simply what the externally supplied EVM host reports).
type Log struct {
	Address [20]byte
	Topics  [][32]byte
	Data    []byte
}

// Receipt is the per-transaction outcome the executor commits to the
// Receipt table (spec.md §4.6). Status carries a coreerr.Code: Unknown
// means success, any other code names the validation failure that
// prevented (or, for a post-intrinsic-gas EVM revert, did not prevent)
// the transaction from being included.
type Receipt struct {
	Status            coreerr.Code
	GasUsed           uint64
	CumulativeGasUsed uint64
	Logs              []Log
	ContractAddress   *[20]byte
}

func (r *Receipt) encode() []byte {
	logs := make([][]any, len(r.Logs))
	for i, l := range r.Logs {
		topics := make([][]byte, len(l.Topics))
		for j, t := range l.Topics {
			topics[j] = t[:]
		}
		logs[i] = []any{l.Address[:], topics, l.Data}
	}
	contract := []byte{}
	if r.ContractAddress != nil {
		contract = r.ContractAddress[:]
	}
	b, err := rlp.EncodeToBytes([]any{uint16(r.Status), r.GasUsed, r.CumulativeGasUsed, logs, contract})
	coreerr.Assert(err == nil, "executor: receipt rlp encode failed: %v", err)
	return b
}
