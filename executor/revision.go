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

// Revision identifies an EVM fork whose transaction-validation and
// gas-accounting rules the Executor must apply (spec.md §4.6
// "revision-parameterized dispatch").
type Revision uint8

const (
	Homestead Revision = iota
	SpuriousDragon
	Shanghai
	Cancun
	Prague
)

func (r Revision) String() string {
	switch r {
	case Homestead:
		return "homestead"
	case SpuriousDragon:
		return "spurious-dragon"
	case Shanghai:
		return "shanghai"
	case Cancun:
		return "cancun"
	case Prague:
		return "prague"
	default:
		return "unknown-revision"
	}
}

// ChainSchedule maps block numbers/timestamps onto the Revision active at
// that point, following the teacher's chain.Config convention of
// separate block-activated and time-activated forks (pre/post the Paris
// merge).
type ChainSchedule struct {
	SpuriousDragonBlock uint64
	ShanghaiTime        uint64
	CancunTime          uint64
	PragueTime          uint64
}

// RevisionAt resolves the Revision active for a block with the given
// number and timestamp.
func (c ChainSchedule) RevisionAt(blockNumber, blockTime uint64) Revision {
	switch {
	case blockTime >= c.PragueTime && c.PragueTime > 0:
		return Prague
	case blockTime >= c.CancunTime && c.CancunTime > 0:
		return Cancun
	case blockTime >= c.ShanghaiTime && c.ShanghaiTime > 0:
		return Shanghai
	case blockNumber >= c.SpuriousDragonBlock:
		return SpuriousDragon
	default:
		return Homestead
	}
}

// Rules is the resolved set of per-revision feature flags the
// transaction validator and gas schedule consult, avoiding a Revision
// comparison scattered through the codebase (the teacher's
// chain.Rules idiom).
type Rules struct {
	Revision           Revision
	IsEIP155           bool // replay-protected signatures (chain id in v)
	IsEIP1559          bool // dynamic fee transactions
	HasWithdrawals     bool // Shanghai+: validator withdrawals processed post-block
	HasBlobs           bool // Cancun+: EIP-4844 blob transactions and excess-blob-gas
	HasSetCodeTx       bool // Prague+: EIP-7702 authorization-list transactions
	MaxInitCodeSize    int
	MaxCodeSize        int
}

// RulesFor derives Rules for r.
func RulesFor(r Revision) Rules {
	rules := Rules{Revision: r, IsEIP155: true, MaxCodeSize: 24576, MaxInitCodeSize: 2 * 24576}
	// EIP-1559 (dynamic fee transactions) landed at London, which falls
	// between SpuriousDragon and Shanghai and is not named in this fork
	// list; Shanghai is the first named revision after it, so it is in
	// effect there and later.
	rules.IsEIP1559 = r >= Shanghai
	rules.HasWithdrawals = r >= Shanghai
	rules.HasBlobs = r >= Cancun
	rules.HasSetCodeTx = r >= Prague
	return rules
}
