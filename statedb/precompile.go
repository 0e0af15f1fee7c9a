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

import "github.com/holiman/uint256"

// PrecompileHost is the state-access surface an externally supplied EVM
// host exposes to a precompiled contract (spec.md Non-goals excludes EVM
// interpreter internals; this is only the wiring surface a precompile
// needs from State, grounded on the original's staking-contract host
// binding shape, supplemented without any staking-specific logic — see
// SPEC_FULL.md §12).
type PrecompileHost interface {
	GetBalance(address [20]byte) *uint256.Int
	GetNonce(address [20]byte) uint64
	GetState(address [20]byte, slot [32]byte) [32]byte
	SetState(address [20]byte, slot [32]byte, value [32]byte)
	AddBalance(address [20]byte, amount *uint256.Int)
	SubBalance(address [20]byte, amount *uint256.Int)
	BlockNumber() uint64
	BlockTime() uint64
}

// speculativeHost adapts a *Speculative to PrecompileHost so an EVM host
// implementation can be handed a live per-transaction view without
// depending on the Speculative type directly.
type speculativeHost struct {
	s           *Speculative
	blockNumber uint64
	blockTime   uint64
}

// NewPrecompileHost wraps s as a PrecompileHost for the given block
// context.
func NewPrecompileHost(s *Speculative, blockNumber, blockTime uint64) PrecompileHost {
	return &speculativeHost{s: s, blockNumber: blockNumber, blockTime: blockTime}
}

func (h *speculativeHost) GetBalance(address [20]byte) *uint256.Int {
	a, _ := h.s.ReadAccount(address)
	if a == nil || a.Balance == nil {
		return uint256.NewInt(0)
	}
	return a.Balance.Clone()
}

func (h *speculativeHost) GetNonce(address [20]byte) uint64 {
	a, _ := h.s.ReadAccount(address)
	if a == nil {
		return 0
	}
	return a.Nonce
}

func (h *speculativeHost) GetState(address [20]byte, slot [32]byte) [32]byte {
	v, _ := h.s.ReadStorage(address, slot)
	return v
}

func (h *speculativeHost) SetState(address [20]byte, slot [32]byte, value [32]byte) {
	h.s.WriteStorage(address, slot, value)
}

func (h *speculativeHost) AddBalance(address [20]byte, amount *uint256.Int) {
	a, _ := h.s.ReadAccount(address)
	if a == nil {
		a = &Account{Balance: uint256.NewInt(0), CodeHash: EmptyCodeHash}
	}
	bal := a.Balance.Clone()
	bal.Add(bal, amount)
	h.s.WriteAccount(address, &Account{Nonce: a.Nonce, Balance: bal, CodeHash: a.CodeHash})
}

func (h *speculativeHost) SubBalance(address [20]byte, amount *uint256.Int) {
	a, _ := h.s.ReadAccount(address)
	if a == nil {
		a = &Account{Balance: uint256.NewInt(0), CodeHash: EmptyCodeHash}
	}
	bal := a.Balance.Clone()
	bal.Sub(bal, amount)
	h.s.WriteAccount(address, &Account{Nonce: a.Nonce, Balance: bal, CodeHash: a.CodeHash})
}

func (h *speculativeHost) BlockNumber() uint64 { return h.blockNumber }
func (h *speculativeHost) BlockTime() uint64   { return h.blockTime }
