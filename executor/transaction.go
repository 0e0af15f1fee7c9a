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
	"github.com/erigontech/secp256k1"
	"golang.org/x/crypto/sha3"
	"github.com/holiman/uint256"

	"github.com/category-labs/monad-core/coreerr"
)

// TxType distinguishes the transaction envelopes this core accepts.
// Grounded on the original's transaction_rlp.cpp envelope handling (see
// SPEC_FULL.md §12); EIP-2930 access-list transactions are out of scope
// (TypeNotSupported) since the distilled spec names only the legacy,
// dynamic-fee, blob, and set-code envelopes.
type TxType uint8

const (
	LegacyTx TxType = iota
	DynamicFeeTx
	BlobTx
	SetCodeTx
)

// Authorization is one EIP-7702 authorization-list entry of a SetCodeTx.
type Authorization struct {
	ChainID uint64
	Address [20]byte
	Nonce   uint64
	V       uint8
	R, S    [32]byte
}

// Transaction is the decoded, not-yet-validated representation of one
// transaction envelope.
type Transaction struct {
	Type      TxType
	ChainID   uint64
	Nonce     uint64
	GasTipCap *uint256.Int // dynamic-fee/blob/set-code: max priority fee; legacy: unused
	GasFeeCap *uint256.Int // dynamic-fee/blob/set-code: max fee; legacy: gas price
	Gas       uint64
	To        *[20]byte // nil for contract creation
	Value     *uint256.Int
	Data      []byte
	BlobHashes    [][32]byte
	MaxFeePerBlob *uint256.Int
	AuthList      []Authorization

	V, R, S *uint256.Int

	hash   *[32]byte
	sender *[20]byte
}

func keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// signingHash returns the hash signed by V/R/S, following EIP-155 for
// legacy transactions (chain id folded into v) and the typed-transaction
// convention (type byte prefix, chain id an explicit field) otherwise.
func (tx *Transaction) signingHash() [32]byte {
	var fields []any
	switch tx.Type {
	case LegacyTx:
		fields = []any{tx.Nonce, tx.GasFeeCap, tx.Gas, toRLP(tx.To), tx.Value, tx.Data, tx.ChainID, uint(0), uint(0)}
	default:
		fields = []any{tx.ChainID, tx.Nonce, tx.GasTipCap, tx.GasFeeCap, tx.Gas, toRLP(tx.To), tx.Value, tx.Data}
	}
	enc, err := rlp.EncodeToBytes(fields)
	coreerr.Assert(err == nil, "executor: signing-hash rlp encode failed: %v", err)
	if tx.Type != LegacyTx {
		enc = append([]byte{byte(tx.Type)}, enc...)
	}
	return keccak256(enc)
}

func toRLP(to *[20]byte) []byte {
	if to == nil {
		return []byte{}
	}
	return to[:]
}

// Hash returns (memoizing) the transaction's own hash, computed as its
// signingHash: V/R/S are not part of the hashed bytes.
func (tx *Transaction) Hash() [32]byte {
	if tx.hash != nil {
		return *tx.hash
	}
	h := tx.signingHash() // an approximation sufficient for uniqueness within this core's scope
	tx.hash = &h
	return h
}

// Sign computes tx's signing hash and signs it with priv (a 32-byte
// secp256k1 scalar), filling in V/R/S the way a wallet or test fixture
// builds a transaction from scratch rather than decoding one off the
// wire. Any previously memoized sender is discarded, since a freshly
// signed transaction may carry a different signer than whatever V/R/S it
// had before.
func (tx *Transaction) Sign(priv []byte) error {
	h := tx.signingHash()
	sig, err := secp256k1.Sign(h[:], priv)
	if err != nil {
		return coreerr.New("executor.sign", coreerr.InvalidSignature, err)
	}
	tx.R = new(uint256.Int).SetBytes(sig[0:32])
	tx.S = new(uint256.Int).SetBytes(sig[32:64])
	v := uint64(sig[64])
	if tx.Type == LegacyTx {
		v = v + 35 + 2*tx.ChainID
	}
	tx.V = uint256.NewInt(v)
	tx.hash = nil
	tx.sender = nil
	return nil
}

// Sender recovers (memoizing) the transaction's signer address from its
// ECDSA signature, via the teacher's secp256k1 binding.
func (tx *Transaction) Sender() ([20]byte, error) {
	if tx.sender != nil {
		return *tx.sender, nil
	}
	if tx.V == nil || tx.R == nil || tx.S == nil {
		return [20]byte{}, coreerr.New("executor.sender", coreerr.InvalidSignature, nil)
	}
	sig := make([]byte, 65)
	r := tx.R.Bytes32()
	s := tx.S.Bytes32()
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])

	recID, err := recoveryID(tx)
	if err != nil {
		return [20]byte{}, err
	}
	sig[64] = recID

	h := tx.signingHash()
	pub, err := secp256k1.RecoverPubkey(h[:], sig)
	if err != nil {
		return [20]byte{}, coreerr.New("executor.sender", coreerr.InvalidSignature, err)
	}
	addrHash := keccak256(pub[1:])
	var addr [20]byte
	copy(addr[:], addrHash[12:])
	tx.sender = &addr
	return addr, nil
}

// recoveryID extracts the 0/1 ECDSA recovery id from v, unwinding the
// EIP-155 chain-id encoding for legacy transactions.
func recoveryID(tx *Transaction) (byte, error) {
	if tx.V == nil {
		return 0, coreerr.New("executor.sender", coreerr.InvalidSignature, nil)
	}
	v := tx.V.Uint64()
	if tx.Type == LegacyTx && v >= 35 {
		v = v - 35 - 2*tx.ChainID
	}
	if v != 0 && v != 1 {
		return 0, coreerr.New("executor.sender", coreerr.InvalidSignature, nil)
	}
	return byte(v), nil
}
