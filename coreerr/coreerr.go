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

// Package coreerr implements the tagged status-code error model described
// in the core's error handling design: I/O errors, per-transaction
// validation errors, structural-invariant assertions, and the Sender
// control signals that ride the same channel as an error but are not one.
package coreerr

import (
	"fmt"
	"sync"
)

// Code is a closed enum of status codes. Validation codes are
// transaction-level and are attached to a receipt; they never propagate
// past block execution. I/O and structural codes are fatal to the
// operation in progress.
type Code uint16

const (
	Unknown Code = iota

	// I/O
	IOFailed
	BadMagic
	CapacityTooSmall
	VersionOutOfRange
	NotFound
	DuplicateKey
	VersionRegress

	// Sender/Receiver control signals. Not errors: carried through the
	// same channel as an error so a Receiver can switch on Code without
	// a second return value, but never surfaced to a caller above
	// Engine.Initiate.
	InitiationImmediatelyCompleted
	OperationMustBeReinitiated

	// Validation (transaction-level, attached to Receipt.Status)
	BadNonce
	InsufficientBalance
	IntrinsicGasTooLow
	MaxFeeBelowBase
	InvalidSignature
	BlobHashFormat
	TypeNotSupported
	InitCodeLimit
	NonceOverflow
	GasOverflow
	EmptyAuthorizationList

	// Structural invariant violation. Callers should treat encountering
	// this Code as evidence of a programming error; Assert below panics
	// rather than returning it.
	InvariantViolation
)

var names = map[Code]string{
	Unknown:                        "unknown",
	IOFailed:                       "io-failed",
	BadMagic:                       "bad-magic",
	CapacityTooSmall:               "capacity-too-small",
	VersionOutOfRange:              "version-out-of-range",
	NotFound:                       "not-found",
	DuplicateKey:                   "duplicate-key",
	VersionRegress:                 "version-regress",
	InitiationImmediatelyCompleted: "initiation-immediately-completed",
	OperationMustBeReinitiated:     "operation-must-be-reinitiated",
	BadNonce:                       "bad-nonce",
	InsufficientBalance:            "insufficient-balance",
	IntrinsicGasTooLow:             "intrinsic-gas-too-low",
	MaxFeeBelowBase:                "max-fee-below-base",
	InvalidSignature:               "invalid-signature",
	BlobHashFormat:                 "blob-hash-format",
	TypeNotSupported:               "type-not-supported",
	InitCodeLimit:                  "init-code-limit",
	NonceOverflow:                  "nonce-overflow",
	GasOverflow:                    "gas-overflow",
	EmptyAuthorizationList:         "empty-authorization-list",
	InvariantViolation:             "invariant-violation",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// IsControlSignal reports whether c is a Sender/Receiver protocol signal
// rather than a genuine failure (spec §7: "not errors but control
// signals carried through the same channel as errors").
func (c Code) IsControlSignal() bool {
	return c == InitiationImmediatelyCompleted || c == OperationMustBeReinitiated
}

// Error wraps a Code with the operation it occurred in, an optional typed
// Payload (bytes transferred for a control signal, or a domain value such
// as NonceTooLow), and the underlying cause if any.
type Error struct {
	Code    Code
	Op      string
	Payload any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, coreerr.IOFailed) style comparisons work by
// comparing codes directly via a sentinel wrapper; see Sentinel.
func (e *Error) Is(target error) bool {
	if s, ok := target.(*sentinel); ok {
		return e.Code == s.code
	}
	return false
}

// New builds an *Error for op with code c wrapping cause (which may be nil).
func New(op string, c Code, cause error) *Error {
	return &Error{Code: c, Op: op, Err: cause}
}

// WithPayload attaches a typed payload, e.g. a control signal's transferred
// byte count or a validation error's structured detail (NonceTooLow, etc).
func (e *Error) WithPayload(p any) *Error {
	e.Payload = p
	return e
}

type sentinel struct{ code Code }

func (s *sentinel) Error() string { return s.code.String() }

// Sentinel returns a comparable error value for use with errors.Is against
// any *Error carrying the same Code, regardless of Op/Err/Payload.
func Sentinel(c Code) error { return &sentinel{code: c} }

// NonceTooLow is the payload attached to a BadNonce error.
type NonceTooLow struct {
	Have, Want uint64
}

// InsufficientFunds is the payload attached to an InsufficientBalance error.
type InsufficientFunds struct {
	Have, Want string // decimal-rendered uint256, avoids importing uint256 here
}

// Assert panics with an InvariantViolation if cond is false. Structural
// invariants (§7) are assertions, never recoverable errors: a caller that
// hits one has a programming bug, not a runtime condition to handle.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(New("assert", InvariantViolation, fmt.Errorf(format, args...)))
	}
}

// arena is a small per-goroutine reusable slab for *Error allocations on
// hot validation paths, modeled on the original's thread-local sender-errc
// allocator (see SPEC_FULL.md §12). Go has no thread-locals, so reuse is
// keyed by a bounded sync.Pool instead of a TLS slot; nested allocation
// (the pool already lent out its slot) falls back to a plain `new`, exactly
// mirroring the original's "nested allocations fall back to system alloc"
// policy.
var arena = sync.Pool{New: func() any { return new(Error) }}

// NewFast is like New but serves the *Error from the per-goroutine arena
// when available, for use on the hot per-transaction validation path where
// most errors are short-lived (attached to a receipt, then discarded).
// Put must be called once the caller is done with the returned *Error.
func NewFast(op string, c Code, cause error) *Error {
	e, _ := arena.Get().(*Error)
	*e = Error{Code: c, Op: op, Err: cause}
	return e
}

// Put returns e to the arena. Safe to skip; it is only a reuse hint.
func Put(e *Error) {
	if e == nil {
		return
	}
	arena.Put(e)
}
