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

// Package executor implements the parallel block executor of spec.md
// §4.6: optimistic per-transaction execution, in-order commit, and the
// revision-dispatched EVM fork table.
package executor

import "sync"

// safePromise pairs a value channel with a sync.Once-guarded close,
// supplementing the original's workaround for a future being read by one
// side while the producing side may have already abandoned it (spec.md
// Design Notes; see SPEC_FULL.md §12 "boost_fiber_workarounds.hpp"). Go's
// channels already make a bare send/receive safe, but closing twice (a
// worker panicking mid-transaction, then the scheduler cancelling the
// same slot) is not — Once guards exactly that double-close.
type safePromise struct {
	once sync.Once
	ch   chan struct{}
	val  any
	err  error
}

func newSafePromise() *safePromise {
	return &safePromise{ch: make(chan struct{})}
}

// resolve stores (val, err) and wakes every waiter; safe to call at most
// meaningfully once, harmless if called again (only the first call's
// value is kept).
func (p *safePromise) resolve(val any, err error) {
	p.once.Do(func() {
		p.val, p.err = val, err
		close(p.ch)
	})
}

// wait blocks until resolve has been called and returns its value.
func (p *safePromise) wait() (any, error) {
	<-p.ch
	return p.val, p.err
}
