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
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/category-labs/monad-core/coreerr"
	"github.com/category-labs/monad-core/eventrecorder"
	"github.com/category-labs/monad-core/statedb"
)

// maxSpeculativeRetries bounds how many times a transaction is
// re-executed against an updated overlay after a conflicting read
// (spec.md §9 Open Question: "whether there is a bound after which the
// block is serialized ... is not stated"). Since BlockState.Overlay
// reflects every strictly-earlier transaction's writes and nothing else
// mutates it during a retry, one retry against the fresh overlay already
// carries the authoritative view; a second is allowed purely as a safety
// margin against a transaction whose own re-execution touches a key it
// had not read the first time. A third conflict is treated as a
// programming error rather than retried again.
const maxSpeculativeRetries = 2

// Host is the per-block EVM surface the Executor drives through
// statedb.PrecompileHost. The EVM interpreter itself is out of scope;
// Run is supplied by the embedding program and is responsible for
// interpreting tx against host and reporting the outcome.
type Host = statedb.PrecompileHost

// RunFunc executes one transaction's EVM logic against a speculative
// view, returning the logs it produced and the gas it consumed. A
// non-nil error is recorded as the transaction's failure status (EVM
// reverts are reported through RunResult.Reverted, which receiptFor
// records in the Receipt's Status as coreerr.InvariantViolation, not as
// a Go error, since a revert still consumes gas and commits a nonce
// bump).
type RunFunc func(spec *statedb.Speculative, host Host, tx *Transaction, rules Rules) (RunResult, error)

// RunResult is what a RunFunc reports back about one transaction's EVM
// execution.
type RunResult struct {
	GasUsed         uint64
	Logs            []Log
	ContractAddress *[20]byte
	Reverted        bool
}

// Config configures an Executor.
type Config struct {
	Schedule    ChainSchedule
	Blob        BlobGasSchedule
	Concurrency int // fiber-pool width for sender recovery and speculative execution
	Logger      log.Logger

	// Recorder, if non-nil, receives the block/transaction start/end
	// events of spec.md §4.7. Nil disables event emission entirely.
	Recorder *eventrecorder.Recorder
	// Clock supplies the epoch-nanosecond timestamp stamped on each
	// emitted event; defaults to time.Now().
	Clock clockFunc
}

// Executor runs the parallel, optimistic-concurrency block-execution
// pipeline of spec.md §4.6: parallel sender recovery, fiber-pool
// speculative execution, in-order merge-or-retry, and final receipt
// production.
type Executor struct {
	cfg Config
	run RunFunc
}

// New constructs an Executor over cfg, dispatching EVM execution to run.
func New(cfg Config, run RunFunc) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = log.Root()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Executor{cfg: cfg, run: run}
}

// attempt is one speculative execution of a transaction: its tentative
// state view, the RunResult it produced (if any), and any error.
type attempt struct {
	spec   *statedb.Speculative
	result RunResult
	err    error
}

// ExecuteBlock runs every transaction in txs against db at baseVersion,
// commits the result as newVersion, and returns one Receipt per
// transaction in order (spec.md §4.6, steps 1-4).
//
// Phase 1 recovers every sender concurrently (a transaction whose
// signature does not recover is simply revalidated and rejected later;
// this phase exists only to warm the memoized Sender so phase 2 does not
// serialize on secp256k1 recovery).
//
// Phase 2 speculatively executes every transaction concurrently against
// the common baseVersion, with no transaction able to observe another's
// writes yet.
//
// Phase 3 merges each transaction's speculative result into the block in
// index order: a transaction whose read set was stale (it overlaps an
// earlier transaction's writes, discovered only now that transactions
// commit strictly in order) is re-executed against the block's
// up-to-date overlay and re-checked, up to maxSpeculativeRetries times.
func (e *Executor) ExecuteBlock(db *statedb.StateDB, baseVersion, newVersion, blockNumber, blockTime uint64, txs []*Transaction, baseFee *uint256.Int) ([]*Receipt, error) {
	rules := RulesFor(e.cfg.Schedule.RevisionAt(blockNumber, blockTime))

	e.emitBlockStart(blockNumber, len(txs))
	e.recoverSendersParallel(txs)

	attempts, err := e.executeSpeculativeParallel(db, baseVersion, blockNumber, blockTime, rules, baseFee, txs)
	if err != nil {
		return nil, err
	}

	receipts, err := e.mergeInOrder(db, baseVersion, newVersion, blockNumber, blockTime, rules, baseFee, txs, attempts)
	if err != nil {
		return nil, err
	}
	var gasUsed uint64
	if len(receipts) > 0 {
		gasUsed = receipts[len(receipts)-1].CumulativeGasUsed
	}
	e.emitBlockEnd(blockNumber, gasUsed)
	return receipts, nil
}

// recoverSendersParallel warms every transaction's memoized sender
// address concurrently across the fiber pool (spec.md §4.6 step 1,
// "Sender recovery (parallel)"). Recovery failures are ignored here and
// surface again, authoritatively, during validation.
func (e *Executor) recoverSendersParallel(txs []*Transaction) {
	g := &errgroup.Group{}
	g.SetLimit(e.cfg.Concurrency)
	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			_, _ = tx.Sender()
			return nil
		})
	}
	_ = g.Wait()
}

// executeSpeculativeParallel runs every transaction's first speculative
// attempt concurrently against the shared, unmodified baseVersion
// (spec.md §4.6 step 3, "Submit each transaction to the fiber pool").
func (e *Executor) executeSpeculativeParallel(db *statedb.StateDB, baseVersion, blockNumber, blockTime uint64, rules Rules, baseFee *uint256.Int, txs []*Transaction) ([]attempt, error) {
	attempts := make([]attempt, len(txs))
	g := &errgroup.Group{}
	g.SetLimit(e.cfg.Concurrency)
	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			attempts[i] = e.attemptOnce(db, baseVersion, blockNumber, blockTime, rules, baseFee, tx, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attempts, nil
}

// attemptOnce validates and runs tx once against a fresh Speculative
// view, optionally layered with overlay (a retry after a conflict).
// Validation and EVM failures are captured in the attempt, not returned
// as a Go error: only a transaction's Speculative and outcome need to
// flow back to the in-order merge phase.
func (e *Executor) attemptOnce(db *statedb.StateDB, version, blockNumber, blockTime uint64, rules Rules, baseFee *uint256.Int, tx *Transaction, overlay map[string]statedb.Mutation) attempt {
	spec := statedb.NewSpeculativeWithOverlay(db, version, overlay)
	if err := ValidateTransaction(tx, rules, spec, baseFee); err != nil {
		return attempt{spec: spec, err: err}
	}
	host := statedb.NewPrecompileHost(spec, blockNumber, blockTime)
	result, err := e.run(spec, host, tx, rules)
	return attempt{spec: spec, result: result, err: err}
}

// mergeInOrder absorbs each transaction's speculative result into the
// block in index order, re-executing against the up-to-date overlay
// whenever a conflict is discovered (spec.md §4.6 step 3, "Wait on the
// previous transaction's promise; attempt to merge. On conflict,
// re-execute from scratch"). Cumulative gas is filled in as a second
// pass over the merged receipts, matching the original's two-pass gas
// accounting.
func (e *Executor) mergeInOrder(db *statedb.StateDB, baseVersion, newVersion, blockNumber, blockTime uint64, rules Rules, baseFee *uint256.Int, txs []*Transaction, attempts []attempt) ([]*Receipt, error) {
	block := statedb.NewBlockState(db, baseVersion)
	receipts := make([]*Receipt, len(txs))

	for i, tx := range txs {
		e.emitTxStart(blockNumber, i)
		a := attempts[i]
		retries := 0
		for ; a.err == nil && block.Conflicts(a.spec); retries++ {
			if retries >= maxSpeculativeRetries {
				a.err = coreerr.New("executor.execute", coreerr.InvariantViolation, nil)
				break
			}
			a = e.attemptOnce(db, baseVersion, blockNumber, blockTime, rules, baseFee, tx, block.Overlay())
		}

		receipts[i] = receiptFor(a)
		if a.err == nil {
			block.Absorb(a.spec)
		}
		e.emitTxEnd(blockNumber, i, uint16(receipts[i].Status), receipts[i].GasUsed, retries)
	}

	cumulative := uint64(0)
	for i, r := range receipts {
		cumulative += r.GasUsed
		r.CumulativeGasUsed = cumulative
		block.AbsorbMutation(statedb.PutReceipt(blockNumber, uint32(i), r.encode()))
	}

	if err := block.Flush(newVersion); err != nil {
		return nil, err
	}
	return receipts, nil
}

// receiptFor turns a merged attempt into its Receipt: Status is Unknown
// (success) unless validation or EVM execution failed, in which case it
// names the coreerr.Code responsible and the transaction consumes no gas
// beyond what ValidateTransaction already charges against the sender
// upstream of this core's scope.
func receiptFor(a attempt) *Receipt {
	if a.err != nil {
		return &Receipt{Status: codeOf(a.err)}
	}
	status := coreerr.Unknown
	if a.result.Reverted {
		status = coreerr.InvariantViolation // EVM revert: out of this core's error enumeration, reuses the generic failure code
	}
	return &Receipt{
		Status:          status,
		GasUsed:         a.result.GasUsed,
		Logs:            a.result.Logs,
		ContractAddress: a.result.ContractAddress,
	}
}

func codeOf(err error) coreerr.Code {
	if ce, ok := err.(*coreerr.Error); ok {
		return ce.Code
	}
	return coreerr.InvariantViolation
}
